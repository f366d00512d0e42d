package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/envelope"
	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

// Uncoverer decodes received frames and passes them to a Sink. Its Handle method is a
// transport.Handler.
type Uncoverer struct {
	log     *zap.SugaredLogger
	codec   *envelope.Codec
	sink    Sink
	metrics *metrics.Metrics
	newID   func() uuid.UUID

	deadLetter      transport.Publisher
	deadLetterTopic string
}

type UncovererOption func(*Uncoverer)

// WithDeadLetter republishes undecodable frames, unchanged, to topic/<original topic>.
// Frames received on a topic already below topic are never dead-lettered again.
func WithDeadLetter(pub transport.Publisher, topic string) UncovererOption {
	return func(u *Uncoverer) {
		u.deadLetter = pub
		u.deadLetterTopic = topic
	}
}

// WithIDGenerator replaces uuid.New for delivery IDs.
func WithIDGenerator(f func() uuid.UUID) UncovererOption {
	return func(u *Uncoverer) { u.newID = f }
}

// NewUncoverer creates an Uncoverer. A nil codec uses the system clock.
func NewUncoverer(
	log *zap.SugaredLogger,
	codec *envelope.Codec,
	sink Sink,
	m *metrics.Metrics,
	opts ...UncovererOption,
) *Uncoverer {
	if codec == nil {
		codec = envelope.NewCodec()
	}
	u := &Uncoverer{log: log, codec: codec, sink: sink, metrics: m, newID: uuid.New}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Handle decodes frame and delivers it. Undecodable frames are logged, counted and
// dropped with a nil error so one bad message never stops a subscription. Sink errors
// are returned.
func (u *Uncoverer) Handle(ctx context.Context, topic string, frame []byte) error {
	un, err := u.codec.Decode(frame)
	if err != nil {
		kind := envelope.KindMalformed.String()
		var de *envelope.DecodeError
		if errors.As(err, &de) {
			kind = de.Kind.String()
		}
		u.metrics.RecordUncovered(kind, len(frame))
		u.log.Warnw("dropping undecodable frame", "topic", topic, "kind", kind, "error", err)
		u.publishDeadLetter(ctx, topic, frame)
		return nil
	}
	u.metrics.RecordUncovered(metrics.StatusSuccess, len(frame))

	key, keyed := topickey.Parse(topic)
	if !keyed {
		u.metrics.IncUnkeyed()
		u.log.Debugw("topic is not a topic key", "topic", topic)
	}

	d := Delivery{
		ID:         u.newID(),
		Topic:      topic,
		Key:        key,
		Keyed:      keyed,
		Payload:    un.Payload,
		EnclosedAt: un.EnclosedAt,
		ReceivedAt: un.ReceivedAt,
	}
	u.metrics.ObserveDeliveryLatency(d.Latency())

	if err := u.sink.Deliver(ctx, d); err != nil {
		u.metrics.IncSinkErrors()
		return fmt.Errorf("deliver %s: %w", topic, err)
	}
	return nil
}

func (u *Uncoverer) publishDeadLetter(ctx context.Context, topic string, frame []byte) {
	if u.deadLetter == nil {
		return
	}
	if strings.HasPrefix(topic, u.deadLetterTopic+topickey.Separator) {
		u.log.Warnw("not dead-lettering a dead-lettered frame", "topic", topic)
		return
	}
	dlTopic := u.deadLetterTopic + topickey.Separator + topic
	err := u.deadLetter.Publish(ctx, transport.Msg{Topic: dlTopic, Value: frame, QoS: transport.AtLeastOnce})
	u.metrics.RecordDeadLetter(err)
	if err != nil {
		u.log.Errorw("failed to dead-letter frame", "topic", topic, "deadLetterTopic", dlTopic, "error", err)
	}
}
