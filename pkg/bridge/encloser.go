package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/envelope"
	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/timestamp"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

// ErrNoTopic is returned when neither the caller nor PublishConfig names a topic.
var ErrNoTopic = errors.New("no topic to publish to")

// PublishConfig holds the publish options applied to every enclosed payload.
type PublishConfig struct {
	DefaultTopic string
	QoS          transport.QoS
	Retain       bool
}

// Encloser wraps payloads in envelopes and publishes the frames.
type Encloser struct {
	log     *zap.SugaredLogger
	pub     transport.Publisher
	codec   *envelope.Codec
	cfg     PublishConfig
	metrics *metrics.Metrics
}

// NewEncloser creates an Encloser. A nil codec uses the system clock.
func NewEncloser(
	log *zap.SugaredLogger,
	pub transport.Publisher,
	codec *envelope.Codec,
	cfg PublishConfig,
	m *metrics.Metrics,
) *Encloser {
	if codec == nil {
		codec = envelope.NewCodec()
	}
	return &Encloser{log: log, pub: pub, codec: codec, cfg: cfg, metrics: m}
}

// Enclose stamps payload with the current time and publishes it to topic, or to the
// default topic when topic is empty.
func (e *Encloser) Enclose(ctx context.Context, topic string, payload any) error {
	return e.enclose(ctx, topic, payload, nil)
}

// EncloseAt is Enclose with an explicit enclosure time.
func (e *Encloser) EncloseAt(ctx context.Context, topic string, payload any, at timestamp.Timestamp) error {
	return e.enclose(ctx, topic, payload, &at)
}

// EncloseKey publishes payload to the topic constructed from key.
func (e *Encloser) EncloseKey(ctx context.Context, key topickey.Key, payload any) error {
	topic, err := key.Topic()
	if err != nil {
		e.metrics.RecordEnclose(err, 0, 0)
		return err
	}
	return e.enclose(ctx, topic, payload, nil)
}

func (e *Encloser) enclose(ctx context.Context, topic string, payload any, at *timestamp.Timestamp) (err error) {
	start := time.Now()
	var frame []byte
	defer func() { e.metrics.RecordEnclose(err, len(frame), time.Since(start)) }()

	if topic == "" {
		topic = e.cfg.DefaultTopic
	}
	if topic == "" {
		return ErrNoTopic
	}

	b, err := envelope.PayloadBytes(payload)
	if err != nil {
		return err
	}
	frame, err = e.codec.Encode(b, at)
	if err != nil {
		return err
	}

	msg := transport.Msg{Topic: topic, Value: frame, QoS: e.cfg.QoS, Retain: e.cfg.Retain}
	if err = e.pub.Publish(ctx, msg); err != nil {
		e.log.Errorw("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	e.log.Debugw("published envelope", "topic", topic, "frameBytes", len(frame), "qos", e.cfg.QoS)
	return nil
}
