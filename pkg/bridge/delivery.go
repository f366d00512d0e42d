package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/keelson-go/envelope-bridge/pkg/timestamp"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
)

// Delivery is one uncovered envelope together with where it was received.
//
// Key is only meaningful when Keyed is true, that is when Topic parsed as a topic key.
type Delivery struct {
	ID         uuid.UUID
	Topic      string
	Key        topickey.Key
	Keyed      bool
	Payload    []byte
	EnclosedAt timestamp.Timestamp
	ReceivedAt timestamp.Timestamp
}

// Latency is the time between enclosure and receipt. It is negative when the
// publisher clock runs ahead of the local one.
func (d Delivery) Latency() time.Duration {
	return d.ReceivedAt.Sub(d.EnclosedAt)
}

// Sink consumes deliveries. An error is returned to the transport, which decides
// whether the message is retried.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

type SinkFunc func(ctx context.Context, d Delivery) error

func (f SinkFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }

// MultiSink delivers to every sink in order and joins their errors. A failing sink
// does not stop later ones.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, d Delivery) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
