package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// QoS is the requested delivery guarantee. Backends without native levels map it to
// the closest acknowledgement mode they have.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

var (
	ErrInvalidQoS = errors.New("invalid qos")
	ErrClosed     = errors.New("transport closed")
)

// ParseQoS accepts 0, 1 or 2.
func ParseQoS(v int) (QoS, error) {
	if v < int(AtMostOnce) || v > int(ExactlyOnce) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQoS, v)
	}
	return QoS(v), nil
}

func (q QoS) String() string { return strconv.Itoa(int(q)) }

// Msg is one outbound message.
//
// Topic identifies the destination topic.
// Value contains the encoded frame.
// Retain asks the broker to keep the message for future subscribers.
type Msg struct {
	Topic  string
	Value  []byte
	QoS    QoS
	Retain bool
}

// Handler receives one inbound message. The payload is owned by the handler.
type Handler func(ctx context.Context, topic string, payload []byte) error

type Publisher interface {
	// Publish sends a message to the underlying broker.
	//
	// Implementations may block until delivery is confirmed or fail early
	// depending on the requested QoS and the underlying system.
	Publish(ctx context.Context, msg Msg) error

	// Close stops the publisher and releases all resources.
	//
	// Implementations may block while flushing in-flight messages. Canceling the
	// context may result in message loss depending on the implementation.
	Close(ctx context.Context)
}

type Subscriber interface {
	// Subscribe registers h for every message whose topic matches filter.
	Subscribe(ctx context.Context, filter string, qos QoS, h Handler) error

	Close(ctx context.Context)
}

// Runner is implemented by subscribers that need a caller-owned receive loop. Run
// blocks until ctx is done or a fatal error occurs.
type Runner interface {
	Run(ctx context.Context) error
}

// ErrorReporter is implemented by transports that surface fatal errors asynchronously.
type ErrorReporter interface {
	Errors() <-chan error
}
