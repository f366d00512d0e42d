package envelope

import (
	"github.com/keelson-go/envelope-bridge/pkg/timestamp"
)

// Envelope is a payload paired with the instant it was enclosed.
type Envelope struct {
	EnclosedAt timestamp.Timestamp
	Payload    []byte
}

// Uncovered is the result of decoding a frame. ReceivedAt is stamped locally at decode
// time and is never read from the frame.
type Uncovered struct {
	EnclosedAt timestamp.Timestamp
	ReceivedAt timestamp.Timestamp
	Payload    []byte
}

// Codec encodes and decodes envelope frames using an injected clock.
type Codec struct {
	clock timestamp.Clock
}

type Option func(*Codec)

// WithClock replaces the system clock used for default enclosure and receipt times.
func WithClock(clock timestamp.Clock) Option {
	return func(c *Codec) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{clock: timestamp.SystemClock{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCodec = NewCodec()

// Encode frames payload with the system clock. See Codec.Encode.
func Encode(payload []byte, enclosedAt *timestamp.Timestamp) ([]byte, error) {
	return defaultCodec.Encode(payload, enclosedAt)
}

// Decode unframes a frame with the system clock. See Codec.Decode.
func Decode(frame []byte) (Uncovered, error) {
	return defaultCodec.Decode(frame)
}

// Encode frames payload. When enclosedAt is nil the codec clock is read. The payload
// is copied into the frame byte for byte and is not modified.
func (c *Codec) Encode(payload []byte, enclosedAt *timestamp.Timestamp) ([]byte, error) {
	var ts timestamp.Timestamp
	if enclosedAt != nil {
		ts = *enclosedAt
	} else {
		ts = timestamp.Now(c.clock)
	}
	return c.EncodeEnvelope(Envelope{EnclosedAt: ts, Payload: payload})
}

// EncodeEnvelope frames an already stamped envelope.
func (c *Codec) EncodeEnvelope(env Envelope) ([]byte, error) {
	if err := env.EnclosedAt.Validate(); err != nil {
		return nil, &EncodeError{Reason: "enclosed_at not representable", Err: err}
	}
	return appendFrame(make([]byte, 0, frameSize(env)), env), nil
}

// Decode parses frame and stamps the receipt time. It never returns a partially
// populated result: on error the Uncovered value is zero.
func (c *Codec) Decode(frame []byte) (Uncovered, error) {
	receivedAt := timestamp.Now(c.clock)
	env, err := parseFrame(frame)
	if err != nil {
		return Uncovered{}, err
	}
	return Uncovered{
		EnclosedAt: env.EnclosedAt,
		ReceivedAt: receivedAt,
		Payload:    env.Payload,
	}, nil
}
