// Package timestamp provides the seconds+nanos point-in-time used by envelope frames.
//
// A Timestamp mirrors the google.protobuf.Timestamp wire type: a signed count of
// seconds since the Unix epoch plus a non-negative nanosecond offset. The nanosecond
// component is always normalized into [0, 1e9), so pre-epoch instants carry a negative
// Seconds value and a positive Nanos value.
package timestamp

import (
	"errors"
	"fmt"
	"time"
)

const nanosPerSecond = int64(time.Second)

// Representable range of the wire type: 0001-01-01T00:00:00Z .. 9999-12-31T23:59:59Z.
const (
	MinSeconds int64 = -62135596800
	MaxSeconds int64 = 253402300799
)

var (
	ErrOutOfRange   = errors.New("timestamp seconds out of representable range")
	ErrInvalidNanos = errors.New("timestamp nanos out of range [0, 1e9)")
)

// Timestamp is a point in time as whole seconds plus nanoseconds since the Unix epoch.
type Timestamp struct {
	Seconds int64  `json:"seconds"`
	Nanos   uint32 `json:"nanos"`
}

// New builds a Timestamp, carrying any nanos outside [0, 1e9) into seconds.
func New(seconds, nanos int64) Timestamp {
	seconds += nanos / nanosPerSecond
	nanos %= nanosPerSecond
	if nanos < 0 {
		seconds--
		nanos += nanosPerSecond
	}
	return Timestamp{Seconds: seconds, Nanos: uint32(nanos)}
}

// FromTime converts t, keeping its full nanosecond precision.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: uint32(t.Nanosecond())}
}

// FromUnixMilli converts milliseconds since the epoch, truncating toward negative
// infinity so that -1ms becomes {Seconds: -1, Nanos: 999000000}.
func FromUnixMilli(ms int64) Timestamp {
	seconds := ms / 1000
	rem := ms % 1000
	if rem < 0 {
		seconds--
		rem += 1000
	}
	return Timestamp{Seconds: seconds, Nanos: uint32(rem * int64(time.Millisecond))}
}

// Time returns the instant as a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

// UnixMilli returns milliseconds since the epoch, truncating sub-millisecond nanos.
func (t Timestamp) UnixMilli() int64 {
	return t.Seconds*1000 + int64(t.Nanos)/int64(time.Millisecond)
}

// Validate reports whether t can be carried on the wire.
func (t Timestamp) Validate() error {
	if int64(t.Nanos) >= nanosPerSecond {
		return fmt.Errorf("%w: %d", ErrInvalidNanos, t.Nanos)
	}
	if t.Seconds < MinSeconds || t.Seconds > MaxSeconds {
		return fmt.Errorf("%w: %d", ErrOutOfRange, t.Seconds)
	}
	return nil
}

// IsZero reports whether t is the Unix epoch.
func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Nanos == 0
}

// Equal reports whether t and u are the same instant.
func (t Timestamp) Equal(u Timestamp) bool {
	return t == u
}

// Before reports whether t is strictly earlier than u.
func (t Timestamp) Before(u Timestamp) bool {
	if t.Seconds != u.Seconds {
		return t.Seconds < u.Seconds
	}
	return t.Nanos < u.Nanos
}

// Sub returns t-u. The result saturates at the time.Duration bounds.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return t.Time().Sub(u.Time())
}

// String formats t as RFC3339 with nanoseconds, in UTC.
func (t Timestamp) String() string {
	return t.Time().Format(time.RFC3339Nano)
}

// Clock is the wall-clock source used to stamp enclosure and receipt times.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// Now reads clock as a Timestamp. A nil clock falls back to SystemClock.
func Now(clock Clock) Timestamp {
	if clock == nil {
		clock = SystemClock{}
	}
	return FromTime(clock.Now())
}
