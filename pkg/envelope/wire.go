package envelope

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/keelson-go/envelope-bridge/pkg/timestamp"
)

// Field numbers of core.Envelope and google.protobuf.Timestamp.
const (
	fieldEnclosedAt protowire.Number = 1
	fieldPayload    protowire.Number = 2

	fieldSeconds protowire.Number = 1
	fieldNanos   protowire.Number = 2
)

// Field names reported in DecodeError.
const (
	FieldEnclosedAt = "enclosed_at"
	FieldPayload    = "payload"
)

func appendFrame(b []byte, env Envelope) []byte {
	b = protowire.AppendTag(b, fieldEnclosedAt, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(sizeTimestamp(env.EnclosedAt)))
	b = appendTimestamp(b, env.EnclosedAt)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	return protowire.AppendBytes(b, env.Payload)
}

func frameSize(env Envelope) int {
	tsSize := sizeTimestamp(env.EnclosedAt)
	return protowire.SizeTag(fieldEnclosedAt) + protowire.SizeBytes(tsSize) +
		protowire.SizeTag(fieldPayload) + protowire.SizeBytes(len(env.Payload))
}

// Zero seconds and nanos are omitted, matching canonical proto3 output.
func appendTimestamp(b []byte, ts timestamp.Timestamp) []byte {
	if ts.Seconds != 0 {
		b = protowire.AppendTag(b, fieldSeconds, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ts.Seconds))
	}
	if ts.Nanos != 0 {
		b = protowire.AppendTag(b, fieldNanos, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ts.Nanos))
	}
	return b
}

func sizeTimestamp(ts timestamp.Timestamp) int {
	n := 0
	if ts.Seconds != 0 {
		n += protowire.SizeTag(fieldSeconds) + protowire.SizeVarint(uint64(ts.Seconds))
	}
	if ts.Nanos != 0 {
		n += protowire.SizeTag(fieldNanos) + protowire.SizeVarint(uint64(ts.Nanos))
	}
	return n
}

// parseFrame walks every field of b. Repeated occurrences of a known field follow
// protobuf merge rules: the payload is last-one-wins and timestamp fields merge.
func parseFrame(b []byte) (Envelope, error) {
	var (
		env        Envelope
		hasEnclose bool
		hasPayload bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, malformed("", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldEnclosedAt:
			if typ != protowire.BytesType {
				return Envelope{}, malformed(FieldEnclosedAt, fmt.Errorf("unexpected wire type %d", typ))
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, malformed(FieldEnclosedAt, protowire.ParseError(n))
			}
			if err := mergeTimestamp(&env.EnclosedAt, v); err != nil {
				return Envelope{}, malformed(FieldEnclosedAt, err)
			}
			hasEnclose = true
			b = b[n:]

		case fieldPayload:
			if typ != protowire.BytesType {
				return Envelope{}, malformed(FieldPayload, fmt.Errorf("unexpected wire type %d", typ))
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, malformed(FieldPayload, protowire.ParseError(n))
			}
			env.Payload = bytes.Clone(v)
			if env.Payload == nil {
				env.Payload = []byte{}
			}
			hasPayload = true
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, malformed("", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !hasEnclose {
		return Envelope{}, missing(FieldEnclosedAt)
	}
	if !hasPayload {
		return Envelope{}, missing(FieldPayload)
	}
	if err := env.EnclosedAt.Validate(); err != nil {
		return Envelope{}, malformed(FieldEnclosedAt, err)
	}
	return env, nil
}

func mergeTimestamp(ts *timestamp.Timestamp, b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if (num == fieldSeconds || num == fieldNanos) && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldSeconds {
				ts.Seconds = int64(v)
				continue
			}
			nanos := int32(v)
			if nanos < 0 || nanos >= 1_000_000_000 {
				return fmt.Errorf("%w: %d", timestamp.ErrInvalidNanos, nanos)
			}
			ts.Nanos = uint32(nanos)
			continue
		}
		if num == fieldSeconds || num == fieldNanos {
			return fmt.Errorf("unexpected wire type %d for timestamp field %d", typ, num)
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}
