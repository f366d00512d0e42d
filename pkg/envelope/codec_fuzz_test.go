package envelope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keelson-go/envelope-bridge/pkg/timestamp"
)

// FuzzDecode feeds arbitrary bytes to Decode.
// Run with: go test -fuzz=FuzzDecode -fuzztime=30s ./pkg/envelope/
func FuzzDecode(f *testing.F) {
	ts := timestamp.Timestamp{Seconds: 1_700_000_000, Nanos: 500_000_000}
	valid, err := Encode([]byte{0x01, 0x02, 0x03}, &ts)
	require.NoError(f, err)

	f.Add(valid)
	f.Add(valid[:len(valid)/2])
	f.Add([]byte{})
	f.Add([]byte{0x0a, 0x00, 0x12, 0x00})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, frame []byte) {
		got, err := Decode(frame)
		if err != nil {
			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "unexpected error type %T", err)
			require.Equal(t, Uncovered{}, got)
			return
		}
		require.NoError(t, got.EnclosedAt.Validate())
		require.NotNil(t, got.Payload)
	})
}

// FuzzRoundTrip checks that every representable envelope survives encoding.
// Run with: go test -fuzz=FuzzRoundTrip -fuzztime=30s ./pkg/envelope/
func FuzzRoundTrip(f *testing.F) {
	f.Add([]byte("payload"), int64(1_700_000_000), uint32(500_000_000))
	f.Add([]byte{}, int64(0), uint32(0))
	f.Add([]byte{0x00}, int64(-1), uint32(999_000_000))

	f.Fuzz(func(t *testing.T, payload []byte, seconds int64, nanos uint32) {
		ts := timestamp.Timestamp{Seconds: seconds, Nanos: nanos}
		frame, err := Encode(payload, &ts)
		if ts.Validate() != nil {
			require.ErrorIs(t, err, ErrEncode)
			return
		}
		require.NoError(t, err)

		got, err := Decode(frame)
		require.NoError(t, err)
		require.Equal(t, ts, got.EnclosedAt)
		require.Equal(t, len(payload), len(got.Payload))
		require.Equal(t, string(payload), string(got.Payload))
	})
}
