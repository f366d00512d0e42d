package timestamp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Normalizes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		seconds int64
		nanos   int64
		want    Timestamp
	}{
		{name: "in range", seconds: 10, nanos: 5, want: Timestamp{Seconds: 10, Nanos: 5}},
		{name: "carry positive", seconds: 10, nanos: 1_500_000_000, want: Timestamp{Seconds: 11, Nanos: 500_000_000}},
		{name: "borrow negative", seconds: 10, nanos: -1, want: Timestamp{Seconds: 9, Nanos: 999_999_999}},
		{name: "exact second", seconds: 0, nanos: -1_000_000_000, want: Timestamp{Seconds: -1, Nanos: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.seconds, tt.nanos))
		})
	}
}

func TestFromUnixMilli(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ms   int64
		want Timestamp
	}{
		{name: "epoch", ms: 0, want: Timestamp{}},
		{name: "positive", ms: 1_700_000_000_500, want: Timestamp{Seconds: 1_700_000_000, Nanos: 500_000_000}},
		{name: "pre-epoch floors", ms: -1, want: Timestamp{Seconds: -1, Nanos: 999_000_000}},
		{name: "pre-epoch whole second", ms: -2000, want: Timestamp{Seconds: -2, Nanos: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FromUnixMilli(tt.ms)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ms, got.UnixMilli())
		})
	}
}

func TestFromTime_RoundTrip(t *testing.T) {
	t.Parallel()
	in := time.Date(2023, 11, 14, 22, 13, 20, 123456789, time.UTC)
	ts := FromTime(in)
	assert.Equal(t, int64(1_700_000_000), ts.Seconds)
	assert.Equal(t, uint32(123456789), ts.Nanos)
	assert.True(t, in.Equal(ts.Time()))
	assert.Equal(t, "2023-11-14T22:13:20.123456789Z", ts.String())
}

func TestValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, Timestamp{Seconds: MinSeconds}.Validate())
	require.NoError(t, Timestamp{Seconds: MaxSeconds, Nanos: 999_999_999}.Validate())
	require.ErrorIs(t, Timestamp{Seconds: MaxSeconds + 1}.Validate(), ErrOutOfRange)
	require.ErrorIs(t, Timestamp{Seconds: MinSeconds - 1}.Validate(), ErrOutOfRange)
	require.ErrorIs(t, Timestamp{Nanos: 1_000_000_000}.Validate(), ErrInvalidNanos)
}

func TestOrdering(t *testing.T) {
	t.Parallel()
	a := Timestamp{Seconds: 5, Nanos: 10}
	b := Timestamp{Seconds: 5, Nanos: 11}
	c := Timestamp{Seconds: 6}
	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.False(t, c.Before(a))
	assert.True(t, a.Equal(Timestamp{Seconds: 5, Nanos: 10}))
	assert.Equal(t, time.Nanosecond, b.Sub(a))
	assert.Equal(t, -time.Second+10*time.Nanosecond, a.Sub(c))
	assert.True(t, Timestamp{}.IsZero())
}

func TestNow_UsesClock(t *testing.T) {
	t.Parallel()
	fixed := time.Unix(1_700_000_000, 42)
	assert.Equal(t, Timestamp{Seconds: 1_700_000_000, Nanos: 42}, Now(FixedClock(fixed)))

	before := time.Now()
	got := Now(nil)
	after := time.Now()
	assert.False(t, got.Time().Before(before.Truncate(time.Nanosecond)))
	assert.False(t, got.Time().After(after))
}

func TestJSON(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(Timestamp{Seconds: 1_700_000_000, Nanos: 500_000_000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seconds":1700000000,"nanos":500000000}`, string(b))
}
