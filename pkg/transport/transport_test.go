package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQoS(t *testing.T) {
	t.Parallel()
	for _, v := range []int{0, 1, 2} {
		q, err := ParseQoS(v)
		require.NoError(t, err)
		assert.Equal(t, QoS(v), q)
	}
	for _, v := range []int{-1, 3, 255} {
		_, err := ParseQoS(v)
		require.ErrorIs(t, err, ErrInvalidQoS)
	}
}

func TestQoS_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1", AtLeastOnce.String())
}
