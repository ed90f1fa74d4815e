package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConverter(t *testing.T) {
	genesis := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("rejects zero duration", func(t *testing.T) {
		_, err := NewConverter(genesis, 0)
		require.Error(t, err)
	})

	t.Run("rejects sub-second duration", func(t *testing.T) {
		_, err := NewConverter(genesis, 1500*time.Millisecond)
		require.Error(t, err)
	})

	t.Run("rejects zero genesis", func(t *testing.T) {
		_, err := NewConverter(time.Time{}, time.Hour)
		require.Error(t, err)
	})
}

func TestConversionRoundTrip(t *testing.T) {
	genesis := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := NewConverter(genesis, 30*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), c.At(genesis))
	assert.Equal(t, uint64(0), c.At(genesis.Add(30*24*time.Hour-time.Second)))
	assert.Equal(t, uint64(1), c.At(genesis.Add(30*24*time.Hour)))
	assert.Equal(t, uint64(12), c.At(genesis.Add(12*30*24*time.Hour)))

	assert.True(t, c.StartTime(0).Equal(genesis))
	assert.True(t, c.StartTime(5).Equal(genesis.Add(5*30*24*time.Hour)))

	// Period start is always inside its own period.
	for _, p := range []uint64{0, 1, 7, 100} {
		assert.Equal(t, p, c.At(c.StartTime(p)))
	}
}

func TestBeforeGenesisClampsToZero(t *testing.T) {
	genesis := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := NewConverter(genesis, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), c.At(genesis.Add(-time.Hour)))
}
