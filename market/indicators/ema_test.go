package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMASeedsWithFirstClose(t *testing.T) {
	t.Parallel()

	e := NewEMA(3)
	e.Update(10)
	assert.Equal(t, 10.0, e.Value())
	assert.False(t, e.Ready())
}

func TestEMASmoothing(t *testing.T) {
	t.Parallel()

	// Period 3 gives alpha 0.5, so each step is a plain midpoint.
	e := NewEMA(3)
	e.Update(10)
	e.Update(20)
	assert.InDelta(t, 15, e.Value(), 1e-9)
	e.Update(30)
	assert.InDelta(t, 22.5, e.Value(), 1e-9)
}

func TestEMAReadyAfterWarmup(t *testing.T) {
	t.Parallel()

	e := NewEMA(3)
	require.Equal(t, 3, e.Warmup())

	e.Update(10)
	e.Update(10)
	assert.False(t, e.Ready())
	e.Update(10)
	assert.True(t, e.Ready())
}

func TestEMAReset(t *testing.T) {
	t.Parallel()

	e := NewEMA(3)
	for i := 0; i < 5; i++ {
		e.Update(float64(10 + i))
	}
	require.True(t, e.Ready())

	e.Reset()
	assert.False(t, e.Ready())
	assert.Zero(t, e.Value())

	e.Update(42)
	assert.Equal(t, 42.0, e.Value())
}

func TestEMAName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "EMA(9)", NewEMA(9).Name())
}

func TestEMARejectsBadPeriod(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewEMA(0) })
}
