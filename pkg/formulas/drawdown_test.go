package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMaxDrawdownTooShort(t *testing.T) {
	assert.Nil(t, CalculateMaxDrawdown([]float64{1.0}))
	assert.Nil(t, CalculateMaxDrawdown(nil))
}

func TestCalculateMaxDrawdownFindsPeakToTroughDrop(t *testing.T) {
	values := []float64{1.0, 1.2, 0.9, 1.1, 0.6, 0.8}
	dd := CalculateMaxDrawdown(values)
	require.NotNil(t, dd)
	// peak 1.2 -> trough 0.6 = 50% drawdown
	assert.InDelta(t, 0.5, *dd, 1e-9)
}

func TestCalculateMaxDrawdownMonotonicIncreaseIsZero(t *testing.T) {
	dd := CalculateMaxDrawdown([]float64{1.0, 1.1, 1.2, 1.3})
	require.NotNil(t, dd)
	assert.Equal(t, 0.0, *dd)
}
