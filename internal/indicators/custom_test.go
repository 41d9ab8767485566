package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollingReturn(t *testing.T) {
	closes := []float64{100, 110, 121, 100}
	out := rollingReturn(closes, 2)

	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 0.21, out[2], 1e-9) // (121-100)/100
	assert.InDelta(t, -0.0909, out[3], 1e-4)
}

func TestRollingReturnZeroStartSkipped(t *testing.T) {
	closes := []float64{0, 0, 5}
	out := rollingReturn(closes, 2)
	assert.True(t, math.IsNaN(out[2]), "division by zero start leaves NaN")
}

func TestRollingVolatilityShortPeriod(t *testing.T) {
	out := rollingVolatility([]float64{100, 101, 102}, 1)
	for _, v := range out {
		assert.True(t, math.IsNaN(v), "period < 2 yields all-NaN series")
	}
}

func TestRollingVolatilityComputesAfterWarmup(t *testing.T) {
	closes := []float64{100, 101, 99, 102, 98, 103}
	out := rollingVolatility(closes, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, math.IsNaN(out[i]))
	}
	for i := 3; i < len(out); i++ {
		assert.False(t, math.IsNaN(out[i]))
		assert.GreaterOrEqual(t, out[i], 0.0)
	}
}

func TestDailyReturns(t *testing.T) {
	returns := dailyReturns([]float64{100, 110, 99})
	require := assert.New(t)
	require.InDelta(0.10, returns[0], 1e-9)
	require.InDelta(-0.10, returns[1], 1e-9)
}

func TestDailyReturnsShortInput(t *testing.T) {
	assert.Nil(t, dailyReturns(nil))
	assert.Nil(t, dailyReturns([]float64{100}))
}

func TestMeanAndStdDev(t *testing.T) {
	data := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, mean(data), 1e-9)
	assert.InDelta(t, 2.0, stdDev(data), 1e-9)

	assert.Equal(t, 0.0, mean(nil))
	assert.Equal(t, 0.0, stdDev(nil))
}
