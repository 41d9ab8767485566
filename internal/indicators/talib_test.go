package indicators

import (
	"testing"
	"time"

	"github.com/quantdesk/backtest-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	price := 100.0
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		price += float64(i%5) - 2
		date := start.AddDate(0, 0, i)
		bars[i] = domain.Bar{
			Date: domain.FormatDate(date),
			Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1000,
		}
	}
	return bars
}

func TestComputeSMA(t *testing.T) {
	bars := sampleBars(30)
	spec := domain.IndicatorSpec{Ticker: "SPY", Name: "SMA", Params: []domain.ParamKV{{"period", 5}}}
	out, err := compute(spec, bars)
	require.NoError(t, err)
	assert.Len(t, out, len(bars))
}

func TestComputeRSI(t *testing.T) {
	bars := sampleBars(30)
	spec := domain.IndicatorSpec{Ticker: "SPY", Name: "RSI"}
	out, err := compute(spec, bars)
	require.NoError(t, err)
	assert.Len(t, out, len(bars))
}

func TestComputeVolatilityAndReturn(t *testing.T) {
	bars := sampleBars(30)

	volSpec := domain.IndicatorSpec{Ticker: "SPY", Name: "VOLATILITY", Params: []domain.ParamKV{{"period", 10}}}
	out, err := compute(volSpec, bars)
	require.NoError(t, err)
	assert.Len(t, out, len(bars))

	retSpec := domain.IndicatorSpec{Ticker: "SPY", Name: "RETURN", Params: []domain.ParamKV{{"period", 5}}}
	out, err = compute(retSpec, bars)
	require.NoError(t, err)
	assert.Len(t, out, len(bars))
}

func TestComputePPOLineSignalHist(t *testing.T) {
	bars := sampleBars(120)

	lineSpec := domain.IndicatorSpec{Ticker: "SPY", Name: "PPO"}
	line, err := compute(lineSpec, bars)
	require.NoError(t, err)
	require.Len(t, line, len(bars))

	sigSpec := domain.IndicatorSpec{Ticker: "SPY", Name: "PPO_SIGNAL"}
	signal, err := compute(sigSpec, bars)
	require.NoError(t, err)
	require.Len(t, signal, len(bars))

	histSpec := domain.IndicatorSpec{Ticker: "SPY", Name: "PPO_HIST"}
	hist, err := compute(histSpec, bars)
	require.NoError(t, err)
	require.Len(t, hist, len(bars))

	// Once both the line and its signal have warmed up, the histogram is
	// exactly their difference at every index.
	last := len(bars) - 1
	assert.InDelta(t, line[last]-signal[last], hist[last], 1e-9)
}

func TestComputeUnknownIndicator(t *testing.T) {
	bars := sampleBars(10)
	spec := domain.IndicatorSpec{Ticker: "SPY", Name: "NOT_REAL"}
	_, err := compute(spec, bars)
	assert.Error(t, err)
}

func TestClosesHighsLowsVolumesOf(t *testing.T) {
	bars := []domain.Bar{
		{Date: "d0", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		{Date: "d1", Open: 2, High: 3, Low: 1.5, Close: 2.5, Volume: 200},
	}
	assert.Equal(t, []float64{1.5, 2.5}, closesOf(bars))
	assert.Equal(t, []float64{2, 3}, highsOf(bars))
	assert.Equal(t, []float64{0.5, 1.5}, lowsOf(bars))
	assert.Equal(t, []float64{100, 200}, volumesOf(bars))
}
