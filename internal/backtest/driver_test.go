package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/quantdesk/backtest-engine/internal/domain"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyLookup satisfies strategy.Lookup for ticker-only trees (no Gate,
// Scale, or Sort node needs an indicator value).
type emptyLookup struct{}

func (emptyLookup) Get(specKey, date string) (float64, bool) { return 0, false }

func buildPrices(t *testing.T, dates []string, spy, a []float64) *domain.PriceSeries {
	t.Helper()
	series := domain.NewPriceSeries()
	for i, d := range dates {
		series.Put(BenchmarkTicker, domain.Bar{Date: d, Open: spy[i], High: spy[i], Low: spy[i], Close: spy[i], Volume: 1})
		series.Put("A", domain.Bar{Date: d, Open: a[i], High: a[i], Low: a[i], Close: a[i], Volume: 1})
	}
	return series
}

func TestRunProducesEquityAndBenchmarkCurves(t *testing.T) {
	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08"}
	spy := []float64{100, 101, 99, 103, 104}
	a := []float64{50, 52, 51, 55, 54}
	prices := buildPrices(t, dates, spy, a)

	root := domain.StrategyElement{ID: "t1", Kind: domain.KindTicker, Symbol: "A"}

	result, err := Run(context.Background(), emptyLookup{}, root, prices, dates)
	require.NoError(t, err)

	assert.Equal(t, dates, result.Dates)
	assert.Len(t, result.EquityCurve, len(dates))
	assert.Len(t, result.BenchmarkCurve, len(dates))
	assert.Equal(t, 1.0, result.EquityCurve[0].Equity)
	assert.Equal(t, 1.0, result.BenchmarkCurve[0].Equity)
	assert.Len(t, result.DailyPositions, len(dates)-1)

	expectedFinal := a[len(a)-1] / a[0]
	assert.InDelta(t, expectedFinal, result.EquityCurve[len(result.EquityCurve)-1].Equity, 1e-9)
}

func TestRunTooShortGridErrors(t *testing.T) {
	prices := buildPrices(t, []string{"2024-01-02"}, []float64{100}, []float64{50})
	root := domain.StrategyElement{ID: "t1", Kind: domain.KindTicker, Symbol: "A"}

	_, err := Run(context.Background(), emptyLookup{}, root, prices, []string{"2024-01-02"})
	assert.Error(t, err)
}

// BenchmarkFlat is a warning-only regression guard (spec §7/§9) — a flat
// benchmark must not abort the run; it still returns full curves and
// metrics, with the condition surfaced in Result.Warnings.
func TestRunFlatBenchmarkIsWarningNotFatal(t *testing.T) {
	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04"}
	spy := []float64{100, 100, 100} // zero variance
	a := []float64{50, 52, 51}
	prices := buildPrices(t, dates, spy, a)
	root := domain.StrategyElement{ID: "t1", Kind: domain.KindTicker, Symbol: "A"}

	result, err := Run(context.Background(), emptyLookup{}, root, prices, dates)
	require.NoError(t, err)
	assert.Len(t, result.EquityCurve, len(dates))
	assert.Len(t, result.BenchmarkCurve, len(dates))
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "BenchmarkFlat")
}

func TestRunMissingBenchmarkAtStartErrors(t *testing.T) {
	prices := domain.NewPriceSeries()
	prices.Put("A", domain.Bar{Date: "2024-01-02", Close: 50})
	prices.Put("A", domain.Bar{Date: "2024-01-03", Close: 51})
	root := domain.StrategyElement{ID: "t1", Kind: domain.KindTicker, Symbol: "A"}

	_, err := Run(context.Background(), emptyLookup{}, root, prices, []string{"2024-01-02", "2024-01-03"})
	assert.Error(t, err)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	spy := []float64{100, 101, 99, 103}
	a := []float64{50, 52, 51, 55}
	prices := buildPrices(t, dates, spy, a)
	root := domain.StrategyElement{ID: "t1", Kind: domain.KindTicker, Symbol: "A"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, emptyLookup{}, root, prices, dates)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeMetricsOnFlatCurveHasZeroVolatilityAndSharpe(t *testing.T) {
	curve := domain.Curve{
		{Date: "d0", Equity: 1.0},
		{Date: "d1", Equity: 1.0},
		{Date: "d2", Equity: 1.0},
	}
	metrics := computeMetrics(curve)
	assert.Equal(t, 0.0, metrics.TotalReturn)
	assert.Equal(t, 0.0, metrics.AnnualizedVolatility)
	assert.Equal(t, 0.0, metrics.Sharpe)
}

func TestComputeSortinoOnlyUsesNegativeReturns(t *testing.T) {
	allPositive := []float64{0.01, 0.02, 0.03}
	assert.Equal(t, 0.0, computeSortino(allPositive, 0.1))

	mixed := []float64{0.02, -0.01, -0.03}
	sortino := computeSortino(mixed, 0.1)
	assert.NotEqual(t, 0.0, sortino)
}

// S6 — CAGR: over a grid of 252 trading days with equity monotonically
// rising 1.0 -> 1.10, totalReturn=0.10, CAGR≈0.10, and maxDrawdown=0 since
// the curve never dips below a prior peak.
func TestScenarioS6CAGR(t *testing.T) {
	const n = 252
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	curve := make(domain.Curve, n)
	for i := 0; i < n; i++ {
		equity := 1.0 + 0.10*float64(i)/float64(n-1)
		curve[i] = domain.EquityPoint{Date: domain.FormatDate(start.AddDate(0, 0, i)), Equity: equity}
	}

	metrics := computeMetrics(curve)
	assert.InDelta(t, 0.10, metrics.TotalReturn, 1e-9)
	assert.InDelta(t, 0.10, metrics.CAGR, 0.02)
	assert.Equal(t, 0.0, metrics.MaxDrawdown)
}

var _ strategy.Lookup = emptyLookup{}
