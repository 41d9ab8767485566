// Package backtest implements the Simulation Driver (C7): the day-by-day
// loop that turns a resolved indicator lookup and a validated strategy tree
// into an equity curve, a benchmark curve, and summary metrics.
package backtest

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/quantdesk/backtest-engine/internal/apperrors"
	"github.com/quantdesk/backtest-engine/internal/domain"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/pkg/formulas"
)

// BenchmarkTicker is the fixed benchmark used for the buy-and-hold
// comparison curve (spec §2: "+SPY as benchmark").
const BenchmarkTicker = "SPY"

// Metrics summarizes one equity curve (spec §4.7).
type Metrics struct {
	TotalReturn          float64
	CAGR                 float64
	AnnualizedVolatility float64
	Sharpe               float64
	Sortino              float64
	MaxDrawdown          float64
}

// DailyPosition is one date's resolved allocation, for the response's
// dailyPositions[] (spec §6).
type DailyPosition struct {
	Date      string
	Positions []domain.Position
}

// Result is the driver's full output for one backtest request.
type Result struct {
	Dates            []string
	EquityCurve      domain.Curve
	BenchmarkCurve   domain.Curve
	Metrics          Metrics
	BenchmarkMetrics Metrics
	DailyPositions   []DailyPosition
	Warnings         []string
}

// Run executes the day-by-day loop over grid (already trimmed to the
// effective start and to the Sort Runtime's latest synthetic first-valid
// date) against prices, reading indicator values from series.
func Run(ctx context.Context, series strategy.Lookup, root domain.StrategyElement, prices *domain.PriceSeries, grid []string) (Result, error) {
	if len(grid) < 2 {
		return Result{}, apperrors.New(apperrors.InsufficientWarmup, "simulation grid has fewer than 2 trading days")
	}

	equity := 1.0
	benchmarkStart, ok := prices.Bar(BenchmarkTicker, grid[0])
	if !ok || benchmarkStart.Close == 0 {
		return Result{}, apperrors.New(apperrors.InsufficientWarmup, "missing benchmark price at grid start")
	}

	equityCurve := make(domain.Curve, 0, len(grid))
	benchmarkCurve := make(domain.Curve, 0, len(grid))
	dailyPositions := make([]DailyPosition, 0, len(grid)-1)

	equityCurve = append(equityCurve, domain.EquityPoint{Date: grid[0], Equity: equity})
	benchmarkCurve = append(benchmarkCurve, domain.EquityPoint{Date: grid[0], Equity: 1.0})

	for i := 1; i < len(grid); i++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		decisionDate := grid[i-1]
		executionDate := grid[i]

		result := strategy.Execute(series, root, 100, decisionDate)
		if len(result.Errors) > 0 && i == 1 {
			return Result{}, apperrors.Wrap(apperrors.InsufficientWarmup, "required indicator unavailable at first decision date", result.Errors[0])
		}

		positions := strategy.Finalize(result)
		dailyPositions = append(dailyPositions, DailyPosition{Date: executionDate, Positions: positions})

		dailyReturn := 0.0
		for _, pos := range positions {
			decisionBar, ok1 := prices.Bar(pos.Ticker, decisionDate)
			executionBar, ok2 := prices.Bar(pos.Ticker, executionDate)
			if !ok1 || !ok2 || decisionBar.Close == 0 {
				continue
			}
			dailyReturn += (pos.Weight / 100) * (executionBar.Close/decisionBar.Close - 1)
		}
		equity *= 1 + dailyReturn
		equityCurve = append(equityCurve, domain.EquityPoint{Date: executionDate, Equity: equity})

		benchBar, ok := prices.Bar(BenchmarkTicker, executionDate)
		if ok && benchBar.Close != 0 {
			benchmarkCurve = append(benchmarkCurve, domain.EquityPoint{Date: executionDate, Equity: benchBar.Close / benchmarkStart.Close})
		} else if len(benchmarkCurve) > 0 {
			benchmarkCurve = append(benchmarkCurve, domain.EquityPoint{Date: executionDate, Equity: benchmarkCurve[len(benchmarkCurve)-1].Equity})
		}
	}

	// BenchmarkFlat is a warning-only regression guard (spec §4.7/§9, §7
	// taxonomy: "Warning, not fatal") — it never aborts the run.
	var warnings []string
	benchmarkVariance := stat.Variance(benchmarkCurve.DailyReturns(), nil)
	if benchmarkVariance == 0 {
		warnings = append(warnings, apperrors.New(apperrors.BenchmarkFlat, "benchmark curve has zero variance over the simulation window").Error())
	}

	return Result{
		Dates:            equityCurve.Dates(),
		EquityCurve:      equityCurve,
		BenchmarkCurve:   benchmarkCurve,
		Metrics:          computeMetrics(equityCurve),
		BenchmarkMetrics: computeMetrics(benchmarkCurve),
		DailyPositions:   dailyPositions,
		Warnings:         warnings,
	}, nil
}

// computeMetrics derives CAGR/Sharpe/Sortino/max-drawdown/volatility from
// an equity curve, generalizing the teacher's single-portfolio formulas in
// pkg/formulas to operate on any normalized equity series.
func computeMetrics(curve domain.Curve) Metrics {
	values := curve.Values()
	n := len(values)
	if n < 2 {
		return Metrics{}
	}

	totalReturn := values[n-1]/values[0] - 1
	years := float64(n-1) / 252
	cagr := math.Pow(1+totalReturn, 1/years) - 1

	dailyReturns := curve.DailyReturns()
	volatility := formulas.AnnualizedVolatility(dailyReturns)

	sharpe := 0.0
	if volatility != 0 {
		sharpe = cagr / volatility
	}

	sortino := computeSortino(dailyReturns, cagr)

	maxDrawdown := 0.0
	if dd := formulas.CalculateMaxDrawdown(values); dd != nil {
		maxDrawdown = *dd
	}

	return Metrics{
		TotalReturn:          totalReturn,
		CAGR:                 cagr,
		AnnualizedVolatility: volatility,
		Sharpe:               sharpe,
		Sortino:              sortino,
		MaxDrawdown:          maxDrawdown,
	}
}

// computeSortino restricts the Sharpe-style computation to negative daily
// returns, per spec §4.7 ("identical computation restricted to negative
// daily returns").
func computeSortino(dailyReturns []float64, cagr float64) float64 {
	var negative []float64
	for _, r := range dailyReturns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		return 0
	}
	downsideVol := formulas.AnnualizedVolatility(negative)
	if downsideVol == 0 {
		return 0
	}
	return cagr / downsideVol
}
