package server

import (
	"github.com/quantdesk/backtest-engine/internal/backtest"
	"github.com/quantdesk/backtest-engine/internal/strategy"
)

type metricsResponse struct {
	TotalReturn          float64 `json:"totalReturn"`
	CAGR                 float64 `json:"cagr"`
	AnnualizedVolatility float64 `json:"annualizedVolatility"`
	Sharpe               float64 `json:"sharpe"`
	Sortino              float64 `json:"sortino"`
	MaxDrawdown          float64 `json:"maxDrawdown"`
}

func toMetricsResponse(m backtest.Metrics) metricsResponse {
	return metricsResponse{
		TotalReturn:          m.TotalReturn,
		CAGR:                 m.CAGR,
		AnnualizedVolatility: m.AnnualizedVolatility,
		Sharpe:               m.Sharpe,
		Sortino:              m.Sortino,
		MaxDrawdown:          m.MaxDrawdown,
	}
}

type benchmarkResponse struct {
	Dates       []string        `json:"dates"`
	EquityCurve []float64       `json:"equityCurve"`
	Metrics     metricsResponse `json:"metrics"`
}

// startDateAdjustment reports that the requested start predates the
// strategy's warmup requirement (spec §6).
type startDateAdjustment struct {
	RequestedStart string `json:"requestedStart"`
	AdjustedStart  string `json:"adjustedStart"`
	Reason         string `json:"reason"`
}

type backtestResponse struct {
	Dates               []string               `json:"dates"`
	EquityCurve         []float64              `json:"equityCurve"`
	Benchmark           benchmarkResponse      `json:"benchmark"`
	Metrics             metricsResponse        `json:"metrics"`
	DailyPositions      []map[string]any       `json:"dailyPositions"`
	StartDateAdjustment *startDateAdjustment   `json:"startDateAdjustment,omitempty"`
	Warnings            []string               `json:"warnings,omitempty"`
}

func toResponse(result backtest.Result, adjustment *startDateAdjustment, warnings []strategy.ValidationWarning) backtestResponse {
	dailyPositions := make([]map[string]any, len(result.DailyPositions))
	for i, dp := range result.DailyPositions {
		record := map[string]any{"date": dp.Date}
		for _, pos := range dp.Positions {
			record[pos.Ticker] = pos.Weight
		}
		dailyPositions[i] = record
	}

	var warningStrings []string
	for _, w := range warnings {
		warningStrings = append(warningStrings, w.Message)
	}
	warningStrings = append(warningStrings, result.Warnings...)

	return backtestResponse{
		Dates:       result.Dates,
		EquityCurve: result.EquityCurve.Values(),
		Benchmark: benchmarkResponse{
			Dates:       result.BenchmarkCurve.Dates(),
			EquityCurve: result.BenchmarkCurve.Values(),
			Metrics:     toMetricsResponse(result.BenchmarkMetrics),
		},
		Metrics:             toMetricsResponse(result.Metrics),
		DailyPositions:      dailyPositions,
		StartDateAdjustment: adjustment,
		Warnings:            warningStrings,
	}
}
