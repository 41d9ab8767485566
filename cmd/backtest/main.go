// Command backtest is a CLI wrapper around the core engine (spec §6): it
// reads a strategy JSON file and a date window from flags, runs the C1-C8
// pipeline directly (no HTTP hop), prints the result, and maps the
// resulting apperrors.Kind to an exit code.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quantdesk/backtest-engine/internal/apperrors"
	"github.com/quantdesk/backtest-engine/internal/backtest"
	"github.com/quantdesk/backtest-engine/internal/cache"
	"github.com/quantdesk/backtest-engine/internal/clients/marketdata"
	"github.com/quantdesk/backtest-engine/internal/config"
	"github.com/quantdesk/backtest-engine/internal/domain"
	"github.com/quantdesk/backtest-engine/internal/indicators"
	"github.com/quantdesk/backtest-engine/internal/prices"
	"github.com/quantdesk/backtest-engine/internal/sortruntime"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/internal/warmup"
	"github.com/quantdesk/backtest-engine/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	strategyPath := flag.String("strategy", "", "path to a strategy tree JSON file")
	startDate := flag.String("start", "max", "backtest start date (YYYY-MM-DD or 'max')")
	endDate := flag.String("end", "", "backtest end date (YYYY-MM-DD, defaults to today)")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})

	if *strategyPath == "" {
		fmt.Fprintln(os.Stderr, "missing -strategy")
		return apperrors.InvalidStrategy.ExitCode()
	}

	raw, err := os.ReadFile(*strategyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read strategy file: %v\n", err)
		return apperrors.InvalidStrategy.ExitCode()
	}

	var root domain.StrategyElement
	if err := decodeElement(raw, &root); err != nil {
		fmt.Fprintf(os.Stderr, "parse strategy file: %v\n", err)
		return apperrors.InvalidStrategy.ExitCode()
	}

	validation := strategy.Validate(root)
	if !validation.Valid() {
		fmt.Fprintf(os.Stderr, "invalid strategy: %v\n", validation.AsError())
		return apperrors.InvalidStrategy.ExitCode()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return apperrors.Internal.ExitCode()
	}

	cacheStore, err := cache.NewSQLiteStore(cfg.CacheDBPath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open cache: %v\n", err)
		return apperrors.Internal.ExitCode()
	}
	defer cacheStore.Close()

	vendorClient := marketdata.New(cfg.VendorBaseURL, cfg.VendorAPIKey, log)
	fetcher := prices.New(cacheStore, vendorClient, log)
	indicatorEngine := indicators.New(cacheStore, nil, log)

	end := *endDate
	if end == "" {
		end = domain.FormatDate(time.Now())
	}
	start := *startDate
	if start == "max" {
		start = "1970-01-01"
	}

	ctx := context.Background()

	result, err := execute(ctx, fetcher, indicatorEngine, root, start, end)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", appErr.Kind, appErr.Message)
			return appErr.Kind.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "internal error: %v\n", err)
		return apperrors.Internal.ExitCode()
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal result: %v\n", err)
		return apperrors.Internal.ExitCode()
	}
	fmt.Println(string(out))
	return 0
}

// execute drives the same C2-C7 pipeline the HTTP handler does.
func execute(ctx context.Context, fetcher *prices.Fetcher, engine *indicators.Engine, root domain.StrategyElement, start, end string) (backtest.Result, error) {
	tickers := collectTickers(root)
	tickers = appendUnique(tickers, backtest.BenchmarkTicker)

	priceSeries, err := fetcher.Fetch(ctx, tickers, start, end)
	if err != nil {
		return backtest.Result{}, err
	}

	warmupResult, err := warmup.Calculate(root, priceSeries)
	if err != nil {
		return backtest.Result{}, apperrors.Wrap(apperrors.InsufficientWarmup, "warmup calculation failed", err)
	}

	grid := filterGrid(priceSeries.Dates(backtest.BenchmarkTicker), warmupResult.EffectiveStart)
	if len(grid) < 2 {
		return backtest.Result{}, apperrors.New(apperrors.InsufficientWarmup, "fewer than 2 trading days remain after warmup")
	}

	specs := collectIndicatorSpecs(root)
	barsByTicker := make(map[string][]domain.Bar, len(tickers))
	for _, t := range tickers {
		barsByTicker[t] = priceSeries.Bars(t)
	}

	series, _ := engine.Resolve(ctx, specs, barsByTicker)

	latestSynthetic, err := sortruntime.Precompute(ctx, series, root, priceSeries, grid)
	if err != nil {
		return backtest.Result{}, apperrors.Wrap(apperrors.IndicatorComputeFailed, "sort runtime precompute failed", err)
	}
	if latestSynthetic != "" {
		grid = filterGrid(grid, latestSynthetic)
	}
	if len(grid) < 2 {
		return backtest.Result{}, apperrors.New(apperrors.InsufficientWarmup, "fewer than 2 trading days remain after sort runtime precompute")
	}

	return backtest.Run(ctx, series, root, priceSeries, grid)
}

func filterGrid(grid []string, start string) []string {
	for i, date := range grid {
		if date >= start {
			return grid[i:]
		}
	}
	return nil
}

func appendUnique(tickers []string, ticker string) []string {
	for _, t := range tickers {
		if t == ticker {
			return tickers
		}
	}
	return append(tickers, ticker)
}

func collectTickers(el domain.StrategyElement) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(domain.StrategyElement)
	walk = func(e domain.StrategyElement) {
		switch e.Kind {
		case domain.KindTicker:
			if e.Symbol != "" && !seen[e.Symbol] {
				seen[e.Symbol] = true
				out = append(out, e.Symbol)
			}
		case domain.KindWeight:
			for _, c := range e.Children {
				walk(c)
			}
		case domain.KindGate:
			for _, c := range e.ThenChildren {
				walk(c)
			}
			for _, c := range e.ElseChildren {
				walk(c)
			}
		case domain.KindScale:
			for _, c := range e.FromChildren {
				walk(c)
			}
			for _, c := range e.ToChildren {
				walk(c)
			}
		case domain.KindSort:
			for _, c := range e.SortChildren {
				walk(c)
			}
		}
	}
	walk(el)
	return out
}

func collectIndicatorSpecs(el domain.StrategyElement) []domain.IndicatorSpec {
	var out []domain.IndicatorSpec
	var walk func(domain.StrategyElement)
	walk = func(e domain.StrategyElement) {
		switch e.Kind {
		case domain.KindWeight:
			for _, c := range e.Children {
				walk(c)
			}
		case domain.KindGate:
			for _, cond := range e.Conditions {
				out = append(out, cond.LHS)
				if cond.RHS.IsIndicator {
					out = append(out, cond.RHS.Indicator)
				}
			}
			for _, c := range e.ThenChildren {
				walk(c)
			}
			for _, c := range e.ElseChildren {
				walk(c)
			}
		case domain.KindScale:
			out = append(out, e.ScaleIndicator)
			for _, c := range e.FromChildren {
				walk(c)
			}
			for _, c := range e.ToChildren {
				walk(c)
			}
		case domain.KindSort:
			for _, c := range e.SortChildren {
				walk(c)
			}
		}
	}
	walk(el)
	return out
}
