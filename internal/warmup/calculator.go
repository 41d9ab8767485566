// Package warmup implements the Warmup / Effective-Start Calculator (C4):
// derives the earliest date a strategy can legitimately run, given ticker
// data availability and the cumulative historical depth its deepest
// indicator chain needs.
package warmup

import (
	"fmt"
	"math"

	"github.com/quantdesk/backtest-engine/internal/domain"
)

// safetyBuffer is added to the root total per the base-warmup rule.
const safetyBuffer = 10

// calendarFactor approximates trading-day warmup in calendar days (weekend
// approximation); preserved rather than replaced with a real trading
// calendar.
const calendarFactor = 1.4

// Result is the calculator's output: the effective start date plus enough
// of a breakdown to build a user-visible adjustment message.
type Result struct {
	EffectiveStart         string
	WarmupTradingDays      int
	WarmupCalendarDays     int
	MostRestrictiveTickers []string
	CulpritElementID       string
}

// contribution threads (warmup trading days, culprit element id) through
// the recursion so the caller can report which single element drove the
// root total.
type contribution struct {
	days    int
	culprit string
}

func (c contribution) max(other contribution) contribution {
	if other.days > c.days {
		return other
	}
	return c
}

// basePeriod returns an indicator's base warmup in trading days (spec §4.4).
func basePeriod(spec domain.IndicatorSpec) int {
	spec = spec.WithDefaults()
	switch spec.Name {
	case "RSI", "SMA", "EMA", "ATR", "ADX", "MFI", "VOLATILITY", "RETURN":
		period, _ := spec.ParamValue("period")
		return period
	case "MACD":
		slow, _ := spec.ParamValue("slow")
		signal, _ := spec.ParamValue("signal")
		return slow + signal
	case "PPO":
		// PPO line only needs the slow EMA/SMA window (spec §4.4).
		slow, _ := spec.ParamValue("slow")
		return slow
	case "PPO_SIGNAL", "PPO_HIST":
		// Signal/histogram are derived from the line, so they also need the
		// signal-period smoothing applied on top (spec §4.4).
		slow, _ := spec.ParamValue("slow")
		signal, _ := spec.ParamValue("signal")
		return slow + signal
	case "BBANDS":
		period, _ := spec.ParamValue("period")
		return period + 2
	case "STOCH":
		fastK, _ := spec.ParamValue("fastk")
		slowK, _ := spec.ParamValue("slowk")
		return fastK + slowK
	case "AROON":
		period, _ := spec.ParamValue("period")
		return 2 * period
	default:
		return 0
	}
}

// elementWarmup recurses over the tree computing each node's own trading-day
// warmup contribution per §4.4's rules.
func elementWarmup(el domain.StrategyElement) contribution {
	switch el.Kind {
	case domain.KindTicker:
		return contribution{days: 0, culprit: el.ID}

	case domain.KindWeight:
		return maxOverChildren(el.Children, contribution{days: 0, culprit: el.ID})

	case domain.KindGate:
		own := 0
		for _, cond := range el.Conditions {
			if cond.LHS.Name != "" {
				if p := basePeriod(cond.LHS); p > own {
					own = p
				}
			}
			if cond.RHS.IsIndicator && cond.RHS.Indicator.Name != "" {
				if p := basePeriod(cond.RHS.Indicator); p > own {
					own = p
				}
			}
		}
		children := maxOverChildren(el.ThenChildren, contribution{days: 0, culprit: el.ID})
		children = children.max(maxOverChildren(el.ElseChildren, contribution{days: 0, culprit: el.ID}))
		return contribution{days: own, culprit: el.ID}.max(children)

	case domain.KindScale:
		own := basePeriod(el.ScaleIndicator)
		children := maxOverChildren(el.FromChildren, contribution{days: 0, culprit: el.ID})
		children = children.max(maxOverChildren(el.ToChildren, contribution{days: 0, culprit: el.ID}))
		return contribution{days: own, culprit: el.ID}.max(children)

	case domain.KindSort:
		childMax := maxOverChildren(el.SortChildren, contribution{days: 0, culprit: el.ID})
		own := basePeriod(el.SortIndicator)
		return contribution{days: childMax.days + own, culprit: el.ID}

	default:
		return contribution{days: 0, culprit: el.ID}
	}
}

func maxOverChildren(children []domain.StrategyElement, fallback contribution) contribution {
	best := fallback
	for _, child := range children {
		best = best.max(elementWarmup(child))
	}
	return best
}

// tickersOf collects every distinct ticker symbol referenced by the tree.
func tickersOf(el domain.StrategyElement, out map[string]struct{}) {
	switch el.Kind {
	case domain.KindTicker:
		out[el.Symbol] = struct{}{}
	case domain.KindWeight:
		for _, c := range el.Children {
			tickersOf(c, out)
		}
	case domain.KindGate:
		for _, c := range el.ThenChildren {
			tickersOf(c, out)
		}
		for _, c := range el.ElseChildren {
			tickersOf(c, out)
		}
	case domain.KindScale:
		for _, c := range el.FromChildren {
			tickersOf(c, out)
		}
		for _, c := range el.ToChildren {
			tickersOf(c, out)
		}
	case domain.KindSort:
		for _, c := range el.SortChildren {
			tickersOf(c, out)
		}
	}
}

// Calculate derives the effective start date for root against prices, per
// spec §4.4.
func Calculate(root domain.StrategyElement, prices *domain.PriceSeries) (Result, error) {
	rootContribution := elementWarmup(root)
	tradingDays := rootContribution.days + safetyBuffer
	calendarDays := int(math.Ceil(float64(tradingDays) * calendarFactor))

	tickerSet := make(map[string]struct{})
	tickersOf(root, tickerSet)
	if len(tickerSet) == 0 {
		return Result{}, fmt.Errorf("strategy references no tickers")
	}

	var latest string
	var restrictive []string
	for ticker := range tickerSet {
		first := prices.FirstDate(ticker)
		if first == "" {
			return Result{}, fmt.Errorf("no price history for ticker %s", ticker)
		}
		switch {
		case latest == "" || first > latest:
			latest = first
			restrictive = []string{ticker}
		case first == latest:
			restrictive = append(restrictive, ticker)
		}
	}

	latestDate, err := domain.ParseDate(latest)
	if err != nil {
		return Result{}, fmt.Errorf("parse latest ticker first date: %w", err)
	}
	effective := latestDate.AddDate(0, 0, calendarDays)

	return Result{
		EffectiveStart:         domain.FormatDate(effective),
		WarmupTradingDays:      tradingDays,
		WarmupCalendarDays:     calendarDays,
		MostRestrictiveTickers: restrictive,
		CulpritElementID:       rootContribution.culprit,
	}, nil
}
