// Package sortruntime implements the Sort Runtime (C6): before the main
// simulation loop, every Sort node's children are simulated standalone to
// produce a synthetic equity curve, which is then fed to the Indicator
// Computer so the Sort's own ranking indicator can be evaluated against it.
package sortruntime

import (
	"context"
	"fmt"

	"github.com/quantdesk/backtest-engine/internal/domain"
	"github.com/quantdesk/backtest-engine/internal/indicators"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/internal/warmup"
)

// descriptor is one Sort node found in the tree, tagged with its nesting
// depth so descriptors can be processed deepest-first.
type descriptor struct {
	node  domain.StrategyElement
	depth int
}

// collect walks the tree gathering every Sort node along with its depth.
func collect(el domain.StrategyElement, depth int, out *[]descriptor) {
	switch el.Kind {
	case domain.KindWeight:
		for _, c := range el.Children {
			collect(c, depth+1, out)
		}
	case domain.KindGate:
		for _, c := range el.ThenChildren {
			collect(c, depth+1, out)
		}
		for _, c := range el.ElseChildren {
			collect(c, depth+1, out)
		}
	case domain.KindScale:
		for _, c := range el.FromChildren {
			collect(c, depth+1, out)
		}
		for _, c := range el.ToChildren {
			collect(c, depth+1, out)
		}
	case domain.KindSort:
		*out = append(*out, descriptor{node: el, depth: depth})
		for _, c := range el.SortChildren {
			collect(c, depth+1, out)
		}
	}
}

// Precompute finds every Sort in root, processes them deepest-first so an
// outer Sort's child simulation can already see any inner Sort's synthetic
// series, and injects each child's synthetic indicator series into series
// under "SORT_<sortId>_<childId>|<indicator>|<fingerprint>". It returns the
// latest first-valid date across every synthetic series produced, which the
// caller uses to further trim the simulation grid (spec §4.6).
func Precompute(ctx context.Context, series *domain.IndicatorSeries, root domain.StrategyElement, prices *domain.PriceSeries, grid []string) (string, error) {
	var descriptors []descriptor
	collect(root, 0, &descriptors)

	// Deepest first: simple insertion sort by descending depth, stable so
	// siblings at equal depth keep tree order.
	for i := 1; i < len(descriptors); i++ {
		for j := i; j > 0 && descriptors[j].depth > descriptors[j-1].depth; j-- {
			descriptors[j], descriptors[j-1] = descriptors[j-1], descriptors[j]
		}
	}

	latest := ""
	client := indicators.LocalClient{}

	for _, d := range descriptors {
		for _, child := range d.node.SortChildren {
			childGrid := grid
			if child.Kind != domain.KindTicker {
				result, err := warmup.Calculate(child, prices)
				if err == nil {
					childGrid = trimGrid(grid, result.EffectiveStart)
				}
			}

			curve, err := simulateChild(series, child, prices, childGrid)
			if err != nil {
				return "", fmt.Errorf("simulate sort child %s: %w", child.ID, err)
			}

			syntheticTicker := fmt.Sprintf("SORT_%s_%s", d.node.ID, child.ID)
			bars := curveToBars(syntheticTicker, curve)

			values, err := client.Compute(ctx, domain.IndicatorSpec{
				Ticker: syntheticTicker,
				Name:   d.node.SortIndicator.Name,
				Params: d.node.SortIndicator.Params,
			}, bars)
			if err != nil {
				return "", fmt.Errorf("compute sort indicator for child %s: %w", child.ID, err)
			}

			specKey := (domain.IndicatorSpec{Ticker: syntheticTicker, Name: d.node.SortIndicator.Name, Params: d.node.SortIndicator.Params}).Key()
			firstDate := ""
			for date, value := range values {
				series.Set(specKey, date, value)
				if firstDate == "" || date < firstDate {
					firstDate = date
				}
			}
			if firstDate > latest {
				latest = firstDate
			}
		}
	}

	return latest, nil
}

// trimGrid drops every date before effectiveStart.
func trimGrid(grid []string, effectiveStart string) []string {
	for i, date := range grid {
		if date >= effectiveStart {
			return grid[i:]
		}
	}
	return nil
}

// simulateChild runs child as a standalone 100%-weight strategy across
// childGrid, computing day-over-day returns from its positions, and
// accrues a synthetic equity curve starting at 1.0.
func simulateChild(series *domain.IndicatorSeries, child domain.StrategyElement, prices *domain.PriceSeries, childGrid []string) (domain.Curve, error) {
	if len(childGrid) < 2 {
		return nil, fmt.Errorf("insufficient grid length %d for child %s", len(childGrid), child.ID)
	}

	curve := make(domain.Curve, 0, len(childGrid))
	equity := 1.0
	curve = append(curve, domain.EquityPoint{Date: childGrid[0], Equity: equity})

	for i := 1; i < len(childGrid); i++ {
		decisionDate := childGrid[i-1]
		executionDate := childGrid[i]

		result := strategy.Execute(series, child, 100, decisionDate)
		positions := strategy.Finalize(result)

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
		curve = append(curve, domain.EquityPoint{Date: executionDate, Equity: equity})
	}

	return curve, nil
}

// curveToBars renders an equity curve as a synthetic OHLCV series (single
// value per day; volume 0) so the Indicator Computer's talib wrappers —
// which all key off the close array for these indicator kinds — can run on
// it unmodified.
func curveToBars(ticker string, curve domain.Curve) []domain.Bar {
	bars := make([]domain.Bar, len(curve))
	for i, pt := range curve {
		bars[i] = domain.Bar{Date: pt.Date, Open: pt.Equity, High: pt.Equity, Low: pt.Equity, Close: pt.Equity, Volume: 0}
	}
	return bars
}
