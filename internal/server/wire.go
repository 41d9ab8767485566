package server

import (
	"fmt"
	"sort"

	"github.com/quantdesk/backtest-engine/internal/domain"
)

// wireIndicatorSpec is the JSON shape of domain.IndicatorSpec: params arrive
// as a plain object since the wire format has no notion of canonical
// parameter order (domain.IndicatorSpec.WithDefaults restores it for known
// indicators on first use).
type wireIndicatorSpec struct {
	Ticker string         `json:"ticker"`
	Name   string         `json:"name"`
	Params map[string]int `json:"params"`
}

func (w wireIndicatorSpec) toDomain() domain.IndicatorSpec {
	names := make([]string, 0, len(w.Params))
	for name := range w.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]domain.ParamKV, len(names))
	for i, name := range names {
		params[i] = domain.ParamKV{Name: name, Value: w.Params[name]}
	}

	return domain.IndicatorSpec{Ticker: w.Ticker, Name: w.Name, Params: params}
}

// wireConditionSide is a Condition's rhs: either a literal value or another
// indicator spec to compare against.
type wireConditionSide struct {
	Value     *float64           `json:"value,omitempty"`
	Indicator *wireIndicatorSpec `json:"indicator,omitempty"`
}

func (w wireConditionSide) toDomain() domain.ConditionSide {
	if w.Indicator != nil {
		return domain.ConditionSide{IsIndicator: true, Indicator: w.Indicator.toDomain()}
	}
	value := 0.0
	if w.Value != nil {
		value = *w.Value
	}
	return domain.ConditionSide{Value: value}
}

type wireCondition struct {
	LHS wireIndicatorSpec `json:"lhs"`
	Op  string            `json:"op"`
	RHS wireConditionSide `json:"rhs"`
}

func (w wireCondition) toDomain() domain.Condition {
	return domain.Condition{LHS: w.LHS.toDomain(), Op: parseOp(w.Op), RHS: w.RHS.toDomain()}
}

// parseOp accepts both the canonical unicode operators and their common
// ASCII spellings, so callers that can't easily type "≥"/"≤"/"≠" aren't
// forced to.
func parseOp(s string) domain.CompareOp {
	switch s {
	case ">":
		return domain.OpGT
	case "<":
		return domain.OpLT
	case ">=", "≥":
		return domain.OpGE
	case "<=", "≤":
		return domain.OpLE
	case "=", "==":
		return domain.OpEQ
	case "!=", "≠", "<>":
		return domain.OpNE
	default:
		return domain.OpEQ
	}
}

// wireElement is the JSON shape of the inbound StrategyTree (spec §6):
// a single object type carrying every variant's fields, the Kind field
// selecting which are meaningful. Mirrors domain.StrategyElement's own
// tagged-sum shape rather than introducing five separate wire types.
type wireElement struct {
	ID     string  `json:"id"`
	Kind   string  `json:"kind"`
	Weight float64 `json:"weight"`

	// ticker
	Symbol string `json:"symbol,omitempty"`

	// weight group
	Mode     string        `json:"mode,omitempty"`
	Children []wireElement `json:"children,omitempty"`

	// gate
	GateMode     string          `json:"gateMode,omitempty"`
	Conditions   []wireCondition `json:"conditions,omitempty"`
	ThenChildren []wireElement   `json:"thenChildren,omitempty"`
	ElseChildren []wireElement   `json:"elseChildren,omitempty"`

	// scale
	Indicator    *wireIndicatorSpec `json:"indicator,omitempty"`
	RangeMin     float64            `json:"rangeMin,omitempty"`
	RangeMax     float64            `json:"rangeMax,omitempty"`
	FromChildren []wireElement      `json:"fromChildren,omitempty"`
	ToChildren   []wireElement      `json:"toChildren,omitempty"`

	// sort
	Direction    string        `json:"direction,omitempty"`
	Count        int           `json:"count,omitempty"`
	SortChildren []wireElement `json:"sortChildren,omitempty"`
}

func (w wireElement) toDomain() domain.StrategyElement {
	el := domain.StrategyElement{
		ID:     w.ID,
		Weight: w.Weight,
		Kind:   domain.ElementKind(w.Kind),
	}

	switch el.Kind {
	case domain.KindTicker:
		el.Symbol = w.Symbol

	case domain.KindWeight:
		el.WeightMode = domain.WeightMode(w.Mode)
		el.Children = toDomainSlice(w.Children)

	case domain.KindGate:
		el.GateMode = domain.GateMode(w.GateMode)
		el.Conditions = make([]domain.Condition, len(w.Conditions))
		for i, c := range w.Conditions {
			el.Conditions[i] = c.toDomain()
		}
		el.ThenChildren = toDomainSlice(w.ThenChildren)
		el.ElseChildren = toDomainSlice(w.ElseChildren)

	case domain.KindScale:
		if w.Indicator != nil {
			el.ScaleIndicator = w.Indicator.toDomain()
		}
		el.RangeMin = w.RangeMin
		el.RangeMax = w.RangeMax
		el.FromChildren = toDomainSlice(w.FromChildren)
		el.ToChildren = toDomainSlice(w.ToChildren)

	case domain.KindSort:
		if w.Indicator != nil {
			el.SortIndicator = w.Indicator.toDomain()
		}
		el.SortDirection = domain.SortDirection(w.Direction)
		el.SortCount = w.Count
		el.SortChildren = toDomainSlice(w.SortChildren)
	}

	return el
}

func toDomainSlice(elements []wireElement) []domain.StrategyElement {
	if len(elements) == 0 {
		return nil
	}
	out := make([]domain.StrategyElement, len(elements))
	for i, e := range elements {
		out[i] = e.toDomain()
	}
	return out
}

// backtestRequest is the inbound POST /backtest body (spec §6).
type backtestRequest struct {
	Elements  wireElement `json:"elements"`
	StartDate string      `json:"startDate"`
	EndDate   string      `json:"endDate"`
	Debug     bool        `json:"debug"`
}

// collectTickers walks root gathering every Ticker leaf's symbol, in
// first-seen order with duplicates removed.
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

// collectIndicatorSpecs walks root gathering every IndicatorSpec that must
// be resolved against real price history: Gate condition operands and
// Scale indicators. Sort indicators are deliberately excluded — the Sort
// Runtime (internal/sortruntime) computes those directly against each
// child's synthetic equity curve, bypassing the shared cache-backed engine.
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
	return dedupeSpecs(out)
}

func dedupeSpecs(specs []domain.IndicatorSpec) []domain.IndicatorSpec {
	seen := make(map[string]bool, len(specs))
	out := make([]domain.IndicatorSpec, 0, len(specs))
	for _, s := range specs {
		key := fmt.Sprintf("%s|%s|%s", s.Ticker, s.Name, s.Fingerprint())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func appendUnique(tickers []string, ticker string) []string {
	for _, t := range tickers {
		if t == ticker {
			return tickers
		}
	}
	return append(tickers, ticker)
}

// filterGrid drops every date strictly before start.
func filterGrid(grid []string, start string) []string {
	for i, date := range grid {
		if date >= start {
			return grid[i:]
		}
	}
	return nil
}
