package main

import (
	"encoding/json"
	"sort"

	"github.com/quantdesk/backtest-engine/internal/domain"
)

// decodeElement parses a strategy tree JSON document into the domain's
// internal (untagged) representation. This mirrors internal/server/wire.go's
// decode layer since that one is unexported and scoped to the HTTP boundary.

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
// ASCII spellings, since strategy files are hand-authored.
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

type wireElement struct {
	ID     string  `json:"id"`
	Kind   string  `json:"kind"`
	Weight float64 `json:"weight"`

	Symbol string `json:"symbol,omitempty"`

	Mode     string        `json:"mode,omitempty"`
	Children []wireElement `json:"children,omitempty"`

	GateMode     string          `json:"gateMode,omitempty"`
	Conditions   []wireCondition `json:"conditions,omitempty"`
	ThenChildren []wireElement   `json:"thenChildren,omitempty"`
	ElseChildren []wireElement   `json:"elseChildren,omitempty"`

	Indicator    *wireIndicatorSpec `json:"indicator,omitempty"`
	RangeMin     float64            `json:"rangeMin,omitempty"`
	RangeMax     float64            `json:"rangeMax,omitempty"`
	FromChildren []wireElement      `json:"fromChildren,omitempty"`
	ToChildren   []wireElement      `json:"toChildren,omitempty"`

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
	out := make([]domain.StrategyElement, len(elements))
	for i, e := range elements {
		out[i] = e.toDomain()
	}
	return out
}

func decodeElement(raw []byte, root *domain.StrategyElement) error {
	var w wireElement
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	*root = w.toDomain()
	return nil
}
