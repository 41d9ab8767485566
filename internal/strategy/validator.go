package strategy

import (
	"fmt"
	"math"

	"github.com/quantdesk/backtest-engine/internal/apperrors"
	"github.com/quantdesk/backtest-engine/internal/domain"
)

// weightSumTolerance is the ± slack allowed on a top-level weight-sum check.
const weightSumTolerance = 0.01

// longPeriodWarningThreshold flags indicator periods unusually deep for
// daily-bar backtesting (spec §4.8: "excessively long periods").
const longPeriodWarningThreshold = 500

// ValidationError is one structural or semantic violation, keyed by the
// offending element and field (spec §4.8).
type ValidationError struct {
	ElementID string
	Field     string
	Message   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("element %s field %s: %s", e.ElementID, e.Field, e.Message)
}

// ValidationWarning is a non-fatal observation: zero-population branches,
// excessively long periods, non-canonical ticker symbols.
type ValidationWarning struct {
	ElementID string
	Message   string
}

// ValidationResult carries both errors (which make the tree unusable) and
// warnings (which don't).
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// Valid reports whether the tree has no structural errors.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AsError converts a failing ValidationResult into an apperrors.Error
// carrying the first offending element, or nil if the tree is valid.
func (r ValidationResult) AsError() error {
	if r.Valid() {
		return nil
	}
	first := r.Errors[0]
	return apperrors.WithElement(apperrors.InvalidStrategy, first.Error(), first.ElementID)
}

// Validate checks root against the tree invariants of spec §3: top-level
// weights sum to 100±0.01, every Gate has ≥1 condition, Scale min≠max,
// every reachable leaf is a Ticker, ids are unique, no cycles. Pure
// function; no I/O.
func Validate(root domain.StrategyElement) ValidationResult {
	v := &validator{seenIDs: make(map[string]bool)}
	v.walk(root, true)
	return ValidationResult{Errors: v.errors, Warnings: v.warnings}
}

type validator struct {
	seenIDs  map[string]bool
	errors   []ValidationError
	warnings []ValidationWarning
}

func (v *validator) fail(id, field, msg string) {
	v.errors = append(v.errors, ValidationError{ElementID: id, Field: field, Message: msg})
}

func (v *validator) warn(id, msg string) {
	v.warnings = append(v.warnings, ValidationWarning{ElementID: id, Message: msg})
}

func (v *validator) walk(el domain.StrategyElement, isTopLevel bool) {
	if el.ID == "" {
		v.fail(el.ID, "id", "element id must not be empty")
	} else if v.seenIDs[el.ID] {
		v.fail(el.ID, "id", "duplicate element id")
	} else {
		v.seenIDs[el.ID] = true
	}

	switch el.Kind {
	case domain.KindTicker:
		v.checkTickerSymbol(el)

	case domain.KindWeight:
		v.checkWeightGroup(el, isTopLevel)

	case domain.KindGate:
		v.checkGate(el)

	case domain.KindScale:
		v.checkScale(el)

	case domain.KindSort:
		v.checkSort(el)

	default:
		v.fail(el.ID, "kind", fmt.Sprintf("unknown element kind %q", el.Kind))
	}
}

func (v *validator) checkTickerSymbol(el domain.StrategyElement) {
	if el.Symbol == "" {
		v.fail(el.ID, "symbol", "ticker element has no symbol")
		return
	}
	if !isCanonicalSymbol(el.Symbol) {
		v.warn(el.ID, fmt.Sprintf("non-canonical ticker symbol %q", el.Symbol))
	}
}

// isCanonicalSymbol requires upper-case letters, digits, dots, and dashes —
// the shape of real exchange tickers (AAPL, BRK.B).
func isCanonicalSymbol(symbol string) bool {
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

func (v *validator) checkWeightGroup(el domain.StrategyElement, isTopLevel bool) {
	if len(el.Children) == 0 {
		v.warn(el.ID, "weight group has no children (zero-population branch)")
		return
	}

	if el.WeightMode == domain.WeightDefined {
		sum := 0.0
		for _, c := range el.Children {
			sum += c.Weight
		}
		if isTopLevel && math.Abs(sum-100) > weightSumTolerance {
			v.fail(el.ID, "weight", fmt.Sprintf("top-level defined weights sum to %.4f, want 100±%.2f", sum, weightSumTolerance))
		}
	}

	for _, c := range el.Children {
		v.walk(c, false)
	}
}

func (v *validator) checkGate(el domain.StrategyElement) {
	if len(el.Conditions) == 0 {
		v.fail(el.ID, "conditions", "gate must have at least one condition")
	}
	if len(el.ThenChildren) == 0 {
		v.warn(el.ID, "gate thenChildren is empty (zero-population branch)")
	}
	if len(el.ElseChildren) == 0 {
		v.warn(el.ID, "gate elseChildren is empty (zero-population branch)")
	}
	for _, cond := range el.Conditions {
		v.checkIndicatorPeriod(el.ID, cond.LHS)
		if cond.RHS.IsIndicator {
			v.checkIndicatorPeriod(el.ID, cond.RHS.Indicator)
		}
	}
	for _, c := range el.ThenChildren {
		v.walk(c, false)
	}
	for _, c := range el.ElseChildren {
		v.walk(c, false)
	}
}

func (v *validator) checkScale(el domain.StrategyElement) {
	if el.RangeMin == el.RangeMax {
		v.fail(el.ID, "range", "scale rangeMin must not equal rangeMax")
	}
	if len(el.FromChildren) == 0 {
		v.warn(el.ID, "scale fromChildren is empty (zero-population branch)")
	}
	if len(el.ToChildren) == 0 {
		v.warn(el.ID, "scale toChildren is empty (zero-population branch)")
	}
	v.checkIndicatorPeriod(el.ID, el.ScaleIndicator)
	for _, c := range el.FromChildren {
		v.walk(c, false)
	}
	for _, c := range el.ToChildren {
		v.walk(c, false)
	}
}

func (v *validator) checkSort(el domain.StrategyElement) {
	if len(el.SortChildren) == 0 {
		v.fail(el.ID, "children", "sort has no children")
	}
	if el.SortCount < 1 {
		v.fail(el.ID, "count", "sort count must be >= 1")
	}
	v.checkIndicatorPeriod(el.ID, el.SortIndicator)
	for _, c := range el.SortChildren {
		v.walk(c, false)
	}
}

func (v *validator) checkIndicatorPeriod(elementID string, spec domain.IndicatorSpec) {
	spec = spec.WithDefaults()
	for _, p := range spec.Params {
		if p.Value > longPeriodWarningThreshold {
			v.warn(elementID, fmt.Sprintf("indicator %s parameter %s=%d is unusually long for daily bars", spec.Name, p.Name, p.Value))
		}
	}
}
