// Package strategy implements the Strategy Executor (C5) and Validator
// (C8): a pure, no-I/O recursive evaluator over domain.StrategyElement and
// a pure structural/semantic checker over the same tree.
package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/quantdesk/backtest-engine/internal/apperrors"
	"github.com/quantdesk/backtest-engine/internal/domain"
)

// tieEpsilon is the tolerance within which two Sort scores are considered
// tied for grouping purposes.
const tieEpsilon = 1e-9

// GateEval records one Gate's evaluated outcome, for execution-path
// observability.
type GateEval struct {
	ElementID string
	Mode      domain.GateMode
	Passed    bool
}

// Result is the outcome of evaluating one subtree: the positions it
// produced, any weight it could not allocate (to be redistributed or
// bubbled up by the caller), and observability trails.
type Result struct {
	Positions   []domain.Position
	Unallocated float64
	Path        []string
	GateEvals   []GateEval
	Errors      []error
}

// Lookup resolves an indicator's value at a date, including Sort Runtime's
// synthetic series (keyed the same way as any other IndicatorSpec, using
// the synthetic ticker name "SORT_<sortId>_<childId>").
type Lookup interface {
	Get(specKey, date string) (float64, bool)
}

// Execute evaluates el at date against baseWeight (a fraction of the root's
// 100%), reading indicator values from series. It never panics on bad
// input: every failure mode is caught at the offending element and
// returned as an Errors entry with that element's weight reported as
// Unallocated, per spec's failure model.
func Execute(series Lookup, el domain.StrategyElement, baseWeight float64, date string) Result {
	switch el.Kind {
	case domain.KindTicker:
		return Result{
			Positions: []domain.Position{{Ticker: el.Symbol, Weight: baseWeight}},
			Path:      []string{el.ID},
		}

	case domain.KindWeight:
		return executeWeight(series, el, baseWeight, date)

	case domain.KindGate:
		return executeGate(series, el, baseWeight, date)

	case domain.KindScale:
		return executeScale(series, el, baseWeight, date)

	case domain.KindSort:
		return executeSort(series, el, baseWeight, date)

	default:
		return Result{
			Unallocated: baseWeight,
			Errors:      []error{apperrors.WithElement(apperrors.InvalidStrategy, fmt.Sprintf("unknown element kind %q", el.Kind), el.ID)},
		}
	}
}

// executeWeight divides baseWeight across children (equally, or per
// declared child.Weight) and combines their results, redistributing any
// unallocated weight among siblings that did produce positions.
func executeWeight(series Lookup, el domain.StrategyElement, baseWeight float64, date string) Result {
	n := len(el.Children)
	if n == 0 {
		return Result{Unallocated: baseWeight, Path: []string{el.ID}}
	}

	results := make([]Result, n)
	for i, child := range el.Children {
		childWeight := baseWeight / float64(n)
		if el.WeightMode == domain.WeightDefined {
			childWeight = baseWeight * child.Weight / 100
		}
		results[i] = Execute(series, child, childWeight, date)
	}

	combined := combine(results)
	combined.Path = append([]string{el.ID}, combined.Path...)
	return combined
}

// executeGate evaluates the conditions, recurses into the selected branch
// (treated as an equal-weight group, matching executeWeight's no-explicit-
// per-child-weight default since a Gate's then/else lists carry no weight
// field of their own), and records the evaluation for observability.
func executeGate(series Lookup, el domain.StrategyElement, baseWeight float64, date string) Result {
	passed, err := evaluateGate(series, el, date)
	if err != nil {
		return Result{
			Unallocated: baseWeight,
			Path:        []string{el.ID},
			Errors:      []error{err},
		}
	}

	branch := el.ElseChildren
	if passed {
		branch = el.ThenChildren
	}

	result := executeBranch(series, branch, baseWeight, date)
	result.Path = append([]string{el.ID}, result.Path...)
	result.GateEvals = append([]GateEval{{ElementID: el.ID, Mode: el.GateMode, Passed: passed}}, result.GateEvals...)
	return result
}

func evaluateGate(series Lookup, el domain.StrategyElement, date string) (bool, error) {
	if len(el.Conditions) == 0 {
		return false, apperrors.WithElement(apperrors.InvalidStrategy, "gate has no conditions", el.ID)
	}

	outcomes := make([]bool, len(el.Conditions))
	for i, cond := range el.Conditions {
		ok, err := evaluateCondition(series, cond, date)
		if err != nil {
			return false, apperrors.WithElement(apperrors.MissingIndicator, err.Error(), el.ID)
		}
		outcomes[i] = ok
	}

	switch el.GateMode {
	case domain.GateIf:
		return outcomes[0], nil
	case domain.GateIfAll:
		for _, o := range outcomes {
			if !o {
				return false, nil
			}
		}
		return true, nil
	case domain.GateIfAny:
		for _, o := range outcomes {
			if o {
				return true, nil
			}
		}
		return false, nil
	case domain.GateIfNone:
		for _, o := range outcomes {
			if o {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown gate mode %q", el.GateMode)
	}
}

func evaluateCondition(series Lookup, cond domain.Condition, date string) (bool, error) {
	lhs, ok := series.Get(cond.LHS.Key(), date)
	if !ok {
		return false, fmt.Errorf("missing indicator value for %s at %s", cond.LHS.Key(), date)
	}

	var rhs float64
	if cond.RHS.IsIndicator {
		v, ok := series.Get(cond.RHS.Indicator.Key(), date)
		if !ok {
			return false, fmt.Errorf("missing indicator value for %s at %s", cond.RHS.Indicator.Key(), date)
		}
		rhs = v
	} else {
		rhs = cond.RHS.Value
	}

	switch cond.Op {
	case domain.OpGT:
		return lhs > rhs, nil
	case domain.OpLT:
		return lhs < rhs, nil
	case domain.OpGE:
		return lhs >= rhs, nil
	case domain.OpLE:
		return lhs <= rhs, nil
	case domain.OpEQ:
		return lhs == rhs, nil
	case domain.OpNE:
		return lhs != rhs, nil
	default:
		return false, fmt.Errorf("unknown comparison operator %q", cond.Op)
	}
}

// executeScale computes the clamped fraction from ScaleIndicator's value
// within [RangeMin, RangeMax] and splits baseWeight between the from- and
// to-branches accordingly.
func executeScale(series Lookup, el domain.StrategyElement, baseWeight float64, date string) Result {
	value, ok := series.Get(el.ScaleIndicator.Key(), date)
	if !ok {
		return Result{
			Unallocated: baseWeight,
			Path:        []string{el.ID},
			Errors:      []error{apperrors.WithElement(apperrors.MissingIndicator, fmt.Sprintf("missing indicator value for %s", el.ScaleIndicator.Key()), el.ID)},
		}
	}

	fraction := 0.0
	if el.RangeMax > el.RangeMin {
		fraction = (value - el.RangeMin) / (el.RangeMax - el.RangeMin)
	}
	fraction = math.Max(0, math.Min(1, fraction))

	fromResult := executeBranch(series, el.FromChildren, baseWeight*(1-fraction), date)
	toResult := executeBranch(series, el.ToChildren, baseWeight*fraction, date)

	combined := combine([]Result{fromResult, toResult})
	combined.Path = append([]string{el.ID}, combined.Path...)
	return combined
}

// executeSort reads each child's precomputed synthetic score, ranks
// children into tie-tolerant groups, keeps the first min(count, groups)
// groups, and allocates baseWeight among the selected children.
func executeSort(series Lookup, el domain.StrategyElement, baseWeight float64, date string) Result {
	type scored struct {
		child domain.StrategyElement
		score float64
	}

	var candidates []scored
	var errs []error
	for _, child := range el.SortChildren {
		score, ok := series.Get(sortChildKey(el.ID, child.ID, el.SortIndicator), date)
		if !ok {
			errs = append(errs, apperrors.WithElement(apperrors.MissingIndicator, fmt.Sprintf("missing synthetic score for sort child %s", child.ID), child.ID))
			continue
		}
		candidates = append(candidates, scored{child: child, score: score})
	}

	if len(candidates) == 0 {
		return Result{Unallocated: baseWeight, Path: []string{el.ID}, Errors: errs}
	}

	ascending := el.SortDirection == domain.SortBottom
	sort.SliceStable(candidates, func(i, j int) bool {
		if ascending {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].score > candidates[j].score
	})

	// Group ties within tieEpsilon.
	var groups [][]scored
	for _, c := range candidates {
		if len(groups) > 0 {
			last := groups[len(groups)-1]
			if math.Abs(last[0].score-c.score) < tieEpsilon {
				groups[len(groups)-1] = append(last, c)
				continue
			}
		}
		groups = append(groups, []scored{c})
	}

	count := el.SortCount
	if count <= 0 || count > len(groups) {
		count = len(groups)
	}
	selectedGroups := groups[:count]

	var selected []scored
	for _, g := range selectedGroups {
		selected = append(selected, g...)
	}

	hasPositiveWeight := false
	weightSum := 0.0
	for _, c := range selected {
		if c.child.Weight > 0 {
			hasPositiveWeight = true
			weightSum += c.child.Weight
		}
	}

	results := make([]Result, 0, len(selected))
	for _, c := range selected {
		var childWeight float64
		if hasPositiveWeight && weightSum > 0 {
			childWeight = baseWeight * c.child.Weight / weightSum
		} else {
			childWeight = baseWeight / float64(len(selected))
		}
		results = append(results, Execute(series, c.child, childWeight, date))
	}

	combined := combine(results)
	combined.Path = append([]string{el.ID}, combined.Path...)
	combined.Errors = append(errs, combined.Errors...)
	return combined
}

func sortChildKey(sortID, childID string, indicator domain.IndicatorSpec) string {
	syntheticTicker := fmt.Sprintf("SORT_%s_%s", sortID, childID)
	synthetic := domain.IndicatorSpec{Ticker: syntheticTicker, Name: indicator.Name, Params: indicator.Params}
	return synthetic.Key()
}

// executeBranch treats a bare child list (Gate's then/else, Scale's
// from/to) as an implicit equal-weight group sharing branchWeight.
func executeBranch(series Lookup, children []domain.StrategyElement, branchWeight float64, date string) Result {
	n := len(children)
	if n == 0 {
		return Result{Unallocated: branchWeight}
	}
	results := make([]Result, n)
	for i, child := range children {
		results[i] = Execute(series, child, branchWeight/float64(n), date)
	}
	return combine(results)
}

// combine merges sibling results: positions and errors concatenate, paths
// concatenate, and any unallocated weight is redistributed across the
// siblings that did produce positions (spec §4.5's redistribution rule).
// If no sibling produced positions, the unallocated weight bubbles up
// untouched.
func combine(results []Result) Result {
	var positions []domain.Position
	var path []string
	var gateEvals []GateEval
	var errs []error
	var unallocated float64

	for _, r := range results {
		positions = append(positions, r.Positions...)
		path = append(path, r.Path...)
		gateEvals = append(gateEvals, r.GateEvals...)
		errs = append(errs, r.Errors...)
		unallocated += r.Unallocated
	}

	allocated := sumWeights(positions)
	if unallocated > 1e-12 && allocated > 1e-12 {
		factor := (allocated + unallocated) / allocated
		for i := range positions {
			positions[i].Weight *= factor
		}
		unallocated = 0
	}

	return Result{
		Positions:   positions,
		Unallocated: unallocated,
		Path:        path,
		GateEvals:   gateEvals,
		Errors:      errs,
	}
}

func sumWeights(positions []domain.Position) float64 {
	var sum float64
	for _, p := range positions {
		sum += p.Weight
	}
	return sum
}

// Finalize applies the root-level rule (any remaining unallocated weight is
// distributed proportionally to existing positions) and aggregates
// positions per ticker, normalized to sum to 100.
func Finalize(result Result) []domain.Position {
	positions := result.Positions
	if result.Unallocated > 1e-12 {
		allocated := sumWeights(positions)
		if allocated > 1e-12 {
			factor := (allocated + result.Unallocated) / allocated
			scaled := make([]domain.Position, len(positions))
			for i, p := range positions {
				scaled[i] = domain.Position{Ticker: p.Ticker, Weight: p.Weight * factor}
			}
			positions = scaled
		}
	}

	byTicker := make(map[string]float64)
	order := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, seen := byTicker[p.Ticker]; !seen {
			order = append(order, p.Ticker)
		}
		byTicker[p.Ticker] += p.Weight
	}

	total := 0.0
	for _, w := range byTicker {
		total += w
	}

	out := make([]domain.Position, 0, len(order))
	for _, ticker := range order {
		w := byTicker[ticker]
		if total > 1e-12 {
			w = w / total * 100
		}
		out = append(out, domain.Position{Ticker: ticker, Weight: w})
	}
	return out
}
