package strategy

import (
	"testing"

	"github.com/quantdesk/backtest-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidTree(t *testing.T) {
	root := domain.StrategyElement{
		ID:         "w1",
		Kind:       domain.KindWeight,
		WeightMode: domain.WeightDefined,
		Children: []domain.StrategyElement{
			{ID: "t1", Kind: domain.KindTicker, Symbol: "SPY", Weight: 60},
			{ID: "t2", Kind: domain.KindTicker, Symbol: "QQQ", Weight: 40},
		},
	}
	result := Validate(root)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
}

func TestValidateDuplicateIDs(t *testing.T) {
	root := domain.StrategyElement{
		ID:         "w1",
		Kind:       domain.KindWeight,
		WeightMode: domain.WeightEqual,
		Children: []domain.StrategyElement{
			{ID: "dup", Kind: domain.KindTicker, Symbol: "SPY"},
			{ID: "dup", Kind: domain.KindTicker, Symbol: "QQQ"},
		},
	}
	result := Validate(root)
	assert.False(t, result.Valid())
}

func TestValidateEmptyID(t *testing.T) {
	root := domain.StrategyElement{ID: "", Kind: domain.KindTicker, Symbol: "SPY"}
	result := Validate(root)
	assert.False(t, result.Valid())
}

func TestValidateWeightSumMismatchAtTopLevel(t *testing.T) {
	root := domain.StrategyElement{
		ID:         "w1",
		Kind:       domain.KindWeight,
		WeightMode: domain.WeightDefined,
		Children: []domain.StrategyElement{
			{ID: "t1", Kind: domain.KindTicker, Symbol: "SPY", Weight: 60},
			{ID: "t2", Kind: domain.KindTicker, Symbol: "QQQ", Weight: 30},
		},
	}
	result := Validate(root)
	assert.False(t, result.Valid())
}

func TestValidateWeightSumNotCheckedBelowTopLevel(t *testing.T) {
	nested := domain.StrategyElement{
		ID:         "w2",
		Kind:       domain.KindWeight,
		WeightMode: domain.WeightDefined,
		Children: []domain.StrategyElement{
			{ID: "t2", Kind: domain.KindTicker, Symbol: "QQQ", Weight: 30}, // sums to 30, not 100
		},
	}
	root := domain.StrategyElement{
		ID:         "w1",
		Kind:       domain.KindWeight,
		WeightMode: domain.WeightDefined,
		Children: []domain.StrategyElement{
			{ID: "t1", Kind: domain.KindTicker, Symbol: "SPY", Weight: 100},
			nested,
		},
	}
	result := Validate(root)
	assert.True(t, result.Valid(), "nested weight groups aren't held to the 100-sum rule")
}

func TestValidateEmptyWeightGroupWarns(t *testing.T) {
	root := domain.StrategyElement{ID: "w1", Kind: domain.KindWeight}
	result := Validate(root)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
}

func TestValidateGateRequiresConditions(t *testing.T) {
	root := domain.StrategyElement{
		ID:           "g1",
		Kind:         domain.KindGate,
		GateMode:     domain.GateIf,
		ThenChildren: []domain.StrategyElement{{ID: "t1", Kind: domain.KindTicker, Symbol: "SPY"}},
		ElseChildren: []domain.StrategyElement{{ID: "t2", Kind: domain.KindTicker, Symbol: "QQQ"}},
	}
	result := Validate(root)
	assert.False(t, result.Valid())
}

func TestValidateGateEmptyBranchesWarn(t *testing.T) {
	cond := domain.Condition{LHS: rsiSpec("SPY"), Op: domain.OpGT, RHS: domain.ConditionSide{Value: 50}}
	root := domain.StrategyElement{
		ID:         "g1",
		Kind:       domain.KindGate,
		GateMode:   domain.GateIf,
		Conditions: []domain.Condition{cond},
	}
	result := Validate(root)
	assert.True(t, result.Valid())
	assert.Len(t, result.Warnings, 2) // empty then + empty else
}

func TestValidateScaleRangeMinEqualsMax(t *testing.T) {
	root := domain.StrategyElement{
		ID:             "s1",
		Kind:           domain.KindScale,
		ScaleIndicator: rsiSpec("SPY"),
		RangeMin:       50,
		RangeMax:       50,
		FromChildren:   []domain.StrategyElement{{ID: "t1", Kind: domain.KindTicker, Symbol: "SPY"}},
		ToChildren:     []domain.StrategyElement{{ID: "t2", Kind: domain.KindTicker, Symbol: "QQQ"}},
	}
	result := Validate(root)
	assert.False(t, result.Valid())
}

func TestValidateSortRequiresChildrenAndPositiveCount(t *testing.T) {
	root := domain.StrategyElement{
		ID:            "sort1",
		Kind:          domain.KindSort,
		SortIndicator: rsiSpec("SPY"),
		SortDirection: domain.SortTop,
		SortCount:     0,
	}
	result := Validate(root)
	assert.False(t, result.Valid())
	assert.Len(t, result.Errors, 2) // no children, count < 1
}

func TestValidateLongPeriodWarns(t *testing.T) {
	root := domain.StrategyElement{
		ID:   "t1",
		Kind: domain.KindScale,
		ScaleIndicator: domain.IndicatorSpec{
			Ticker: "SPY", Name: "SMA", Params: []domain.ParamKV{{"period", 1000}},
		},
		RangeMin:     0,
		RangeMax:     100,
		FromChildren: []domain.StrategyElement{{ID: "a", Kind: domain.KindTicker, Symbol: "SPY"}},
		ToChildren:   []domain.StrategyElement{{ID: "b", Kind: domain.KindTicker, Symbol: "QQQ"}},
	}
	result := Validate(root)
	assert.True(t, result.Valid())
	found := false
	for _, w := range result.Warnings {
		if w.ElementID == "t1" {
			found = true
		}
	}
	assert.True(t, found, "expected a long-period warning")
}

func TestValidateNonCanonicalSymbolWarns(t *testing.T) {
	root := domain.StrategyElement{ID: "t1", Kind: domain.KindTicker, Symbol: "spy$"}
	result := Validate(root)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
}

func TestValidationResultAsError(t *testing.T) {
	root := domain.StrategyElement{ID: "", Kind: domain.KindTicker, Symbol: "SPY"}
	result := Validate(root)
	err := result.AsError()
	require.Error(t, err)

	validResult := Validate(domain.StrategyElement{ID: "t1", Kind: domain.KindTicker, Symbol: "SPY"})
	assert.NoError(t, validResult.AsError())
}
