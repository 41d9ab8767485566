package main

import (
	"testing"

	"github.com/quantdesk/backtest-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeElementTicker(t *testing.T) {
	raw := []byte(`{"id":"t1","kind":"ticker","symbol":"AAPL","weight":1}`)
	var root domain.StrategyElement
	require.NoError(t, decodeElement(raw, &root))

	assert.Equal(t, domain.KindTicker, root.Kind)
	assert.Equal(t, "AAPL", root.Symbol)
	assert.Equal(t, 1.0, root.Weight)
}

func TestDecodeElementWeightGroupWithGate(t *testing.T) {
	raw := []byte(`{
		"id": "root",
		"kind": "weight",
		"mode": "defined",
		"children": [
			{
				"id": "gate1",
				"kind": "gate",
				"gateMode": "if_all",
				"weight": 0.5,
				"conditions": [
					{"lhs": {"ticker": "SPY", "name": "RSI", "params": {"period": 14}}, "op": ">", "rhs": {"value": 50}}
				],
				"thenChildren": [{"id": "a", "kind": "ticker", "symbol": "AAPL", "weight": 1}],
				"elseChildren": [{"id": "b", "kind": "ticker", "symbol": "MSFT", "weight": 1}]
			}
		]
	}`)

	var root domain.StrategyElement
	require.NoError(t, decodeElement(raw, &root))

	assert.Equal(t, domain.KindWeight, root.Kind)
	assert.Equal(t, domain.WeightDefined, root.WeightMode)
	require.Len(t, root.Children, 1)

	gate := root.Children[0]
	assert.Equal(t, domain.KindGate, gate.Kind)
	assert.Equal(t, domain.GateIfAll, gate.GateMode)
	require.Len(t, gate.Conditions, 1)
	assert.Equal(t, domain.OpGT, gate.Conditions[0].Op)
	assert.Equal(t, "SPY", gate.Conditions[0].LHS.Ticker)
	assert.Equal(t, 50.0, gate.Conditions[0].RHS.Value)
	require.Len(t, gate.ThenChildren, 1)
	require.Len(t, gate.ElseChildren, 1)
}

func TestDecodeElementMalformedJSON(t *testing.T) {
	var root domain.StrategyElement
	err := decodeElement([]byte("not json"), &root)
	assert.Error(t, err)
}

func TestParseOpAcceptsASCIIAndUnicode(t *testing.T) {
	assert.Equal(t, domain.OpGE, parseOp(">="))
	assert.Equal(t, domain.OpGE, parseOp("≥"))
	assert.Equal(t, domain.OpNE, parseOp("!="))
	assert.Equal(t, domain.OpEQ, parseOp("unknown"))
}
