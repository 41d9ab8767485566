// Package indicatormath is the client contract for the indicator-math
// collaborator (spec §6: POST <math>/indicator, request
// {indicator, params, close, prices, high?, low?, volume?}, response
// {values: (number|null)[]} aligned 1:1 by input index). A local
// go-talib-backed implementation (internal/indicators) satisfies the same
// Client interface so the computation can run in-process without a network
// hop, while still honoring the RPC-shaped contract the vendor boundary
// implies.
package indicatormath

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/backtest-engine/internal/domain"
)

// Client computes one indicator series over a price history.
type Client interface {
	Compute(ctx context.Context, spec domain.IndicatorSpec, bars []domain.Bar) (map[string]float64, error)
}

// indicatorRequest is the wire request body (spec §6). Close and Prices
// carry the same aligned close-price array; the service accepts either
// name depending on which indicator it's asked to compute. High/Low/Volume
// are only populated for indicators that need them (ATR, ADX, MFI, STOCH,
// AROON).
type indicatorRequest struct {
	Indicator string         `json:"indicator"`
	Params    map[string]int `json:"params"`
	Close     []float64      `json:"close"`
	Prices    []float64      `json:"prices"`
	High      []float64      `json:"high,omitempty"`
	Low       []float64      `json:"low,omitempty"`
	Volume    []float64      `json:"volume,omitempty"`
}

// indicatorResponse is the wire response body (spec §6): one value per
// input bar, aligned by index. A null entry means that index falls inside
// the indicator's warmup window and has no valid value yet.
type indicatorResponse struct {
	Values []*float64 `json:"values"`
}

// HTTPClient calls an out-of-process indicator-math microservice. Used when
// the engine is configured with a non-empty indicator math URL; otherwise
// internal/indicators' local go-talib client is used instead.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewHTTPClient creates a client for the remote indicator-math service.
func NewHTTPClient(baseURL string, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "indicatormath").Logger(),
	}
}

// needsHighLow/needsVolume report which indicators require the optional
// high/low/volume arrays, per internal/indicators/talib.go's dispatch.
func needsHighLow(name string) bool {
	switch name {
	case "ATR", "ADX", "MFI", "STOCH", "AROON":
		return true
	default:
		return false
	}
}

func needsVolume(name string) bool {
	return name == "MFI"
}

// Compute posts the spec and price history to the math service and returns
// the resulting date->value series.
func (c *HTTPClient) Compute(ctx context.Context, spec domain.IndicatorSpec, bars []domain.Bar) (map[string]float64, error) {
	spec = spec.WithDefaults()
	params := make(map[string]int, len(spec.Params))
	for _, p := range spec.Params {
		params[p.Name] = p.Value
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	reqBody := indicatorRequest{
		Indicator: spec.Name,
		Params:    params,
		Close:     closes,
		Prices:    closes,
	}
	if needsHighLow(spec.Name) {
		reqBody.High = make([]float64, len(bars))
		reqBody.Low = make([]float64, len(bars))
		for i, b := range bars {
			reqBody.High[i] = b.High
			reqBody.Low[i] = b.Low
		}
	}
	if needsVolume(spec.Name) {
		reqBody.Volume = make([]float64, len(bars))
		for i, b := range bars {
			reqBody.Volume[i] = b.Volume
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal indicator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/indicator", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build indicator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call indicator math service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read indicator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("indicator math service returned non-200")
		return nil, fmt.Errorf("indicator math service returned status %d", resp.StatusCode)
	}

	var result indicatorResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse indicator response: %w", err)
	}
	if len(result.Values) != len(bars) {
		return nil, fmt.Errorf("indicator response has %d values for %d input bars", len(result.Values), len(bars))
	}

	out := make(map[string]float64, len(bars))
	for i, v := range result.Values {
		if v == nil {
			continue
		}
		out[bars[i].Date] = *v
	}
	return out, nil
}
