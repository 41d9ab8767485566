// Package marketdata is the HTTP client for the vendor price service (spec
// §6: GET <vendor>/v2/stocks/bars?symbols=...&start&end&timeframe=1Day&
// adjustment=all&limit=10000), grounded on the shape of trader-go's yahoo
// client (plain http.Client with a timeout, a thin JSON envelope, zerolog
// on the client itself rather than threaded through every call).
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/backtest-engine/internal/domain"
)

// Client fetches historical daily bars from the configured vendor.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// New creates a vendor price client. baseURL is the vendor's root (e.g.
// "https://marketdata.example.com"); apiKey is sent as a bearer token.
func New(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "marketdata").Logger(),
	}
}

// barsResponse is the vendor's wire envelope (spec §6): one ordered bar
// list per symbol, keyed by symbol.
type barsResponse struct {
	Bars map[string][]wireBar `json:"bars"`
}

// wireBar is the vendor's per-bar shape: single-letter fields, a
// timestamp string rather than a bare date.
type wireBar struct {
	T string  `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// barDate extracts the calendar date from the vendor's timestamp field:
// the first 10 characters (YYYY-MM-DD) of an RFC3339-ish "t" value.
func barDate(t string) string {
	if len(t) <= 10 {
		return t
	}
	return t[:10]
}

// GetBars fetches daily bars for every symbol in tickers over [start, end]
// (inclusive, YYYY-MM-DD). A vendor-side error or transport failure is
// returned as a plain error; the caller (internal/prices) is responsible
// for wrapping it as apperrors.UpstreamFetchFailed.
func (c *Client) GetBars(ctx context.Context, tickers []string, start, end string) (map[string][]domain.Bar, error) {
	if len(tickers) == 0 {
		return map[string][]domain.Bar{}, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(tickers, ","))
	params.Set("start", start)
	params.Set("end", end)
	params.Set("timeframe", "1Day")
	params.Set("adjustment", "all")
	params.Set("limit", "10000")

	reqURL := fmt.Sprintf("%s/v2/stocks/bars?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build bars request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bars response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("vendor returned non-200")
		return nil, fmt.Errorf("marketdata vendor returned status %d", resp.StatusCode)
	}

	var parsed barsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse bars response: %w", err)
	}

	out := make(map[string][]domain.Bar, len(parsed.Bars))
	for ticker, wireBars := range parsed.Bars {
		bars := make([]domain.Bar, 0, len(wireBars))
		for _, wb := range wireBars {
			bars = append(bars, domain.Bar{
				Date:   barDate(wb.T),
				Open:   wb.O,
				High:   wb.H,
				Low:    wb.L,
				Close:  wb.C,
				Volume: wb.V,
			})
		}
		out[ticker] = bars
	}
	return out, nil
}
