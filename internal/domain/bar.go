// Package domain holds the core types shared across the backtest engine:
// price bars, indicator series, the strategy tree, and execution results.
// It has no I/O dependencies — every type here is a plain value or a pure
// function over plain values.
package domain

import "time"

// DateLayout is the canonical date format used throughout the engine
// (cache keys, request windows, bar dates).
const DateLayout = "2006-01-02"

// Bar is a single day's OHLCV record for one ticker.
type Bar struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// Valid checks the OHLCV invariant: low <= open,close <= high; volume >= 0.
func (b Bar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	if b.Low > b.Open || b.Open > b.High {
		return false
	}
	if b.Low > b.Close || b.Close > b.High {
		return false
	}
	return true
}

// ParseDate parses a bar/cache date string into a time.Time (UTC, midnight).
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders a time.Time back into the canonical date string.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// CacheEligible reports whether date (YYYY-MM-DD) is at least two calendar
// days before now — the T-2 rule: only such dates are ever written back to
// the cache, since T-1/T-0 data is still provisional and may be revised by
// the vendor.
func CacheEligible(date string, now time.Time) bool {
	d, err := ParseDate(date)
	if err != nil {
		return false
	}
	cutoff := now.Truncate(24 * time.Hour).AddDate(0, 0, -2)
	return !d.After(cutoff)
}

// DateRange returns every calendar date in [start, end], inclusive, in order.
func DateRange(start, end time.Time) []string {
	if end.Before(start) {
		return nil
	}
	dates := make([]string, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, FormatDate(d))
	}
	return dates
}

// PriceSeries maps a ticker to its bars, keyed by date for point lookup.
// Owned by the Price Fetcher during a request; treated as immutable once
// returned from Fetch.
type PriceSeries struct {
	byTicker map[string]map[string]Bar // ticker -> date -> bar
	ordered  map[string][]string       // ticker -> dates in ascending order
}

// NewPriceSeries creates an empty PriceSeries.
func NewPriceSeries() *PriceSeries {
	return &PriceSeries{
		byTicker: make(map[string]map[string]Bar),
		ordered:  make(map[string][]string),
	}
}

// Put inserts or replaces a bar for a ticker. Bars must be inserted in
// ascending date order per ticker; callers that can't guarantee order
// should sort beforehand and call Put in that order.
func (p *PriceSeries) Put(ticker string, bar Bar) {
	dates, ok := p.byTicker[ticker]
	if !ok {
		dates = make(map[string]Bar)
		p.byTicker[ticker] = dates
	}
	if _, exists := dates[bar.Date]; !exists {
		p.ordered[ticker] = append(p.ordered[ticker], bar.Date)
	}
	dates[bar.Date] = bar
}

// Bar returns the bar for ticker at date, if present.
func (p *PriceSeries) Bar(ticker, date string) (Bar, bool) {
	dates, ok := p.byTicker[ticker]
	if !ok {
		return Bar{}, false
	}
	b, ok := dates[date]
	return b, ok
}

// Dates returns the ascending dates observed for a ticker.
func (p *PriceSeries) Dates(ticker string) []string {
	return p.ordered[ticker]
}

// Bars returns the chronological bars for a ticker, aligned with Dates(ticker).
func (p *PriceSeries) Bars(ticker string) []Bar {
	dates := p.ordered[ticker]
	bars := make([]Bar, len(dates))
	byDate := p.byTicker[ticker]
	for i, d := range dates {
		bars[i] = byDate[d]
	}
	return bars
}

// Tickers returns every ticker present in the series, in no particular order.
func (p *PriceSeries) Tickers() []string {
	tickers := make([]string, 0, len(p.byTicker))
	for t := range p.byTicker {
		tickers = append(tickers, t)
	}
	return tickers
}

// Closes returns the chronological close prices for a ticker, aligned with
// Dates(ticker).
func (p *PriceSeries) Closes(ticker string) []float64 {
	dates := p.ordered[ticker]
	closes := make([]float64, len(dates))
	bars := p.byTicker[ticker]
	for i, d := range dates {
		closes[i] = bars[d].Close
	}
	return closes
}

// FirstDate returns the earliest observed date for a ticker, or "" if the
// ticker has no bars.
func (p *PriceSeries) FirstDate(ticker string) string {
	dates := p.ordered[ticker]
	if len(dates) == 0 {
		return ""
	}
	return dates[0]
}
