package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParamKV is one (name, value) pair of an indicator's parameter set,
// preserved in the indicator's canonical order (e.g. MACD: fast, slow,
// signal). Using an ordered slice rather than a map keeps fingerprinting
// deterministic without a separate canonical-order side-table.
type ParamKV struct {
	Name  string
	Value int
}

// IndicatorSpec identifies one indicator computation: a ticker, an
// indicator name, and its parameters.
type IndicatorSpec struct {
	Ticker string
	Name   string
	Params []ParamKV
}

// defaultParams holds the canonical parameter order and defaults per
// indicator name, per spec §4.3 ("indicator-specific parameter defaults
// must be honored when the caller omitted them").
var defaultParams = map[string][]ParamKV{
	"RSI":        {{"period", 14}},
	"SMA":        {{"period", 20}},
	"EMA":        {{"period", 20}},
	"ATR":        {{"period", 14}},
	"ADX":        {{"period", 14}},
	"MFI":        {{"period", 14}},
	"MACD":       {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"PPO":        {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"PPO_SIGNAL": {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"PPO_HIST":   {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"BBANDS":     {{"period", 20}},
	"STOCH":      {{"fastk", 5}, {"slowk", 3}, {"slowd", 3}},
	"AROON":      {{"period", 14}},
	"VOLATILITY": {{"period", 20}},
	"RETURN":     {{"period", 5}},
}

// WithDefaults fills in any parameters the caller omitted, in canonical
// order, per the indicator's default table. Unknown indicator names pass
// through unchanged (the caller-supplied params are trusted as-is).
func (s IndicatorSpec) WithDefaults() IndicatorSpec {
	defaults, ok := defaultParams[s.Name]
	if !ok {
		return s
	}
	if len(s.Params) == 0 {
		s.Params = defaults
		return s
	}
	supplied := make(map[string]int, len(s.Params))
	for _, p := range s.Params {
		supplied[p.Name] = p.Value
	}
	merged := make([]ParamKV, len(defaults))
	for i, d := range defaults {
		if v, ok := supplied[d.Name]; ok {
			merged[i] = ParamKV{d.Name, v}
		} else {
			merged[i] = d
		}
	}
	s.Params = merged
	return s
}

// Fingerprint computes the canonical param-fingerprint: the dash-joined
// values in canonical parameter order (e.g. "12-26-9" for MACD, "20" for
// RSI). Two specs with the same fingerprint are the same series — this
// must be computed identically whether the caller supplied defaults
// explicitly or not, which is why WithDefaults runs first.
func (s IndicatorSpec) Fingerprint() string {
	s = s.WithDefaults()
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = strconv.Itoa(p.Value)
	}
	return strings.Join(parts, "-")
}

// LegacyFingerprint reproduces the old digit-concatenated encoding
// ("12269" for MACD 12/26/9) that older cache entries may still carry.
// Per the Open Question in spec §9, readers accept both forms; only the
// dash-joined form in Fingerprint is written going forward.
func (s IndicatorSpec) LegacyFingerprint() string {
	s = s.WithDefaults()
	var b strings.Builder
	for _, p := range s.Params {
		b.WriteString(strconv.Itoa(p.Value))
	}
	return b.String()
}

// Key returns the IndicatorSeries composite key string "ticker|name|fingerprint".
func (s IndicatorSpec) Key() string {
	return s.Ticker + "|" + s.Name + "|" + s.Fingerprint()
}

// ParamValue returns the named parameter's value (after defaulting).
func (s IndicatorSpec) ParamValue(name string) (int, bool) {
	s = s.WithDefaults()
	for _, p := range s.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// CacheKeyPrefix returns the "indicator:TICKER:NAME:FINGERPRINT:" prefix
// used to build per-date cache keys (see §3 key schema).
func (s IndicatorSpec) CacheKeyPrefix() string {
	return fmt.Sprintf("indicator:%s:%s:%s:", s.Ticker, s.Name, s.Fingerprint())
}

// LegacyCacheKeyPrefix returns the same key schema built with the legacy
// digit-concatenated fingerprint, for reading (never writing) rows left
// behind by the old encoding (spec §9 Open Question).
func (s IndicatorSpec) LegacyCacheKeyPrefix() string {
	return fmt.Sprintf("indicator:%s:%s:%s:", s.Ticker, s.Name, s.LegacyFingerprint())
}

// IndicatorSeries maps a spec's composite key to a sparse date->value
// table. Dates before an indicator's warmup are simply absent rather than
// stored as zero.
type IndicatorSeries struct {
	values map[string]map[string]float64 // specKey -> date -> value
}

// NewIndicatorSeries creates an empty IndicatorSeries.
func NewIndicatorSeries() *IndicatorSeries {
	return &IndicatorSeries{values: make(map[string]map[string]float64)}
}

// Set records one (spec, date, value) triple.
func (is *IndicatorSeries) Set(specKey, date string, value float64) {
	dates, ok := is.values[specKey]
	if !ok {
		dates = make(map[string]float64)
		is.values[specKey] = dates
	}
	dates[date] = value
}

// Get looks up a value by spec key and date.
func (is *IndicatorSeries) Get(specKey, date string) (float64, bool) {
	dates, ok := is.values[specKey]
	if !ok {
		return 0, false
	}
	v, ok := dates[date]
	return v, ok
}

// FirstValidDate returns the earliest date with a recorded value for a
// spec key, or "" if none. Dates are returned sorted lexically, which is
// chronological order for YYYY-MM-DD strings.
func (is *IndicatorSeries) FirstValidDate(specKey string) string {
	dates, ok := is.values[specKey]
	if !ok || len(dates) == 0 {
		return ""
	}
	keys := make([]string, 0, len(dates))
	for d := range dates {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	return keys[0]
}

// Has reports whether any value at all has been recorded for a spec key.
func (is *IndicatorSeries) Has(specKey string) bool {
	dates, ok := is.values[specKey]
	return ok && len(dates) > 0
}
