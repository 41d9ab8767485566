// Package indicators is the Indicator Computer (spec §4.3): it resolves a
// set of (ticker, indicator, params) specs against price history, going
// through the cache first and falling back to local go-talib computation,
// behind the same RPC-shaped client contract a math microservice would
// satisfy (internal/clients/indicatormath).
package indicators

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/backtest-engine/internal/apperrors"
	"github.com/quantdesk/backtest-engine/internal/cache"
	"github.com/quantdesk/backtest-engine/internal/clients/indicatormath"
	"github.com/quantdesk/backtest-engine/internal/domain"
)

const (
	minWorkers = 8
	maxWorkers = 32
)

// LocalClient computes indicators in-process via go-talib, satisfying
// indicatormath.Client so the engine works without a configured remote
// math service.
type LocalClient struct{}

// Compute implements indicatormath.Client.
func (LocalClient) Compute(_ context.Context, spec domain.IndicatorSpec, bars []domain.Bar) (map[string]float64, error) {
	series, err := compute(spec, bars)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(bars))
	for i, b := range bars {
		if i >= len(series) || math.IsNaN(series[i]) || math.IsInf(series[i], 0) {
			continue
		}
		out[b.Date] = series[i]
	}
	return out, nil
}

// Engine resolves indicator specs against a cache-backed store, falling
// back to its Client (local or remote) on a miss.
type Engine struct {
	store  cache.Store
	client indicatormath.Client
	log    zerolog.Logger

	// workers bounds concurrent in-flight computations; 0 selects the
	// default of min(len(specs), maxWorkers), floored at minWorkers.
	workers int
}

// New creates an indicator Engine. A nil client defaults to LocalClient.
func New(store cache.Store, client indicatormath.Client, log zerolog.Logger) *Engine {
	if client == nil {
		client = LocalClient{}
	}
	return &Engine{
		store:  store,
		client: client,
		log:    log.With().Str("component", "indicators").Logger(),
	}
}

// WithWorkers overrides the worker pool size (clamped to [minWorkers, maxWorkers]).
func (e *Engine) WithWorkers(n int) *Engine {
	e.workers = n
	return e
}

func (e *Engine) poolSize(n int) int {
	if e.workers > 0 {
		n = e.workers
	}
	if n < minWorkers {
		n = minWorkers
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// specResult is one spec's resolved series or error, collected off the
// result channel — the same shape as EvaluateMonteCarlo's pathResult.
type specResult struct {
	spec   domain.IndicatorSpec
	series map[string]float64
	err    error
}

// Resolve computes (or fetches from cache) every spec in specs against the
// corresponding bars in barsByTicker, fanning the work out across a bounded
// worker pool. Results are merged into an IndicatorSeries. A single spec's
// failure does not abort the batch; it is returned in errs keyed by spec.Key().
func (e *Engine) Resolve(ctx context.Context, specs []domain.IndicatorSpec, barsByTicker map[string][]domain.Bar) (*domain.IndicatorSeries, map[string]error) {
	out := domain.NewIndicatorSeries()
	errs := make(map[string]error)
	if len(specs) == 0 {
		return out, errs
	}

	jobs := make(chan domain.IndicatorSpec, len(specs))
	results := make(chan specResult, len(specs))

	workers := e.poolSize(len(specs))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for spec := range jobs {
				select {
				case <-ctx.Done():
					results <- specResult{spec: spec, err: ctx.Err()}
					continue
				default:
				}
				series, err := e.resolveOne(ctx, spec, barsByTicker[spec.Ticker])
				results <- specResult{spec: spec, series: series, err: err}
			}
		}()
	}

	for _, spec := range specs {
		jobs <- spec
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		key := res.spec.Key()
		if res.err != nil {
			errs[key] = apperrors.WithElement(apperrors.IndicatorComputeFailed, res.err.Error(), "")
			continue
		}
		for date, value := range res.series {
			out.Set(key, date, value)
		}
	}
	return out, errs
}

// resolveOne fetches cached values for spec, computes any missing dates
// locally (or via the remote client), and writes the fresh values back to
// cache.
func (e *Engine) resolveOne(ctx context.Context, spec domain.IndicatorSpec, bars []domain.Bar) (map[string]float64, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no price history for %s", spec.Ticker)
	}

	cached := e.readCache(ctx, spec, bars)

	missing := false
	for _, b := range bars {
		if _, ok := cached[b.Date]; !ok {
			missing = true
			break
		}
	}
	if !missing {
		return cached, nil
	}

	fresh, err := e.client.Compute(ctx, spec, bars)
	if err != nil {
		return nil, fmt.Errorf("compute %s: %w", spec.Key(), err)
	}

	e.writeCache(ctx, spec, fresh)

	merged := make(map[string]float64, len(fresh)+len(cached))
	for d, v := range cached {
		merged[d] = v
	}
	for d, v := range fresh {
		merged[d] = v
	}
	return merged, nil
}

// readCache probes the canonical dash-joined fingerprint first; any date
// still missing falls back to the legacy digit-concatenated fingerprint, so
// rows written before the cache-key migration (spec §9 Open Question) are
// still read. Only the canonical form is ever written going forward.
func (e *Engine) readCache(ctx context.Context, spec domain.IndicatorSpec, bars []domain.Bar) map[string]float64 {
	out := make(map[string]float64, len(bars))
	if e.store == nil || !e.store.Available(ctx) {
		return out
	}

	prefix := spec.CacheKeyPrefix()
	keys := make([]string, len(bars))
	for i, b := range bars {
		keys[i] = prefix + b.Date
	}

	found := e.store.MGet(ctx, keys)
	var remaining []domain.Bar
	for i, b := range bars {
		if raw, ok := found[keys[i]]; ok {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				out[b.Date] = v
				continue
			}
		}
		remaining = append(remaining, b)
	}
	if len(remaining) == 0 {
		return out
	}

	legacyPrefix := spec.LegacyCacheKeyPrefix()
	legacyKeys := make([]string, len(remaining))
	for i, b := range remaining {
		legacyKeys[i] = legacyPrefix + b.Date
	}

	legacyFound := e.store.MGet(ctx, legacyKeys)
	for i, b := range remaining {
		if raw, ok := legacyFound[legacyKeys[i]]; ok {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				out[b.Date] = v
			}
		}
	}
	return out
}

// writeCache stores only T-2-or-older values (spec §4.3 step 4); the
// in-memory series returned to the caller still contains every finite
// value regardless of date.
func (e *Engine) writeCache(ctx context.Context, spec domain.IndicatorSpec, fresh map[string]float64) {
	if e.store == nil || len(fresh) == 0 || !e.store.Available(ctx) {
		return
	}
	prefix := spec.CacheKeyPrefix()
	now := time.Now()
	items := make([]cache.Item, 0, len(fresh))
	for date, value := range fresh {
		if !domain.CacheEligible(date, now) {
			continue
		}
		items = append(items, cache.Item{
			Key:   prefix + date,
			Value: strconv.FormatFloat(value, 'f', -1, 64),
			TTL:   0,
		})
	}
	if len(items) == 0 {
		return
	}
	if ok := e.store.MSet(ctx, items); !ok {
		e.log.Warn().Str("spec", spec.Key()).Msg("failed to write indicator values to cache")
	}
}
