// Package prices implements the Price Fetcher (spec §4.2): a cache-through
// pipeline in front of the vendor marketdata client.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/backtest-engine/internal/apperrors"
	"github.com/quantdesk/backtest-engine/internal/cache"
	"github.com/quantdesk/backtest-engine/internal/clients/marketdata"
	"github.com/quantdesk/backtest-engine/internal/domain"
)

const cacheKeyPrefix = "price:"

// VendorClient fetches bars for a batch of tickers over a date window. The
// real implementation is marketdata.Client; tests substitute a stub.
type VendorClient interface {
	GetBars(ctx context.Context, tickers []string, start, end string) (map[string][]domain.Bar, error)
}

var _ VendorClient = (*marketdata.Client)(nil)

// Fetcher resolves OHLCV bars through the cache, calling the vendor once
// per request for whatever is missing.
type Fetcher struct {
	store  cache.Store
	vendor VendorClient
	log    zerolog.Logger
}

// New creates a Fetcher.
func New(store cache.Store, vendor VendorClient, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		store:  store,
		vendor: vendor,
		log:    log.With().Str("component", "prices").Logger(),
	}
}

func priceKey(ticker, date string) string {
	return cacheKeyPrefix + ticker + ":" + date
}

// Fetch implements spec §4.2's five-step algorithm: generate the calendar
// window, batch-mget the cache, one vendor call for whatever is missing,
// then write back everything at or before T-2.
func (f *Fetcher) Fetch(ctx context.Context, tickers []string, startDate, endDate string) (*domain.PriceSeries, error) {
	start, err := domain.ParseDate(startDate)
	if err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}
	end, err := domain.ParseDate(endDate)
	if err != nil {
		return nil, fmt.Errorf("parse end date: %w", err)
	}
	dates := domain.DateRange(start, end)

	cached := f.readCache(ctx, tickers, dates)

	series := domain.NewPriceSeries()
	missingTickers := make([]string, 0)
	for _, ticker := range tickers {
		anyMissing := false
		for _, date := range dates {
			if _, ok := cached[priceKey(ticker, date)]; !ok {
				anyMissing = true
				break
			}
		}
		if anyMissing {
			missingTickers = append(missingTickers, ticker)
		}
	}

	// Seed the series with every cache hit first, in date order.
	for _, ticker := range tickers {
		for _, date := range dates {
			if raw, ok := cached[priceKey(ticker, date)]; ok {
				var bar domain.Bar
				if err := json.Unmarshal([]byte(raw), &bar); err == nil {
					series.Put(ticker, bar)
				}
			}
		}
	}

	if len(missingTickers) == 0 {
		return series, nil
	}

	fetched, err := f.vendor.GetBars(ctx, missingTickers, startDate, endDate)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamFetchFailed, "vendor batch fetch failed", err)
	}

	f.writeCache(ctx, fetched)

	for ticker, bars := range fetched {
		for _, bar := range bars {
			series.Put(ticker, bar)
		}
	}

	return series, nil
}

func (f *Fetcher) readCache(ctx context.Context, tickers, dates []string) map[string]string {
	if f.store == nil || !f.store.Available(ctx) {
		if f.store != nil {
			f.log.Warn().Msg("cache unavailable, falling back to full vendor fetch")
		}
		return map[string]string{}
	}

	keys := make([]string, 0, len(tickers)*len(dates))
	for _, ticker := range tickers {
		for _, date := range dates {
			keys = append(keys, priceKey(ticker, date))
		}
	}
	return f.store.MGet(ctx, keys)
}

// writeCache stores only bars dated T-2 or older (spec §4.2 step 4).
func (f *Fetcher) writeCache(ctx context.Context, fetched map[string][]domain.Bar) {
	if f.store == nil || !f.store.Available(ctx) {
		return
	}
	now := time.Now()
	items := make([]cache.Item, 0)
	for ticker, bars := range fetched {
		for _, bar := range bars {
			if !domain.CacheEligible(bar.Date, now) {
				continue
			}
			raw, err := json.Marshal(bar)
			if err != nil {
				continue
			}
			items = append(items, cache.Item{Key: priceKey(ticker, bar.Date), Value: string(raw), TTL: 0})
		}
	}
	if len(items) == 0 {
		return
	}
	if ok := f.store.MSet(ctx, items); !ok {
		f.log.Warn().Msg("failed to write prices to cache")
	}
}
