package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quantdesk/backtest-engine/internal/apperrors"
	"github.com/quantdesk/backtest-engine/internal/backtest"
	"github.com/quantdesk/backtest-engine/internal/domain"
	"github.com/quantdesk/backtest-engine/internal/events"
	"github.com/quantdesk/backtest-engine/internal/sortruntime"
	"github.com/quantdesk/backtest-engine/internal/strategy"
	"github.com/quantdesk/backtest-engine/internal/warmup"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "backtest-engine",
	}
	if s.cacheStore != nil && !s.cacheStore.Available(r.Context()) {
		response["status"] = "degraded"
		response["cache"] = "unavailable"
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleBacktest runs the full C1-C8 pipeline over a posted strategy tree
// and returns the resulting equity curve, benchmark, and metrics (spec §6).
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAppError(w, apperrors.New(apperrors.InvalidStrategy, "malformed request body: "+err.Error()))
		return
	}

	root := req.Elements.toDomain()

	validation := strategy.Validate(root)
	if !validation.Valid() {
		s.writeErr(w, validation.AsError())
		return
	}

	ctx := r.Context()
	s.events.Emit(events.BacktestStarted, "server", map[string]interface{}{
		"requestedStart": req.StartDate,
	})

	tickers := collectTickers(root)
	tickers = appendUnique(tickers, backtest.BenchmarkTicker)

	endDate := req.EndDate
	if endDate == "" {
		endDate = domain.FormatDate(time.Now())
	}
	fetchStart := req.StartDate
	if fetchStart == "" || fetchStart == "max" {
		fetchStart = earliestStartDate
	}

	prices, err := s.fetcher.Fetch(ctx, tickers, fetchStart, endDate)
	if err != nil {
		s.events.EmitError("server", err, map[string]interface{}{"stage": "fetch"})
		s.writeErr(w, err)
		return
	}

	warmupResult, err := warmup.Calculate(root, prices)
	if err != nil {
		s.writeAppError(w, apperrors.Wrap(apperrors.InsufficientWarmup, "warmup calculation failed", err))
		return
	}

	effectiveStart := warmupResult.EffectiveStart
	var adjustment *startDateAdjustment
	if req.StartDate != "" && req.StartDate != "max" && effectiveStart > req.StartDate {
		adjustment = &startDateAdjustment{
			RequestedStart: req.StartDate,
			AdjustedStart:  effectiveStart,
			Reason: fmt.Sprintf(
				"warmup requires %d trading days (~%d calendar days); culprit element %s",
				warmupResult.WarmupTradingDays, warmupResult.WarmupCalendarDays, warmupResult.CulpritElementID,
			),
		}
		s.events.Emit(events.StartDateAdjusted, "server", map[string]interface{}{
			"requested": req.StartDate,
			"adjusted":  effectiveStart,
		})
	}

	grid := filterGrid(prices.Dates(backtest.BenchmarkTicker), effectiveStart)
	if len(grid) < 2 {
		s.writeAppError(w, apperrors.New(apperrors.InsufficientWarmup, "fewer than 2 trading days remain after warmup"))
		return
	}

	specs := collectIndicatorSpecs(root)
	barsByTicker := make(map[string][]domain.Bar, len(tickers))
	for _, t := range tickers {
		barsByTicker[t] = prices.Bars(t)
	}

	series, computeErrs := s.indicators.Resolve(ctx, specs, barsByTicker)
	for specKey, computeErr := range computeErrs {
		s.events.EmitError("indicators", computeErr, map[string]interface{}{"spec": specKey})
	}

	latestSynthetic, err := sortruntime.Precompute(ctx, series, root, prices, grid)
	if err != nil {
		s.writeAppError(w, apperrors.Wrap(apperrors.IndicatorComputeFailed, "sort runtime precompute failed", err))
		return
	}
	if latestSynthetic != "" {
		grid = filterGrid(grid, latestSynthetic)
	}
	if len(grid) < 2 {
		s.writeAppError(w, apperrors.New(apperrors.InsufficientWarmup, "fewer than 2 trading days remain after sort runtime precompute"))
		return
	}
	s.events.Emit(events.SortPrecomputed, "server", map[string]interface{}{"gridLength": len(grid)})

	result, err := backtest.Run(ctx, series, root, prices, grid)
	if err != nil {
		s.events.EmitError("backtest", err, map[string]interface{}{"stage": "run"})
		s.writeErr(w, err)
		return
	}

	s.events.Emit(events.BacktestCompleted, "server", map[string]interface{}{"days": len(result.Dates)})

	s.writeJSON(w, http.StatusOK, toResponse(result, adjustment, validation.Warnings))
}

// writeErr maps any error into the apperrors taxonomy before writing it,
// defaulting to Internal for errors the core didn't already classify.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		s.writeAppError(w, appErr)
		return
	}
	s.writeAppError(w, apperrors.Wrap(apperrors.Internal, "unclassified internal error", err))
}

func (s *Server) writeAppError(w http.ResponseWriter, err *apperrors.Error) {
	s.log.Warn().
		Str("kind", string(err.Kind)).
		Str("element", err.ElementID).
		Err(err).
		Msg("backtest request failed")

	s.writeJSON(w, err.Kind.HTTPStatus(), map[string]string{
		"kind":      string(err.Kind),
		"error":     err.Message,
		"elementId": err.ElementID,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
