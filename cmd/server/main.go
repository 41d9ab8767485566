package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantdesk/backtest-engine/internal/cache"
	"github.com/quantdesk/backtest-engine/internal/clients/indicatormath"
	"github.com/quantdesk/backtest-engine/internal/clients/marketdata"
	"github.com/quantdesk/backtest-engine/internal/config"
	"github.com/quantdesk/backtest-engine/internal/indicators"
	"github.com/quantdesk/backtest-engine/internal/prices"
	"github.com/quantdesk/backtest-engine/internal/scheduler"
	"github.com/quantdesk/backtest-engine/internal/server"
	"github.com/quantdesk/backtest-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger depends on cfg.LogLevel, so a config error uses a bare
		// default logger to report itself.
		logger.New(logger.Config{Level: "info", Pretty: true}).
			Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting backtest engine")

	cacheStore, err := cache.NewSQLiteStore(cfg.CacheDBPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache store")
	}
	defer cacheStore.Close()

	vendorClient := marketdata.New(cfg.VendorBaseURL, cfg.VendorAPIKey, log)
	fetcher := prices.New(cacheStore, vendorClient, log)

	var indicatorClient indicatormath.Client = indicators.LocalClient{}
	if cfg.IndicatorMathURL != "" {
		indicatorClient = indicatormath.NewHTTPClient(cfg.IndicatorMathURL, log)
	}
	indicatorEngine := indicators.New(cacheStore, indicatorClient, log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	purgeJob := scheduler.NewPurgeJob(cacheStore, log)
	if err := sched.AddJob(cfg.PurgeCronAfternoon, purgeJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register afternoon purge job")
	}
	if err := sched.AddJob(cfg.PurgeCronEvening, purgeJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register evening purge job")
	}

	srv := server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		Cfg:        cfg,
		Cache:      cacheStore,
		Fetcher:    fetcher,
		Indicators: indicatorEngine,
		DevMode:    cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
