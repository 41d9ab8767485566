package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantdesk/backtest-engine/internal/cache"
)

// PurgeJob flushes the cache store. Registered twice daily (by default
// 4pm/8pm, in the server process's local time zone); a failed purge is
// non-fatal — the next scheduled run retries.
type PurgeJob struct {
	store cache.Store
	log   zerolog.Logger
}

// NewPurgeJob creates the scheduled cache-purge job.
func NewPurgeJob(store cache.Store, log zerolog.Logger) *PurgeJob {
	return &PurgeJob{store: store, log: log.With().Str("job", "cache-purge").Logger()}
}

// Name implements Job.
func (j *PurgeJob) Name() string {
	return "cache-purge"
}

// Run implements Job.
func (j *PurgeJob) Run() error {
	ctx := context.Background()
	if err := j.store.FlushAll(ctx); err != nil {
		j.log.Warn().Err(err).Msg("cache purge failed, will retry on next schedule")
		return err
	}
	j.log.Info().Msg("cache purged")
	return nil
}
