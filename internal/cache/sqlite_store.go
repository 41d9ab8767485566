package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
	"github.com/rs/zerolog"
)

// SQLiteStore is the durable-across-requests, not-durable-across-purges
// Cache Store, backed by a single "cache" table. Generalizes
// internal/work/cache.go's Set/GetJSON/Delete (upsert via ON CONFLICT,
// expiry checked against time.Now().Unix()) into the batched get/set shape
// spec §4.1 requires, plus an Available() probe so the rest of the engine
// degrades gracefully on a backend outage instead of failing.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the cache database at path and
// ensures the schema exists. WAL mode matches internal/database/db.go's
// connection-pool pattern: readers don't block the purge job's writer.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "cache").Logger(),
	}, nil
}

// Close closes the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Available probes the backend with a lightweight ping. Any error is
// treated as "cache unavailable", not fatal — callers fall back to
// recomputation per spec §4.1.
func (s *SQLiteStore) Available(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Warn().Err(err).Msg("cache backend unavailable")
		return false
	}
	return true
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err != nil {
		return "", false
	}
	if expiresAt != 0 && time.Now().Unix() >= expiresAt {
		return "", false
	}
	return value, true
}

// MGet batches the lookup into a single `IN (...)` query; on any error the
// whole batch is treated as a miss (spec §4.1: the cache being unavailable
// must never fail the caller).
func (s *SQLiteStore) MGet(ctx context.Context, keys []string) map[string]string {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result
	}

	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}

	query := fmt.Sprintf(`SELECT key, value, expires_at FROM cache WHERE key IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Warn().Err(err).Msg("mget failed, treating as cache miss")
		return result
	}
	defer rows.Close()

	now := time.Now().Unix()
	for rows.Next() {
		var key, value string
		var expiresAt int64
		if err := rows.Scan(&key, &value, &expiresAt); err != nil {
			continue
		}
		if expiresAt != 0 && now >= expiresAt {
			continue
		}
		result[key] = value
	}
	return result
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl int64) bool {
	return s.MSet(ctx, []Item{{Key: key, Value: value, TTL: ttl}})
}

// MSet writes every item in a single transaction. Concurrent writers to
// the same key are allowed; last writer wins (spec §5) — no locking beyond
// what the upsert statement itself provides.
func (s *SQLiteStore) MSet(ctx context.Context, items []Item) bool {
	if len(items) == 0 {
		return true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("mset failed to begin transaction")
		return false
	}
	defer tx.Rollback() //nolint:errcheck // no-op if Commit succeeds

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		s.log.Warn().Err(err).Msg("mset failed to prepare statement")
		return false
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, item := range items {
		expiresAt := int64(0)
		if item.TTL != 0 {
			expiresAt = now + item.TTL
		}
		if _, err := stmt.ExecContext(ctx, item.Key, item.Value, expiresAt); err != nil {
			s.log.Warn().Err(err).Str("key", item.Key).Msg("mset failed to write item")
			return false
		}
	}

	if err := tx.Commit(); err != nil {
		s.log.Warn().Err(err).Msg("mset failed to commit")
		return false
	}
	return true
}

func (s *SQLiteStore) Del(ctx context.Context, key string) bool {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	return err == nil
}

// FlushAll purges every entry. Racy against in-flight writes by design
// (spec §5): a lost write only forces one re-compute.
func (s *SQLiteStore) FlushAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache`)
	if err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	s.log.Info().Msg("cache flushed")
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) Stats {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&count); err != nil {
		return Stats{}
	}
	return Stats{Entries: count}
}
