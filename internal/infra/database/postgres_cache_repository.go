// internal/infra/database/postgres_cache_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
)

var ErrCacheEntryNotFound = fmt.Errorf("cache entry not found")
var ErrDuplicateCacheEntry = fmt.Errorf("duplicate cache entry (term, department)")

type PostgresCacheRepository struct {
	db *sql.DB
}

func NewPostgresCacheRepository(db *sql.DB) *PostgresCacheRepository {
	return &PostgresCacheRepository{db: db}
}

func (r *PostgresCacheRepository) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	query := `SELECT term, department, updated_at, is_refreshing, refresh_started_at, payload
               FROM cache_entries WHERE term = $1 AND department = $2`
	e := cache.Entry{}
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, key.Term, key.Department).Scan(
		&e.Key.Term, &e.Key.Department, &e.UpdatedAt, &e.IsRefreshing, &e.RefreshStartedAt, &payload,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCacheEntryNotFound
		}
		return nil, fmt.Errorf("error getting cache entry %s: %w", key, err)
	}
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

func (r *PostgresCacheRepository) Create(ctx context.Context, e *cache.Entry) error {
	query := `INSERT INTO cache_entries (term, department, updated_at, is_refreshing, refresh_started_at, payload)
               VALUES ($1, $2, $3, $4, $5, $6)`
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Unix(0, 0).UTC()
	}
	_, err := r.db.ExecContext(ctx, query, e.Key.Term, e.Key.Department, updatedAt, e.IsRefreshing, e.RefreshStartedAt, nullJSON(e.Payload))
	if err != nil {
		if strings.Contains(err.Error(), "cache_entries_pkey") {
			return ErrDuplicateCacheEntry
		}
		return fmt.Errorf("error creating cache entry %s: %w", e.Key, err)
	}
	e.UpdatedAt = updatedAt
	return nil
}

func (r *PostgresCacheRepository) SetRefreshing(ctx context.Context, key cache.Key, refreshing bool, at time.Time) error {
	startedAt := sql.NullTime{}
	if refreshing {
		startedAt = sql.NullTime{Time: at, Valid: true}
	}
	query := `UPDATE cache_entries SET is_refreshing = $1, refresh_started_at = $2
               WHERE term = $3 AND department = $4`
	res, err := r.db.ExecContext(ctx, query, refreshing, startedAt, key.Term, key.Department)
	if err != nil {
		return fmt.Errorf("error updating refresh flag of %s: %w", key, err)
	}
	return expectOneRow(res, ErrCacheEntryNotFound)
}

func (r *PostgresCacheRepository) CompleteRefresh(ctx context.Context, key cache.Key, payload json.RawMessage, at time.Time) error {
	// Upsert: a refresh may land for an entry created by another process.
	query := `INSERT INTO cache_entries (term, department, updated_at, is_refreshing, refresh_started_at, payload)
               VALUES ($1, $2, $3, FALSE, NULL, $4)
               ON CONFLICT (term, department) DO UPDATE
               SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at,
                   is_refreshing = FALSE, refresh_started_at = NULL`
	if _, err := r.db.ExecContext(ctx, query, key.Term, key.Department, at, nullJSON(payload)); err != nil {
		return fmt.Errorf("error completing refresh of %s: %w", key, err)
	}
	return nil
}

func (r *PostgresCacheRepository) ResetStaleRefreshes(ctx context.Context, startedBefore time.Time) (int64, error) {
	query := `UPDATE cache_entries SET is_refreshing = FALSE, refresh_started_at = NULL
               WHERE is_refreshing AND (refresh_started_at IS NULL OR refresh_started_at < $1)`
	res, err := r.db.ExecContext(ctx, query, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("error resetting stale refreshes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading reset count: %w", err)
	}
	return n, nil
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
