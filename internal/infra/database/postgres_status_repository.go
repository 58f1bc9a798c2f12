package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/apistatus"
)

type PostgresStatusRepository struct {
	db *sql.DB
}

func NewPostgresStatusRepository(db *sql.DB) *PostgresStatusRepository {
	return &PostgresStatusRepository{db: db}
}

func (r *PostgresStatusRepository) GetOrCreate(ctx context.Context, key string) (*apistatus.Record, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `INSERT INTO api_status (key, status) VALUES ($1, $2)
               ON CONFLICT (key) DO UPDATE SET key = EXCLUDED.key
               RETURNING key, status, updated_at`
	rec := apistatus.Record{}
	err := r.db.QueryRowContext(ctx, query, key, apistatus.StatusUp).Scan(&rec.Key, &rec.Status, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("error getting or creating status %s: %w", key, err)
	}
	return &rec, nil
}

func (r *PostgresStatusRepository) Set(ctx context.Context, key string, status apistatus.Status) error {
	query := `INSERT INTO api_status (key, status, updated_at) VALUES ($1, $2, NOW())
               ON CONFLICT (key) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, key, status); err != nil {
		return fmt.Errorf("error setting status %s to %s: %w", key, status, err)
	}
	return nil
}
