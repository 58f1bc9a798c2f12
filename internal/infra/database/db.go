package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

// NewPostgresConnection creates and returns a new PostgreSQL database connection.
// It also pings the database to ensure connectivity.
func NewPostgresConnection(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	term               VARCHAR(16) NOT NULL,
	department         VARCHAR(16) NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	is_refreshing      BOOLEAN     NOT NULL DEFAULT FALSE,
	refresh_started_at TIMESTAMPTZ NULL,
	payload            JSONB       NULL,
	PRIMARY KEY (term, department)
);

CREATE TABLE IF NOT EXISTS courses (
	crn                VARCHAR(16) PRIMARY KEY,
	term               VARCHAR(16) NOT NULL,
	department         VARCHAR(16) NOT NULL,
	available_seats    INTEGER     NOT NULL DEFAULT 0 CHECK (available_seats >= 0),
	waiting_list_count INTEGER     NOT NULL DEFAULT 0 CHECK (waiting_list_count >= 0),
	raw                JSONB       NULL,
	last_updated       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tracking_lists (
	id               BIGSERIAL PRIMARY KEY,
	user_id          BIGINT      NOT NULL UNIQUE,
	channels         TEXT[]      NOT NULL DEFAULT '{}',
	telegram_chat_id BIGINT      NULL,
	email            TEXT        NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tracking_list_courses (
	tracking_list_id BIGINT      NOT NULL REFERENCES tracking_lists(id) ON DELETE CASCADE,
	crn              VARCHAR(16) NOT NULL REFERENCES courses(crn) ON DELETE CASCADE,
	PRIMARY KEY (tracking_list_id, crn)
);

CREATE TABLE IF NOT EXISTS api_status (
	key        VARCHAR(32) PRIMARY KEY,
	status     VARCHAR(8)  NOT NULL DEFAULT 'UP',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables the notifier needs if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
