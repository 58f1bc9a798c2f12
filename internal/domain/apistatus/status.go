package apistatus

import (
	"context"
	"time"
)

// KeyAPI is the key of the registrar API status row.
const KeyAPI = "API"

type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Record is a persisted health flag. Corresponds to the 'api_status' table.
type Record struct {
	Key       string
	Status    Status
	UpdatedAt time.Time
}

type Repository interface {
	// GetOrCreate returns the record for key, creating it as UP if missing.
	GetOrCreate(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, status Status) error
}
