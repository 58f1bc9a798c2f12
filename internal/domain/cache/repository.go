package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Repository defines the operations on snapshot cache entries.
type Repository interface {
	Get(ctx context.Context, key Key) (*Entry, error)
	Create(ctx context.Context, e *Entry) error
	// SetRefreshing raises or clears the in-flight refresh flag.
	SetRefreshing(ctx context.Context, key Key, refreshing bool, at time.Time) error
	// CompleteRefresh stores a new payload and clears the refresh flag.
	CompleteRefresh(ctx context.Context, key Key, payload json.RawMessage, at time.Time) error
	// ResetStaleRefreshes clears the refresh flag on entries whose refresh started before the cutoff.
	ResetStaleRefreshes(ctx context.Context, startedBefore time.Time) (int64, error)
}
