package course

import "context"

// Repository defines operations for persisting course observations.
type Repository interface {
	GetByCRN(ctx context.Context, crn CRN) (*Course, error)
	// Upsert creates the course or overwrites its counters, raw record and LastUpdated.
	Upsert(ctx context.Context, c *Course) error
}
