package tracking

import "context"

// Repository exposes tracking lists read-only; track/untrack happens elsewhere.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*List, error)
	// ListWithCourses returns every tracking list that watches at least one course,
	// with its courses loaded.
	ListWithCourses(ctx context.Context) ([]*List, error)
}
