package app

import (
	"context"
	"encoding/json"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/taskqueue"
)

// TaskQueue accepts fire-and-forget background work. Enqueue must never block.
type TaskQueue interface {
	Enqueue(t taskqueue.Task) error
}

// Registrar is the upstream course-offering API.
type Registrar interface {
	Fetch(ctx context.Context, term, department string) ([]course.Offering, json.RawMessage, error)
	Probe(ctx context.Context) (bool, error)
}

const (
	groupRefresh       = "refresh"
	groupNotifications = "notifications"
)
