// internal/domain/notification/job.go
package notification

import (
	"github.com/google/uuid"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/tracking"
)

// Entry is one changed course inside a tracker's batch.
type Entry struct {
	Course course.Course
	Status course.Status
}

// Job is the batch of changes delivered to one tracker for one poll cycle.
type Job struct {
	TrackerID int64
	UserID    int64
	CycleID   uuid.UUID
	Entries   []Entry
	Channels  []tracking.Channel
}
