// internal/app/change_detector.go
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	idb "github.com/petroly-initiative/petroly-django-sub000/internal/infra/database"
)

// ChangeDetector compares fresh offerings with the last persisted observation
// and records the new observation.
type ChangeDetector struct {
	courses course.Repository
	now     func() time.Time
}

func NewChangeDetector(courses course.Repository) *ChangeDetector {
	return &ChangeDetector{courses: courses, now: time.Now}
}

// Observe diffs rec against the stored course and persists rec whether or not it changed,
// so LastUpdated always reflects the latest observation. key is the snapshot rec came
// from: the course stays filed under it whatever department the record itself names.
// raw is the record exactly as the registrar sent it; when empty, rec is re-encoded.
func (d *ChangeDetector) Observe(ctx context.Context, key cache.Key, rec course.Offering, raw json.RawMessage) (course.ChangeRecord, error) {
	old, err := d.courses.GetByCRN(ctx, rec.CRN)
	if errors.Is(err, idb.ErrCourseNotFound) {
		old = nil
	} else if err != nil {
		return course.ChangeRecord{}, fmt.Errorf("loading course %s: %w", rec.CRN, err)
	}
	// A row added by a user before any snapshot was seen carries no observation yet.
	if old != nil && !old.Observed() {
		old = nil
	}

	cr := course.Diff(old, rec)

	if len(raw) == 0 {
		if raw, err = json.Marshal(rec); err != nil {
			return course.ChangeRecord{}, fmt.Errorf("encoding course %s: %w", rec.CRN, err)
		}
	}
	updated := course.Course{
		CRN:              rec.CRN,
		Term:             key.Term,
		Department:       key.Department,
		AvailableSeats:   rec.AvailableSeats,
		WaitingListCount: rec.WaitingListCount,
		Raw:              raw,
		LastUpdated:      d.now(),
	}
	if err := d.courses.Upsert(ctx, &updated); err != nil {
		return course.ChangeRecord{}, fmt.Errorf("saving course %s: %w", rec.CRN, err)
	}

	cr.Course = updated
	return cr, nil
}
