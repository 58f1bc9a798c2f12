// internal/app/fanout.go
package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/notification"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/tracking"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/taskqueue"
)

// Batch is everything one tracker should hear about in one cycle.
type Batch struct {
	Tracker *tracking.List
	Entries []notification.Entry
}

// GroupByTracker collects the changed courses of a cycle into one batch per tracker.
func GroupByTracker(changed []course.ChangeRecord, set *TrackedSet) map[int64]*Batch {
	batches := make(map[int64]*Batch)
	for _, cr := range changed {
		if !cr.Changed {
			continue
		}
		tc, ok := set.Courses[cr.Course.CRN]
		if !ok {
			continue
		}
		for _, tr := range tc.Trackers {
			b, ok := batches[tr.ID]
			if !ok {
				b = &Batch{Tracker: tr}
				batches[tr.ID] = b
			}
			b.Entries = append(b.Entries, notification.Entry{Course: cr.Course, Status: cr.New})
		}
	}
	return batches
}

// Sender delivers one notification job; it runs on the task queue.
type Sender interface {
	Send(ctx context.Context, job notification.Job) error
}

type Fanout struct {
	queue  TaskQueue
	sender Sender
	logger *logrus.Entry
}

func NewFanout(queue TaskQueue, sender Sender, logger *logrus.Entry) *Fanout {
	return &Fanout{queue: queue, sender: sender, logger: logger}
}

func notifyTaskName(trackerID int64, cycleID uuid.UUID) string {
	return fmt.Sprintf("notify:%d:%s", trackerID, cycleID)
}

// Dispatch enqueues one send task per tracker. A failed enqueue is logged and does not
// stop the others. It returns the number of tasks enqueued.
func (f *Fanout) Dispatch(ctx context.Context, cycleID uuid.UUID, batches map[int64]*Batch) int {
	ids := make([]int64, 0, len(batches))
	for id := range batches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	enqueued := 0
	for _, id := range ids {
		b := batches[id]
		job := notification.Job{
			TrackerID: id,
			UserID:    b.Tracker.UserID,
			CycleID:   cycleID,
			Entries:   b.Entries,
			Channels:  b.Tracker.Channels,
		}
		logCtx := f.logger.WithFields(logrus.Fields{
			"tracker_id": id,
			"cycle_id":   cycleID,
			"entries":    len(job.Entries),
		})

		err := f.queue.Enqueue(taskqueue.Task{
			Name:  notifyTaskName(id, cycleID),
			Group: groupNotifications,
			Fn: func(ctx context.Context) error {
				return f.sender.Send(ctx, job)
			},
		})
		if err != nil {
			logCtx.WithError(err).Error("Failed to enqueue notification")
			continue
		}
		logCtx.Info("Notification enqueued")
		enqueued++
	}
	return enqueued
}
