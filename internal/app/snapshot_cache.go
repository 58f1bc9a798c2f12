// internal/app/snapshot_cache.go
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
	idb "github.com/petroly-initiative/petroly-django-sub000/internal/infra/database"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/taskqueue"
)

// RefreshFunc performs the network refresh of one cache key.
type RefreshFunc func(ctx context.Context, key cache.Key) error

// SnapshotCache serves registrar snapshots with stale-while-revalidate semantics.
// Reads never touch the network: refreshes are handed to the task queue.
type SnapshotCache struct {
	repo    cache.Repository
	queue   TaskQueue
	refresh RefreshFunc
	fresh   time.Duration
	swr     time.Duration
	now     func() time.Time
	logger  *logrus.Entry
}

func NewSnapshotCache(repo cache.Repository, queue TaskQueue, fresh, swr time.Duration, logger *logrus.Entry) *SnapshotCache {
	return &SnapshotCache{
		repo:   repo,
		queue:  queue,
		fresh:  fresh,
		swr:    swr,
		now:    time.Now,
		logger: logger,
	}
}

// SetRefresher wires the function refresh tasks run. It is set after construction
// because the fetcher itself completes refreshes through the cache.
func (c *SnapshotCache) SetRefresher(fn RefreshFunc) {
	c.refresh = fn
}

func refreshTaskName(key cache.Key) string {
	return "refresh:" + key.String()
}

// GetOrTriggerRefresh returns the last known payload for (term, department) and
// schedules a background refresh when the entry is missing or past its fresh window.
func (c *SnapshotCache) GetOrTriggerRefresh(ctx context.Context, term, department string) (json.RawMessage, error) {
	key := cache.Key{Term: term, Department: department}
	logCtx := c.logger.WithFields(logrus.Fields{"term": term, "department": department})
	now := c.now()

	entry, err := c.repo.Get(ctx, key)
	if errors.Is(err, idb.ErrCacheEntryNotFound) {
		entry = &cache.Entry{
			Key:              key,
			IsRefreshing:     true,
			RefreshStartedAt: nullTime(now),
		}
		if err := c.repo.Create(ctx, entry); err != nil {
			return nil, fmt.Errorf("creating cache entry %s: %w", key, err)
		}
		logCtx.Info("Cache miss, scheduling first refresh")
		c.trigger(ctx, key, logCtx)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	age := entry.Age(now)
	switch {
	case age <= c.fresh:
		logCtx.Debug("Cache hit, fresh")
		return entry.Payload, nil
	case entry.IsRefreshing:
		logCtx.WithField("age", age).Debug("Cache hit, refresh already in flight")
		return entry.Payload, nil
	}

	// Past the fresh window: serve what we have and revalidate in the background.
	// Past the SWR window too we still serve stale data rather than block.
	if age > c.swr {
		logCtx.WithField("age", age).Warn("Cache entry older than the stale-while-revalidate window, serving stale")
	} else {
		logCtx.WithField("age", age).Debug("Cache hit, stale; revalidating")
	}
	if err := c.repo.SetRefreshing(ctx, key, true, now); err != nil {
		return entry.Payload, fmt.Errorf("marking cache entry %s refreshing: %w", key, err)
	}
	c.trigger(ctx, key, logCtx)
	return entry.Payload, nil
}

// trigger enqueues the refresh. A full queue clears the flag again so the next read retries;
// a duplicate means a refresh for this key is already queued, so the flag stays.
func (c *SnapshotCache) trigger(ctx context.Context, key cache.Key, logCtx *logrus.Entry) {
	if c.refresh == nil {
		logCtx.Error("No refresher configured, cache entry will not be refreshed")
		return
	}
	err := c.queue.Enqueue(taskqueue.Task{
		Name:  refreshTaskName(key),
		Group: groupRefresh,
		Fn: func(ctx context.Context) error {
			return c.refresh(ctx, key)
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, taskqueue.ErrDuplicateTask):
		logCtx.Debug("Refresh already queued")
	default:
		logCtx.WithError(err).Error("Failed to enqueue refresh")
		if errReset := c.repo.SetRefreshing(ctx, key, false, c.now()); errReset != nil {
			logCtx.WithError(errReset).Error("Failed to clear refreshing flag after enqueue failure")
		}
	}
}

// CompleteRefresh stores a freshly fetched payload.
func (c *SnapshotCache) CompleteRefresh(ctx context.Context, term, department string, payload json.RawMessage) error {
	key := cache.Key{Term: term, Department: department}
	if err := c.repo.CompleteRefresh(ctx, key, payload, c.now()); err != nil {
		return fmt.Errorf("completing refresh of %s: %w", key, err)
	}
	return nil
}

// ReleaseStaleRefreshes clears refresh flags raised longer ago than timeout.
func (c *SnapshotCache) ReleaseStaleRefreshes(ctx context.Context, timeout time.Duration) (int64, error) {
	n, err := c.repo.ResetStaleRefreshes(ctx, c.now().Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("resetting stale refreshes: %w", err)
	}
	return n, nil
}
