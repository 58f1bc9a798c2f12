package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
)

// Fetcher is the body of refresh tasks: it downloads a snapshot and stores it.
type Fetcher struct {
	registrar Registrar
	cache     *SnapshotCache
	logger    *logrus.Entry
}

func NewFetcher(registrar Registrar, cache *SnapshotCache, logger *logrus.Entry) *Fetcher {
	return &Fetcher{registrar: registrar, cache: cache, logger: logger}
}

// Refresh fetches one key. On failure the entry keeps its refreshing flag so reads
// do not pile up duplicate fetches; the lease reaper, when enabled, releases it.
func (f *Fetcher) Refresh(ctx context.Context, key cache.Key) error {
	logCtx := f.logger.WithFields(logrus.Fields{"term": key.Term, "department": key.Department})

	offerings, payload, err := f.registrar.Fetch(ctx, key.Term, key.Department)
	if err != nil {
		logCtx.WithError(err).Error("Failed to fetch offerings")
		return err
	}
	if err := f.cache.CompleteRefresh(ctx, key.Term, key.Department, payload); err != nil {
		logCtx.WithError(err).Error("Failed to store fetched offerings")
		return err
	}
	logCtx.WithField("offerings", len(offerings)).Info("Cache entry refreshed")
	return nil
}
