package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/taskqueue"
)

var acfn = cache.Key{Term: "202210", Department: "ACFN"}

type cacheFixture struct {
	repo    *memCacheRepo
	queue   *recordingQueue
	clock   *fakeClock
	cache   *SnapshotCache
	fetcher *Fetcher
	reg     *fakeRegistrar
}

func newCacheFixture() *cacheFixture {
	f := &cacheFixture{
		repo:  newMemCacheRepo(),
		queue: &recordingQueue{},
		clock: &fakeClock{t: time.Date(2022, 9, 1, 8, 0, 0, 0, time.UTC)},
		reg:   &fakeRegistrar{offerings: map[cache.Key][]course.Offering{}},
	}
	f.cache = NewSnapshotCache(f.repo, f.queue, 300*time.Second, 360*time.Second, quietLogger())
	f.cache.now = f.clock.Now
	f.fetcher = NewFetcher(f.reg, f.cache, quietLogger())
	f.cache.SetRefresher(f.fetcher.Refresh)
	return f
}

func (f *cacheFixture) seed(age time.Duration, refreshing bool, payload json.RawMessage) {
	f.repo.put(cache.Entry{
		Key:          acfn,
		UpdatedAt:    f.clock.Now().Add(-age),
		IsRefreshing: refreshing,
		Payload:      payload,
	})
}

func TestGetOrTriggerRefreshMissingEntry(t *testing.T) {
	f := newCacheFixture()
	ctx := context.Background()

	payload, err := f.cache.GetOrTriggerRefresh(ctx, acfn.Term, acfn.Department)
	require.NoError(t, err)
	assert.Nil(t, payload)

	e, ok := f.repo.entry(acfn)
	require.True(t, ok)
	assert.True(t, e.IsRefreshing)
	assert.True(t, e.RefreshStartedAt.Valid)
	assert.Equal(t, []string{"refresh:202210:ACFN"}, f.queue.enqueuedNames())
	assert.Zero(t, f.reg.fetchCount(), "reads must not touch the network")
}

func TestGetOrTriggerRefreshWindows(t *testing.T) {
	stale := offeringsJSON(course.Offering{CRN: "11243", AvailableSeats: 0})

	tests := []struct {
		name         string
		age          time.Duration
		refreshing   bool
		wantEnqueued int
		wantFlag     bool
	}{
		{name: "fresh", age: 10 * time.Second, wantEnqueued: 0, wantFlag: false},
		{name: "exactly at fresh boundary", age: 300 * time.Second, wantEnqueued: 0, wantFlag: false},
		{name: "fresh while refreshing", age: 10 * time.Second, refreshing: true, wantEnqueued: 0, wantFlag: true},
		{name: "stale within swr", age: 330 * time.Second, wantEnqueued: 1, wantFlag: true},
		{name: "at swr boundary", age: 360 * time.Second, wantEnqueued: 1, wantFlag: true},
		{name: "beyond swr still served", age: time.Hour, wantEnqueued: 1, wantFlag: true},
		{name: "stale but refreshing", age: 330 * time.Second, refreshing: true, wantEnqueued: 0, wantFlag: true},
		{name: "beyond swr but refreshing", age: time.Hour, refreshing: true, wantEnqueued: 0, wantFlag: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCacheFixture()
			f.seed(tt.age, tt.refreshing, stale)

			payload, err := f.cache.GetOrTriggerRefresh(context.Background(), acfn.Term, acfn.Department)
			require.NoError(t, err)

			assert.JSONEq(t, string(stale), string(payload))
			assert.Equal(t, tt.wantEnqueued, f.queue.count())
			e, _ := f.repo.entry(acfn)
			assert.Equal(t, tt.wantFlag, e.IsRefreshing)
		})
	}
}

func TestStaleReadEnqueuesOnlyOnce(t *testing.T) {
	f := newCacheFixture()
	f.seed(330*time.Second, false, offeringsJSON())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.cache.GetOrTriggerRefresh(ctx, acfn.Term, acfn.Department)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.queue.count())
}

func TestRefreshCompletesEntry(t *testing.T) {
	f := newCacheFixture()
	ctx := context.Background()
	f.reg.offerings[acfn] = []course.Offering{{CRN: "11243", AvailableSeats: 1}}

	_, err := f.cache.GetOrTriggerRefresh(ctx, acfn.Term, acfn.Department)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Second)
	require.Empty(t, f.queue.runAll(ctx))

	e, _ := f.repo.entry(acfn)
	assert.False(t, e.IsRefreshing)
	assert.Equal(t, f.clock.Now(), e.UpdatedAt)

	payload, err := f.cache.GetOrTriggerRefresh(ctx, acfn.Term, acfn.Department)
	require.NoError(t, err)
	var got []course.Offering
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].AvailableSeats)
	assert.Equal(t, 1, f.queue.count(), "a fresh entry must not trigger another refresh")
}

func TestFailedRefreshKeepsFlag(t *testing.T) {
	f := newCacheFixture()
	ctx := context.Background()
	f.seed(400*time.Second, false, offeringsJSON())
	f.reg.fetchErr = errBoom

	_, err := f.cache.GetOrTriggerRefresh(ctx, acfn.Term, acfn.Department)
	require.NoError(t, err)
	errs := f.queue.runAll(ctx)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], errBoom)

	e, _ := f.repo.entry(acfn)
	assert.True(t, e.IsRefreshing, "a failed fetch leaves the entry refreshing")

	_, err = f.cache.GetOrTriggerRefresh(ctx, acfn.Term, acfn.Department)
	require.NoError(t, err)
	assert.Equal(t, 1, f.queue.count(), "no refresh storm after a failure")
}

func TestReleaseStaleRefreshes(t *testing.T) {
	f := newCacheFixture()
	ctx := context.Background()
	f.seed(400*time.Second, false, offeringsJSON())
	f.reg.fetchErr = errBoom

	_, err := f.cache.GetOrTriggerRefresh(ctx, acfn.Term, acfn.Department)
	require.NoError(t, err)
	f.queue.runAll(ctx)

	f.clock.Advance(5 * time.Minute)
	n, err := f.cache.ReleaseStaleRefreshes(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(6 * time.Minute)
	n, err = f.cache.ReleaseStaleRefreshes(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.cache.GetOrTriggerRefresh(ctx, acfn.Term, acfn.Department)
	require.NoError(t, err)
	assert.Equal(t, 2, f.queue.count())
}

func TestEnqueueFailureHandling(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantFlag bool
	}{
		{name: "queue full clears the flag", err: taskqueue.ErrQueueFull, wantFlag: false},
		{name: "duplicate keeps the flag", err: taskqueue.ErrDuplicateTask, wantFlag: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCacheFixture()
			f.seed(330*time.Second, false, offeringsJSON())
			f.queue.err = tt.err

			payload, err := f.cache.GetOrTriggerRefresh(context.Background(), acfn.Term, acfn.Department)
			require.NoError(t, err)
			assert.NotNil(t, payload)

			e, _ := f.repo.entry(acfn)
			assert.Equal(t, tt.wantFlag, e.IsRefreshing)
		})
	}
}
