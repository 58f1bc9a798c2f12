package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/apistatus"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/email"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/tracking"
	idb "github.com/petroly-initiative/petroly-django-sub000/internal/infra/database"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/taskqueue"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// --- cache ---

type memCacheRepo struct {
	mu      sync.Mutex
	entries map[cache.Key]cache.Entry
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{entries: make(map[cache.Key]cache.Entry)}
}

func (r *memCacheRepo) put(e cache.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Key] = e
}

func (r *memCacheRepo) entry(key cache.Key) (cache.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

func (r *memCacheRepo) Get(_ context.Context, key cache.Key) (*cache.Entry, error) {
	e, ok := r.entry(key)
	if !ok {
		return nil, idb.ErrCacheEntryNotFound
	}
	return &e, nil
}

func (r *memCacheRepo) Create(_ context.Context, e *cache.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Key]; ok {
		return idb.ErrDuplicateCacheEntry
	}
	r.entries[e.Key] = *e
	return nil
}

func (r *memCacheRepo) SetRefreshing(_ context.Context, key cache.Key, refreshing bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return idb.ErrCacheEntryNotFound
	}
	e.IsRefreshing = refreshing
	e.RefreshStartedAt = nullTime(at)
	if !refreshing {
		e.RefreshStartedAt.Valid = false
	}
	r.entries[key] = e
	return nil
}

func (r *memCacheRepo) CompleteRefresh(_ context.Context, key cache.Key, payload json.RawMessage, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[key]
	e.Key = key
	e.Payload = payload
	e.UpdatedAt = at
	e.IsRefreshing = false
	e.RefreshStartedAt.Valid = false
	r.entries[key] = e
	return nil
}

func (r *memCacheRepo) ResetStaleRefreshes(_ context.Context, startedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, e := range r.entries {
		if e.IsRefreshing && (!e.RefreshStartedAt.Valid || e.RefreshStartedAt.Time.Before(startedBefore)) {
			e.IsRefreshing = false
			e.RefreshStartedAt.Valid = false
			r.entries[k] = e
			n++
		}
	}
	return n, nil
}

// --- courses ---

type memCourseRepo struct {
	mu      sync.Mutex
	courses map[course.CRN]course.Course
	upserts int
}

func newMemCourseRepo(cs ...course.Course) *memCourseRepo {
	r := &memCourseRepo{courses: make(map[course.CRN]course.Course)}
	for _, c := range cs {
		r.courses[c.CRN] = c
	}
	return r
}

func (r *memCourseRepo) GetByCRN(_ context.Context, crn course.CRN) (*course.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[crn]
	if !ok {
		return nil, idb.ErrCourseNotFound
	}
	return &c, nil
}

func (r *memCourseRepo) Upsert(_ context.Context, c *course.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[c.CRN] = *c
	r.upserts++
	return nil
}

// --- tracking ---

type memTrackingRepo struct {
	lists []*tracking.List
	err   error
}

func (r *memTrackingRepo) GetByID(_ context.Context, id int64) (*tracking.List, error) {
	for _, l := range r.lists {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, idb.ErrTrackingListNotFound
}

func (r *memTrackingRepo) ListWithCourses(context.Context) ([]*tracking.List, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.lists, nil
}

// --- status ---

type memStatusRepo struct {
	mu     sync.Mutex
	status apistatus.Status
	reads  int
}

func (r *memStatusRepo) GetOrCreate(_ context.Context, key string) (*apistatus.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.status == "" {
		r.status = apistatus.StatusUp
	}
	return &apistatus.Record{Key: key, Status: r.status}, nil
}

func (r *memStatusRepo) Set(_ context.Context, _ string, status apistatus.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	return nil
}

func (r *memStatusRepo) get() apistatus.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// --- task queue ---

// recordingQueue keeps enqueued tasks until the test runs them. It rejects duplicate
// names of tasks not yet run, like the real queue.
type recordingQueue struct {
	mu      sync.Mutex
	pending []taskqueue.Task
	names   []string
	err     error
	hook    func(t taskqueue.Task) error
}

func (q *recordingQueue) Enqueue(t taskqueue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.hook != nil {
		if err := q.hook(t); err != nil {
			return err
		}
	}
	if q.err != nil {
		return q.err
	}
	for _, p := range q.pending {
		if p.Name == t.Name {
			return taskqueue.ErrDuplicateTask
		}
	}
	q.pending = append(q.pending, t)
	q.names = append(q.names, t.Name)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.names)
}

func (q *recordingQueue) enqueuedNames() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := append([]string(nil), q.names...)
	sort.Strings(names)
	return names
}

// runAll executes and drops every pending task, returning their errors.
func (q *recordingQueue) runAll(ctx context.Context) []error {
	q.mu.Lock()
	tasks := q.pending
	q.pending = nil
	q.mu.Unlock()

	var errs []error
	for _, t := range tasks {
		if err := t.Fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// --- registrar ---

type fakeRegistrar struct {
	mu        sync.Mutex
	offerings map[cache.Key][]course.Offering
	fetchErr  error
	fetches   int
	up        bool
	probeErr  error
	probes    int
}

func (r *fakeRegistrar) Fetch(_ context.Context, term, department string) ([]course.Offering, json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	if r.fetchErr != nil {
		return nil, nil, r.fetchErr
	}
	offerings := r.offerings[cache.Key{Term: term, Department: department}]
	raw, err := json.Marshal(offerings)
	if err != nil {
		return nil, nil, err
	}
	return offerings, raw, nil
}

func (r *fakeRegistrar) Probe(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes++
	return r.up, r.probeErr
}

func (r *fakeRegistrar) probeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probes
}

func (r *fakeRegistrar) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

// --- delivery ---

type sentMessage struct {
	chatID int64
	text   string
}

type fakeTelegram struct {
	sent []sentMessage
	err  error
}

func (f *fakeTelegram) SendMessage(chatID int64, text string, _ *telebot.SendOptions) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type fakeEmail struct {
	sent []email.Message
	err  error
}

func (f *fakeEmail) Send(_ context.Context, msg email.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

var errBoom = errors.New("boom")

func offeringsJSON(offerings ...course.Offering) json.RawMessage {
	raw, err := json.Marshal(offerings)
	if err != nil {
		panic(err)
	}
	return raw
}
