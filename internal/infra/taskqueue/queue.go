// Package taskqueue runs named background tasks on a fixed pool of workers.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull     = errors.New("task queue is full")
	ErrDuplicateTask = errors.New("task with the same name is already pending")
	ErrQueueClosed   = errors.New("task queue is closed")
)

// Task is one unit of background work. Name doubles as the dedup key: while a task
// is pending or running, another task with the same name is rejected.
type Task struct {
	Name  string
	Group string
	Fn    func(ctx context.Context) error
}

type Options struct {
	Workers      int
	Size         int
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Queue struct {
	opts   Options
	tasks  chan Task
	logger *logrus.Entry

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(opts Options, logger *logrus.Entry) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Queue{
		opts:     opts,
		tasks:    make(chan Task, opts.Size),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Enqueue hands a task to the workers without blocking.
func (q *Queue) Enqueue(t Task) error {
	if t.Fn == nil {
		return fmt.Errorf("task %q has no function", t.Name)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.inflight[t.Name]; ok {
		return ErrDuplicateTask
	}
	select {
	case q.tasks <- t:
		q.inflight[t.Name] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports whether a task with this name is queued or running.
func (q *Queue) Pending(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inflight[name]
	return ok
}

// Start launches the workers. Cancelling ctx interrupts retry waits and is passed to tasks.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
	q.logger.WithField("workers", q.opts.Workers).Info("Starting task queue workers")
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
}

// Stop refuses new tasks, lets the workers drain what is already queued, and waits for them.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	cancel := q.cancel
	q.mu.Unlock()

	q.wg.Wait()
	if cancel != nil {
		cancel()
	}
	q.logger.Info("Task queue stopped")
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(ctx, t)
		q.release(t.Name)
	}
	q.logger.WithField("worker", id).Debug("Worker exited")
}

func (q *Queue) release(name string) {
	q.mu.Lock()
	delete(q.inflight, name)
	q.mu.Unlock()
}

func (q *Queue) run(ctx context.Context, t Task) {
	backoff := q.opts.RetryBackoff
	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		logCtx := q.logger.WithFields(logrus.Fields{
			"task":    t.Name,
			"group":   t.Group,
			"attempt": attempt,
		})

		err := q.call(ctx, t)
		if err == nil {
			logCtx.Debug("Task completed")
			return
		}
		if attempt == q.opts.MaxAttempts {
			logCtx.WithError(err).Error("Task failed, giving up")
			return
		}
		logCtx.WithError(err).Warnf("Task failed, retrying in %s", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			logCtx.Warn("Queue context cancelled, dropping task retries")
			return
		case <-timer.C:
		}
		backoff *= 2
	}
}

// call runs the task function and turns a panic into an error so one task cannot kill a worker.
func (q *Queue) call(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.Name, r)
		}
	}()
	return t.Fn(ctx)
}
