// internal/app/supervisor.go
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/apistatus"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
)

// State of the poll loop.
type State int32

const (
	StateRunning State = iota
	StateAPIDown
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateAPIDown:
		return "API_DOWN"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const probeTimeout = 30 * time.Second

type SupervisorConfig struct {
	PollInterval   time.Duration
	APIDownBackoff time.Duration
}

// Supervisor drives the polling loop: collect tracked courses, diff them against
// cached snapshots, fan out the changes, sleep, repeat.
type Supervisor struct {
	aggregator *TrackerAggregator
	cache      *SnapshotCache
	detector   *ChangeDetector
	fanout     *Fanout
	status     apistatus.Repository
	registrar  Registrar
	cfg        SupervisorConfig
	logger     *logrus.Entry

	state    atomic.Int32
	stopping atomic.Bool
	cycles   atomic.Int64

	newCycleID func() uuid.UUID
}

func NewSupervisor(
	aggregator *TrackerAggregator,
	cache *SnapshotCache,
	detector *ChangeDetector,
	fanout *Fanout,
	status apistatus.Repository,
	registrar Registrar,
	cfg SupervisorConfig,
	logger *logrus.Entry,
) *Supervisor {
	return &Supervisor{
		aggregator: aggregator,
		cache:      cache,
		detector:   detector,
		fanout:     fanout,
		status:     status,
		registrar:  registrar,
		cfg:        cfg,
		logger:     logger,
		newCycleID: uuid.New,
	}
}

func (s *Supervisor) State() State { return State(s.state.Load()) }
func (s *Supervisor) Stopping() bool { return s.stopping.Load() }
func (s *Supervisor) Iterations() int64 { return s.cycles.Load() }

func (s *Supervisor) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.logger.WithFields(logrus.Fields{"from": old, "to": st}).Info("Poll loop state changed")
	}
}

// Run polls until ctx is cancelled. Cancellation is observed between iterations only:
// an iteration in progress always completes, only its trailing sleep is cut short.
func (s *Supervisor) Run(ctx context.Context) error {
	rec, err := s.status.GetOrCreate(ctx, apistatus.KeyAPI)
	if err != nil {
		return fmt.Errorf("reading API status: %w", err)
	}
	s.setState(StateRunning)
	s.logger.WithField("api_status", rec.Status).Info("Poll loop started")

	for {
		if ctx.Err() != nil {
			s.stopping.Store(true)
			s.setState(StateStopping)
			break
		}
		s.iterate(ctx)
		s.cycles.Add(1)
	}

	s.setState(StateStopped)
	s.logger.WithField("iterations", s.Iterations()).Info("Poll loop stopped")
	return nil
}

func (s *Supervisor) iterate(ctx context.Context) {
	work := context.WithoutCancel(ctx)

	apiDown := false
	s.guard("status check", func() error {
		rec, err := s.status.GetOrCreate(work, apistatus.KeyAPI)
		if err != nil {
			return fmt.Errorf("reading API status: %w", err)
		}
		apiDown = rec.Status == apistatus.StatusDown
		return nil
	})

	if apiDown {
		s.setState(StateAPIDown)
		s.logger.WithField("backoff", s.cfg.APIDownBackoff).Warn("Registrar API is down, skipping tracking work")
		sleep(ctx, s.cfg.APIDownBackoff)
		s.guard("API probe", func() error { return s.probe(work) })
		return
	}

	s.setState(StateRunning)
	s.guard("poll cycle", func() error { return s.runCycle(work) })
	sleep(ctx, s.cfg.PollInterval)
}

// guard runs fn and logs its error or panic; one failed step never ends the loop.
func (s *Supervisor) guard(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("step", step).Errorf("Recovered from panic: %v", r)
		}
	}()
	if err := fn(); err != nil {
		s.logger.WithField("step", step).WithError(err).Error("Poll loop step failed")
	}
}

func (s *Supervisor) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	up, err := s.registrar.Probe(ctx)
	if err != nil {
		return fmt.Errorf("probing registrar: %w", err)
	}
	if !up {
		s.logger.Info("Registrar API still down")
		return nil
	}
	if err := s.status.Set(ctx, apistatus.KeyAPI, apistatus.StatusUp); err != nil {
		return fmt.Errorf("marking API up: %w", err)
	}
	s.setState(StateRunning)
	s.logger.Info("Registrar API is back up")
	return nil
}

// runCycle finishes every diff before fan-out starts, so fan-out sees one consistent
// set of changes.
func (s *Supervisor) runCycle(ctx context.Context) error {
	cycleID := s.newCycleID()
	logCtx := s.logger.WithField("cycle_id", cycleID)

	set, err := s.aggregator.CollectTracked(ctx)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		logCtx.Debug("No tracked courses")
		return nil
	}

	batches := set.Batches()
	var changed []course.ChangeRecord
	for _, key := range SortedKeys(batches) {
		keyLog := logCtx.WithFields(logrus.Fields{"term": key.Term, "department": key.Department})

		payload, err := s.cache.GetOrTriggerRefresh(ctx, key.Term, key.Department)
		if err != nil {
			keyLog.WithError(err).Error("Failed to read snapshot")
			continue
		}
		if len(payload) == 0 {
			keyLog.Debug("No snapshot yet")
			continue
		}
		byCRN, err := decodeSnapshot(payload)
		if err != nil {
			keyLog.WithError(err).Error("Cached snapshot is not a list of offerings")
			continue
		}

		for _, crn := range batches[key] {
			rec, ok := byCRN[crn]
			if !ok {
				keyLog.WithField("crn", crn).Debug("Tracked course missing from snapshot")
				continue
			}
			cr, err := s.detector.Observe(ctx, key, rec.offering, rec.raw)
			if err != nil {
				keyLog.WithField("crn", crn).WithError(err).Error("Failed to record observation")
				continue
			}
			if cr.Changed {
				changed = append(changed, cr)
			}
		}
	}

	if len(changed) == 0 {
		logCtx.WithField("tracked", set.Len()).Debug("No changes this cycle")
		return nil
	}
	enqueued := s.fanout.Dispatch(ctx, cycleID, GroupByTracker(changed, set))
	logCtx.WithFields(logrus.Fields{
		"changed":       len(changed),
		"notifications": enqueued,
	}).Info("Poll cycle dispatched notifications")
	return nil
}

type snapshotRecord struct {
	offering course.Offering
	raw      json.RawMessage
}

// decodeSnapshot indexes a cached payload by CRN, keeping every record as the
// registrar sent it next to its decoded form.
func decodeSnapshot(payload json.RawMessage) (map[course.CRN]snapshotRecord, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, err
	}
	byCRN := make(map[course.CRN]snapshotRecord, len(raws))
	for i, raw := range raws {
		var o course.Offering
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		byCRN[o.CRN] = snapshotRecord{offering: o, raw: raw}
	}
	return byCRN, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
