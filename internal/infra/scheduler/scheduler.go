package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/apistatus"
)

// Prober reports whether the registrar API is serving normally.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// LeaseReleaser clears refresh flags that have been held for longer than timeout.
type LeaseReleaser interface {
	ReleaseStaleRefreshes(ctx context.Context, timeout time.Duration) (int64, error)
}

// MaintenanceScheduler runs the periodic jobs that sit beside the poll loop:
// the registrar health check and, when enabled, the refresh lease reaper.
type MaintenanceScheduler struct {
	cronEngine          *cron.Cron
	prober              Prober
	statusRepo          apistatus.Repository
	leases              LeaseReleaser
	logger              *logrus.Entry
	cronSpecHealthCheck string
	cronSpecLeaseReaper string
	leaseTimeout        time.Duration
}

func NewMaintenanceScheduler(
	prober Prober,
	statusRepo apistatus.Repository,
	leases LeaseReleaser,
	logger *logrus.Entry,
	cronSpecHealthCheck string, // e.g. "@every 1m"
	cronSpecLeaseReaper string, // e.g. "@every 1m"
	leaseTimeout time.Duration, // 0 disables the reaper
) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cronEngine:          cron.New(cron.WithLocation(time.Local)),
		prober:              prober,
		statusRepo:          statusRepo,
		leases:              leases,
		logger:              logger,
		cronSpecHealthCheck: cronSpecHealthCheck,
		cronSpecLeaseReaper: cronSpecLeaseReaper,
		leaseTimeout:        leaseTimeout,
	}
}

func (s *MaintenanceScheduler) Start() error {
	s.logger.Info("Starting maintenance scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecHealthCheck, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.CheckHealth(ctx); err != nil {
			s.logger.WithError(err).Error("Error during registrar health check")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add health check cron job: %w", err)
	}

	if s.leaseTimeout > 0 {
		_, err = s.cronEngine.AddFunc(s.cronSpecLeaseReaper, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.ReapLeases(ctx); err != nil {
				s.logger.WithError(err).Error("Error during refresh lease reaping")
			}
		})
		if err != nil {
			return fmt.Errorf("could not add lease reaper cron job: %w", err)
		}
	} else {
		s.logger.Warn("Refresh lease reaper disabled: a failed refresh keeps its cache entry marked refreshing until restart")
	}

	s.cronEngine.Start()
	s.logger.Info("Maintenance scheduler started with jobs.")
	return nil
}

// CheckHealth marks the registrar API down when a probe fails while it is considered up.
// Bringing it back up is the poll loop's job.
func (s *MaintenanceScheduler) CheckHealth(ctx context.Context) error {
	rec, err := s.statusRepo.GetOrCreate(ctx, apistatus.KeyAPI)
	if err != nil {
		return fmt.Errorf("reading API status: %w", err)
	}
	if rec.Status == apistatus.StatusDown {
		return nil
	}

	up, err := s.prober.Probe(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Registrar probe failed")
		up = false
	}
	if up {
		return nil
	}
	if err := s.statusRepo.Set(ctx, apistatus.KeyAPI, apistatus.StatusDown); err != nil {
		return fmt.Errorf("marking API down: %w", err)
	}
	s.logger.Warn("Registrar API marked DOWN")
	return nil
}

func (s *MaintenanceScheduler) ReapLeases(ctx context.Context) error {
	n, err := s.leases.ReleaseStaleRefreshes(ctx, s.leaseTimeout)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.WithField("released", n).Warn("Released stale refresh leases")
	}
	return nil
}

func (s *MaintenanceScheduler) Stop() {
	s.logger.Info("Stopping maintenance scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler gracefully stopped.")
}
