package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"

	"github.com/petroly-initiative/petroly-django-sub000/internal/app"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
	domainEmail "github.com/petroly-initiative/petroly-django-sub000/internal/domain/email"
	domainTelegram "github.com/petroly-initiative/petroly-django-sub000/internal/domain/telegram"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/config"
	idb "github.com/petroly-initiative/petroly-django-sub000/internal/infra/database"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/email"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/logger"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/registrar"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/scheduler"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/taskqueue"
	"github.com/petroly-initiative/petroly-django-sub000/internal/infra/telegram"
)

const appName = "Petroly"

func main() {
	cfg, err := config.Load()
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			logger.Log.WithField("key", cfgErr.Key).Fatalf("FATAL: Invalid configuration: %v", err)
		}
		logger.Log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment":   cfg.Environment,
		"cache_age":     cfg.CacheAge,
		"cache_swr":     cfg.CacheSWR,
		"poll_interval": cfg.PollInterval,
	}).Info("Course notifier starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.Fatalf("FATAL: Could not connect to database: %v", err)
	}
	defer db.Close()
	if err := idb.Migrate(ctx, db); err != nil {
		mainLogger.Fatalf("FATAL: Could not migrate database: %v", err)
	}
	mainLogger.Info("Database connection established successfully.")

	// Initialize Repositories
	cacheRepo := idb.NewPostgresCacheRepository(db)
	courseRepo := idb.NewPostgresCourseRepository(db)
	trackingRepo := idb.NewPostgresTrackingRepository(db)
	statusRepo := idb.NewPostgresStatusRepository(db)

	registrarClient := registrar.NewClient(cfg.RegistrarAPIURL, cfg.RegistrarRootURL, cfg.RegistrarMaintenanceMarker, cfg.RegistrarTimeout)

	queue := taskqueue.New(taskqueue.Options{
		Workers:      cfg.QueueWorkers,
		Size:         cfg.QueueSize,
		MaxAttempts:  cfg.QueueMaxAttempts,
		RetryBackoff: cfg.QueueRetryBackoff,
	}, logger.Component("taskqueue"))

	// Delivery channels are optional; a tracker choosing a missing one is skipped with a warning.
	var telegramClient domainTelegram.Client
	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken, func(err error, c telebot.Context) {
			logger.Component("telegram").WithError(err).Error("Telegram error")
		})
		if err != nil {
			mainLogger.Fatalf("FATAL: %v", err)
		}
		telegramClient = telegram.NewTelebotAdapter(bot)
		mainLogger.Info("Telegram channel enabled.")
	} else {
		mainLogger.Warn("TELEGRAM_TOKEN not set, Telegram channel disabled.")
	}
	var emailSender domainEmail.Sender
	if cfg.SendgridAPIKey != "" {
		emailSender = email.NewSendgridSender(cfg.SendgridAPIKey, cfg.EmailFrom, appName)
		mainLogger.Info("Email channel enabled.")
	} else {
		mainLogger.Warn("SENDGRID_API_KEY not set, email channel disabled.")
	}

	snapshotCache := app.NewSnapshotCache(cacheRepo, queue, cfg.CacheAge, cfg.CacheSWR, logger.Component("cache"))
	fetcher := app.NewFetcher(registrarClient, snapshotCache, logger.Component("fetcher"))
	snapshotCache.SetRefresher(func(ctx context.Context, key cache.Key) error {
		return fetcher.Refresh(ctx, key)
	})

	// The queue starts empty, so any flag still raised belongs to a previous process.
	if n, err := snapshotCache.ReleaseStaleRefreshes(ctx, 0); err != nil {
		mainLogger.WithError(err).Error("Could not release refresh flags left by a previous run")
	} else if n > 0 {
		mainLogger.WithField("released", n).Info("Released refresh flags left by a previous run")
	}

	notificationService := app.NewNotificationService(trackingRepo, telegramClient, emailSender, logger.Component("notifications"))
	supervisor := app.NewSupervisor(
		app.NewTrackerAggregator(trackingRepo),
		snapshotCache,
		app.NewChangeDetector(courseRepo),
		app.NewFanout(queue, notificationService, logger.Component("fanout")),
		statusRepo,
		registrarClient,
		app.SupervisorConfig{PollInterval: cfg.PollInterval, APIDownBackoff: cfg.APIDownBackoff},
		logger.Component("supervisor"),
	)

	maintenance := scheduler.NewMaintenanceScheduler(
		registrarClient,
		statusRepo,
		snapshotCache,
		logger.Component("scheduler"),
		cfg.CronSpecHealthCheck,
		cfg.CronSpecLeaseReaper,
		cfg.RefreshLeaseTimeout,
	)
	if err := maintenance.Start(); err != nil {
		mainLogger.Fatalf("FATAL: %v", err)
	}

	// Tasks keep running on a context that outlives the signal so queued
	// notifications drain during shutdown.
	queue.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		maintenance.Stop()
		return nil
	})

	mainLogger.Info("Application setup complete. Poll loop is running.")
	runErr := g.Wait()
	if runErr != nil {
		mainLogger.WithError(runErr).Error("Poll loop exited with error")
	}

	mainLogger.Info("Shutting down application...")
	queue.Stop()
	mainLogger.Info("Application shut down gracefully.")
	if runErr != nil {
		db.Close()
		os.Exit(1)
	}
}
