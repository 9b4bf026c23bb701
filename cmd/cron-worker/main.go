package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/intake-backend/internal/cron"
	"github.com/angelmondragon/intake-backend/internal/drafts"
	"github.com/angelmondragon/intake-backend/pkg/config"
	"github.com/angelmondragon/intake-backend/pkg/crm"
	"github.com/angelmondragon/intake-backend/pkg/db"
	"github.com/angelmondragon/intake-backend/pkg/instance"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/metrics"
	"github.com/angelmondragon/intake-backend/pkg/migrate"
	"github.com/angelmondragon/intake-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	crmClient, err := crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIToken, cfg.CRM.BoardID, crm.WithTimeout(cfg.CRM.Timeout))
	if err != nil {
		logg.Error(context.Background(), "failed to create crm client", err)
		os.Exit(1)
	}

	draftService, err := drafts.NewService(drafts.ServiceParams{
		Repo:   drafts.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		CRM:    crmClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create drafts service", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewDraftRetentionJob(cron.DraftRetentionJobParams{
		Logger:        logg,
		Drafts:        draftService,
		RetentionDays: cfg.Drafts.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create draft retention job", err)
		os.Exit(1)
	}
	reconcileJob, err := cron.NewBackingRecordJob(cron.BackingRecordJobParams{
		Logger:    logg,
		Drafts:    draftService,
		BatchSize: cfg.Cron.ReconcileBatch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create backing record job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(retentionJob, reconcileJob)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Cron.Interval.String(),
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
