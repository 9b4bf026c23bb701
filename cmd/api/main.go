package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/intake-backend/api/controllers"
	"github.com/angelmondragon/intake-backend/api/routes"
	"github.com/angelmondragon/intake-backend/internal/attachments"
	"github.com/angelmondragon/intake-backend/internal/drafts"
	"github.com/angelmondragon/intake-backend/internal/finalization"
	"github.com/angelmondragon/intake-backend/internal/notifications"
	"github.com/angelmondragon/intake-backend/pkg/config"
	"github.com/angelmondragon/intake-backend/pkg/crm"
	"github.com/angelmondragon/intake-backend/pkg/db"
	"github.com/angelmondragon/intake-backend/pkg/instance"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/metrics"
	"github.com/angelmondragon/intake-backend/pkg/migrate"
	"github.com/angelmondragon/intake-backend/pkg/pubsub"
	"github.com/angelmondragon/intake-backend/pkg/redis"
	"github.com/angelmondragon/intake-backend/pkg/storage/cloudinary"
	"github.com/angelmondragon/intake-backend/pkg/storage/gcs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	crmClient, err := crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIToken, cfg.CRM.BoardID, crm.WithTimeout(cfg.CRM.Timeout))
	if err != nil {
		return fmt.Errorf("create crm client: %w", err)
	}

	pingers := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}

	var publisher *notifications.Publisher
	if cfg.PubSub.IntakeTopic != "" {
		psClient, psErr := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if psErr != nil {
			return fmt.Errorf("bootstrap pubsub: %w", psErr)
		}
		defer func() { err = multierr.Append(err, psClient.Close()) }()
		publisher = notifications.NewPublisher(psClient.IntakePublisher(), logg)
		pingers["pubsub"] = psClient
	} else {
		logg.Info(ctx, "pubsub topic not configured, submission events disabled")
		publisher = notifications.NewPublisher(nil, logg)
	}

	backend, err := newAttachmentBackend(ctx, cfg, logg, pingers)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	intakeMetrics := metrics.NewIntakeMetrics(registry)

	draftService, err := drafts.NewService(drafts.ServiceParams{
		Repo:            drafts.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		CRM:             crmClient,
		Notifier:        publisher,
		Metrics:         intakeMetrics,
		Logger:          logg,
		CodeLength:      cfg.Drafts.CodeLength,
		MaxCodeAttempts: cfg.Drafts.MaxCodeAttempts,
	})
	if err != nil {
		return fmt.Errorf("create drafts service: %w", err)
	}

	attachmentService, err := attachments.NewService(backend, cfg.Media.MaxUploadBytes(), intakeMetrics, logg)
	if err != nil {
		return fmt.Errorf("create attachments service: %w", err)
	}

	finalizationService, err := finalization.NewService(finalization.ServiceParams{
		CRM:     crmClient,
		Locks:   redisClient,
		Metrics: intakeMetrics,
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("create finalization service: %w", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.GetID(),
		"attachment": backend.Name(),
	})
	logg.Info(logCtx, "starting api server")

	handler := routes.NewRouter(routes.Deps{
		Config:       cfg,
		Logger:       logg,
		Metrics:      intakeMetrics,
		Gatherer:     registry,
		Redis:        redisClient,
		Pingers:      pingers,
		Drafts:       draftService,
		Attachments:  attachmentService,
		Finalization: finalizationService,
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logg.Info(logCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// newAttachmentBackend builds the storage backend selected by the feature flag.
func newAttachmentBackend(ctx context.Context, cfg *config.Config, logg *logger.Logger, pingers map[string]controllers.Pinger) (attachments.Backend, error) {
	switch cfg.FeatureFlags.Backend() {
	case config.AttachmentBackendCloudinary:
		client, err := cloudinary.NewClient(ctx, cfg.Cloudinary, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap cloudinary: %w", err)
		}
		return attachments.NewCloudinaryBackend(client), nil
	default:
		client, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap gcs: %w", err)
		}
		pingers["gcs"] = client
		return attachments.NewGCSBackend(client, client.DefaultBucket()), nil
	}
}
