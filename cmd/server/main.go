package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roadcall/backend/internal/config"
	"github.com/roadcall/backend/internal/db"
	"github.com/roadcall/backend/internal/events"
	httpapi "github.com/roadcall/backend/internal/http"
	"github.com/roadcall/backend/internal/profiles"
	"github.com/roadcall/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "roadcall-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	var publisher events.Publisher
	if cfg.NATSURL == "" {
		publisher = &events.NoopPublisher{}
		logger.Info().Msg("event publishing disabled, no NATS_URL")
	} else {
		publisher, err = events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect nats")
		}
	}
	defer publisher.Close()

	profileStore := profiles.NewPostgresStore(store)
	coordinator := service.NewCoordinator(store, profileStore, publisher, logger)
	sweeper := service.NewSweeper(store, store, publisher, logger, service.Thresholds{
		PendingUnattendedAfter: cfg.PendingUnattendedAfter,
		UnattendedExpireAfter:  cfg.UnattendedExpireAfter,
		AcceptedReconcileAfter: cfg.AcceptedReconcileAfter,
		ScheduledGrace:         cfg.ScheduledGrace,
		AbandonedAfter:         cfg.AbandonedAfter,
		MaxSessionDuration:     cfg.MaxSessionDuration,
		WaiverReminderLead:     cfg.WaiverReminderLead,
	})

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sweeper.Start(sweepCtx, cfg.SweepInterval)

	router := httpapi.Router(cfg, coordinator, sweeper, store, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSweeper()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
