package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vwinv/backend-almadina/internal/config"
	"github.com/vwinv/backend-almadina/internal/infra"
	"github.com/vwinv/backend-almadina/internal/router"
	"github.com/vwinv/backend-almadina/internal/scheduler"
	"github.com/vwinv/backend-almadina/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	if err := infra.RunMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	rdb, err := infra.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	deps, err := router.Wire(cfg, db, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire services")
	}

	// Ledger events keep the reconciliation report cache in step.
	worker.NewPool(rdb, worker.LedgerEventHandlers(deps.ReportCache)).Start(ctx, cfg.WorkerPoolSize)

	loc, _ := cfg.Location()
	sched, err := scheduler.New(cfg.AutoCloseSchedule, loc, deps.Service, deps.Locker, cfg.AutoCloseLockTTL())
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.AutoCloseSchedule).Msg("invalid AUTO_CLOSE_SCHEDULE")
	}
	sched.Start()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router.New(ctx, cfg, deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Str("timezone", loc.String()).Msgf("cash register ledger listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	sched.Stop(shutdownCtx)
	cancel()
	log.Info().Msg("server exited")
}

// setupLogger: pretty console output in development, JSON in production.
func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
