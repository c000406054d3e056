// cmd/cronjob runs ledger maintenance once and exits.
//
//	go run ./cmd/cronjob -run-once auto-close
//	go run ./cmd/cronjob -run-once replay-dlq -limit 100
//	go run ./cmd/cronjob -close-manager <manager uuid>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vwinv/backend-almadina/internal/config"
	"github.com/vwinv/backend-almadina/internal/infra"
	"github.com/vwinv/backend-almadina/internal/router"
	"github.com/vwinv/backend-almadina/internal/scheduler"
	"github.com/vwinv/backend-almadina/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	runOnce := flag.String("run-once", "", "job to run once: auto-close | replay-dlq")
	limit := flag.Int("limit", 0, "replay-dlq: max entries to replay (0 = all)")
	closeManager := flag.String("close-manager", "", "force-close the OPEN register of this manager id")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall deadline")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if (*runOnce == "") == (*closeManager == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -run-once or -close-manager is required")
		flag.Usage()
		os.Exit(2)
	}
	if *runOnce != "" && *runOnce != "auto-close" && *runOnce != "replay-dlq" {
		log.Fatal().Str("job", *runOnce).Msg("unknown job")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
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

	var out any
	if *closeManager != "" {
		managerID, err := uuid.Parse(*closeManager)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid -close-manager")
		}
		reg, err := deps.Service.ForceClose(ctx, managerID)
		if err != nil {
			log.Fatal().Err(err).Str("manager_id", managerID.String()).Msg("force close failed")
		}
		out = reg
	} else if *runOnce == "replay-dlq" {
		result, err := worker.ReplayDLQ(ctx, rdb, worker.QueueLedgerEvents, *limit)
		if err != nil {
			log.Fatal().Err(err).Int("replayed", result.Replayed).Msg("dlq replay failed")
		}
		out = result
	} else {
		result, ran := scheduler.RunAutoClose(ctx, deps.Service, deps.Locker, cfg.AutoCloseLockTTL())
		if !ran {
			log.Warn().Msg("another instance holds the auto-close lock")
			os.Exit(1)
		}
		out = result
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("failed to write result")
	}
}
