// cmd/seedmanager creates or updates a MANAGER user and provisions their
// first closed register so they can open one.
//
//	go run ./cmd/seedmanager -username awa -name "Awa Diop" -balance 50000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vwinv/backend-almadina/internal/apierror"
	"github.com/vwinv/backend-almadina/internal/config"
	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/infra"
	"github.com/vwinv/backend-almadina/internal/model"
	"github.com/vwinv/backend-almadina/internal/repository"
	"github.com/vwinv/backend-almadina/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	username := flag.String("username", "manager", "login name")
	name := flag.String("name", "Demo Manager", "display name")
	email := flag.String("email", "", "optional email")
	balance := flag.String("balance", "0", "initial float of the provisioned register")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	opening, err := decimal.NewFromString(*balance)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -balance")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	loc, _ := cfg.Location()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	if err := infra.RunMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx := context.Background()
	users := repository.NewUserRepository(db)

	u := &model.User{ID: uuid.New(), Username: *username, Name: *name, Role: model.RoleManager, Active: true}
	if *email != "" {
		u.Email = email
	}
	if err := users.Upsert(ctx, u); err != nil {
		log.Fatal().Err(err).Msg("upsert manager failed")
	}
	// Upsert keeps the existing id on conflict; read it back.
	stored, err := users.FindByUsername(ctx, *username)
	if err != nil {
		log.Fatal().Err(err).Msg("reload manager failed")
	}

	svc := service.NewCashRegisterService(
		repository.NewCashRegisterRepository(db), users, repository.NewOrderRepository(db),
		service.WithLocation(loc),
	)
	// Acts as the back office would through the admin endpoint.
	operator := service.Caller{UserID: uuid.Nil, Role: model.RoleSuperAdmin}
	reg, err := svc.Provision(ctx, operator, stored.ID, dto.ProvisionCashRegisterRequest{OpeningBalance: opening})
	switch {
	case apierror.Is(err, apierror.KindConflict):
		log.Info().Str("manager_id", stored.ID.String()).Msg("manager already has registers; nothing provisioned")
	case err != nil:
		log.Fatal().Err(err).Msg("provision failed")
	default:
		log.Info().Str("cash_register_id", reg.ID).Str("balance", opening.StringFixed(2)).Msg("register provisioned")
	}
	fmt.Println(stored.ID.String())
}
