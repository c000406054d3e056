// cmd/gentoken prints a signed bearer token for local testing. Real tokens
// come from the identity provider.
//
//	go run ./cmd/gentoken -user <uuid> -role MANAGER
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vwinv/backend-almadina/internal/config"
	"github.com/vwinv/backend-almadina/internal/middleware"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	user := flag.String("user", "", "user id (uuid)")
	username := flag.String("username", "dev", "username claim")
	role := flag.String("role", "MANAGER", "MANAGER | ADMIN | SUPER_ADMIN")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	id, err := uuid.Parse(*user)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -user")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Env == "production" {
		log.Fatal().Msg("refusing to mint tokens in production")
	}

	tok, err := middleware.IssueToken(cfg.JWTSecret, id, *username, *role, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("sign token")
	}
	fmt.Println(tok)
}
