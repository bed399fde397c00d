package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/solana-mpc-wallet/internal/auth"
	"github.com/kashguard/solana-mpc-wallet/internal/config"
	"github.com/kashguard/solana-mpc-wallet/internal/shareserver"
	"github.com/kashguard/solana-mpc-wallet/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	_ "github.com/lib/pq"
)

func main() {
	cmd := &cobra.Command{
		Use:   "shareserver",
		Short: "Key-share service holding one party's signing shares",
		Run: func(cmd *cobra.Command, args []string) {
			runServer()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the keyshares schema and exit",
		Run: func(cmd *cobra.Command, args []string) {
			runMigrate()
		},
	})
	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func runMigrate() {
	cfg := config.DefaultShareServerConfigFromEnv()
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	if err := storage.Migrate(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	log.Info().Msg("schema up to date")
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := config.DefaultShareServerConfigFromEnv()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}

	store, err := storage.NewPostgresShareStore(db, cfg.ShareEncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize share store")
	}
	nonces := storage.NewRedisNonceRegistry(
		redis.NewClient(&redis.Options{Addr: cfg.RedisEndpoint}),
		"mpc:nonce:"+cfg.Party+":",
	)

	svc := shareserver.NewService(cfg.Party, store, nonces, cfg.NonceTTL)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, time2.DefaultClock)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if cfg.Echo.EnableRecovery {
		e.Use(middleware.Recover())
	}
	shareserver.RegisterRoutes(e, svc, tokens)

	go func() {
		log.Info().
			Str("party", cfg.Party).
			Str("address", cfg.Echo.ListenAddress).
			Msg("starting key-share service")
		if err := e.Start(cfg.Echo.ListenAddress); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listener failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Echo.GracePeriod)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
