package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kashguard/solana-mpc-wallet/internal/api"
	"github.com/kashguard/solana-mpc-wallet/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Coordinator driving the two-party signing protocol",
		Run: func(cmd *cobra.Command, args []string) {
			runServer()
		},
	}
	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := config.DefaultCoordinatorConfigFromEnv()

	s := api.NewServer(cfg)
	s.InitRoutes()

	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listener failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Echo.GracePeriod)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
