// Package api is the coordinator's HTTP surface: wallet provisioning and
// signing for authenticated users, plus health and metrics endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/solana-mpc-wallet/internal/auth"
	"github.com/kashguard/solana-mpc-wallet/internal/config"
	"github.com/kashguard/solana-mpc-wallet/internal/coordinator"
	"github.com/kashguard/solana-mpc-wallet/internal/metrics"
	"github.com/kashguard/solana-mpc-wallet/internal/solana"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// Server keeps the coordinator's dependencies together. Components are
// constructed explicitly in dependency order; tests swap individual fields
// before InitRoutes.
type Server struct {
	Config      config.Coordinator
	Echo        *echo.Echo
	Clock       time2.Clock
	Tokens      *auth.TokenManager
	Metrics     *metrics.Metrics
	Chain       coordinator.ChainClient
	Coordinator *coordinator.Service
}

// NewServer wires the coordinator from its config.
func NewServer(cfg config.Coordinator) *Server {
	clock := time2.DefaultClock
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, clock)
	chain := solana.NewRPCClient(cfg.RPCEndpoint, &http.Client{Timeout: cfg.RequestTimeout})
	m := metrics.New()

	partyA := coordinator.NewShareClient("party-a", cfg.PartyAEndpoint, &http.Client{Timeout: cfg.RequestTimeout}, tokens)
	partyB := coordinator.NewShareClient("party-b", cfg.PartyBEndpoint, &http.Client{Timeout: cfg.RequestTimeout}, tokens)

	return &Server{
		Config:      cfg,
		Clock:       clock,
		Tokens:      tokens,
		Metrics:     m,
		Chain:       chain,
		Coordinator: coordinator.NewService(partyA, partyB, chain, m, cfg.RequestTimeout),
	}
}

// InitRoutes builds the echo instance and attaches all routes. Separate from
// NewServer so tests can replace dependencies first.
func (s *Server) InitRoutes() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if s.Config.Echo.EnableRecovery {
		e.Use(middleware.Recover())
	}

	e.GET("/-/healthy", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))

	v1 := e.Group("/v1", auth.Middleware(s.Tokens))
	v1.POST("/wallet", postWalletHandler(s))
	v1.POST("/sign", postSignHandler(s))

	s.Echo = e
}

// Start serves until the listener fails or is shut down.
func (s *Server) Start() error {
	log.Info().Str("address", s.Config.Echo.ListenAddress).Msg("starting coordinator")
	return s.Echo.Start(s.Config.Echo.ListenAddress)
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down coordinator")
	return s.Echo.Shutdown(ctx)
}
