// Package api is the operations server: health, engine status, monitor
// listings and a handful of admin actions. It is an operator surface, not
// the product API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alpha-trade-engine/internal/agent"
	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
)

// Engine is the agent surface the ops server drives
type Engine interface {
	Status() agent.StatusReport
	IngestSignal(ctx context.Context, signal *database.Signal) error
	UnpauseUser(ctx context.Context, userID string) error
	ToggleAutoTrade(ctx context.Context, userID string, enabled bool) error
	UserStats(ctx context.Context, idOrWallet string) (*database.UserStats, error)
	CreateUserConfig(ctx context.Context, cfg *database.StrategyConfig) error
}

// HealthChecker reports storage reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// WeightsReloader swaps the active scoring model config
type WeightsReloader interface {
	Reload(ctx context.Context) error
}

// CreditReader reports a user's spendable credit balance
type CreditReader interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// ServerConfig holds ops server settings
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
}

// Server is the gin ops server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	engine     Engine
	health     HealthChecker
	weights    WeightsReloader
	credits    CreditReader
	bus        *events.Bus
	logger     zerolog.Logger
}

// NewServer builds the ops server and its routes
func NewServer(config ServerConfig, engine Engine, health HealthChecker, weights WeightsReloader, credits CreditReader, bus *events.Bus, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		config:  config,
		engine:  engine,
		health:  health,
		weights: weights,
		credits: credits,
		bus:     bus,
		logger:  logger.With().Str("component", "ops_server").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.GET("/monitors", s.handleMonitors)
		api.GET("/events", s.handleEvents)
		api.POST("/signals", s.handleSignalIntake)
		api.POST("/weights/reload", s.handleWeightsReload)
		api.POST("/users/:id/unpause", s.handleUnpause)
		api.POST("/users/:id/autotrade", s.handleAutoTrade)
		api.GET("/users/:id/stats", s.handleUserStats)
		api.GET("/users/:id/credits", s.handleUserCredits)
		api.PUT("/users/:id/config", s.handleUserConfig)
	}
}

// Start blocks serving HTTP until Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Ops server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("Ops server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}
