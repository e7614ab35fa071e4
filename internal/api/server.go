// Package api provides the operational HTTP server: health, lock status, cycle
// trigger and read access to the cached projections.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pick-aggregator/internal/circuitbreaker"
	"github.com/pick-aggregator/internal/lock"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/types"
)

// CycleRunner is the scheduler surface exposed over HTTP
type CycleRunner interface {
	RunCycle(ctx context.Context) (*models.CycleSummary, error)
	LockStatus(ctx context.Context) (*lock.Status, error)
	LastResult() *models.CycleSummary
	Running() bool
}

// ProjectionReader serves the last published projections
type ProjectionReader interface {
	GetLeaderboard(ctx context.Context, tf types.Timeframe, metric types.Metric) (*models.LeaderboardSnapshot, error)
	GetProfileStats(ctx context.Context, userID string) (*models.SubjectStats, error)
	GetGroupBoard(ctx context.Context, groupID int64, tf types.Timeframe) (*models.GroupPickBoard, error)
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	runner      CycleRunner
	projections ProjectionReader
	checks      map[string]HealthCheck
	breaker     func() circuitbreaker.State
	config      *ServerConfig
	logger      *logging.Logger

	// runCtx outlives requests so a triggered cycle is not cut short by the client
	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	TriggerRPS      float64 // Cycle triggers per second per client
	TriggerBurst    int
	// CycleWriteTimeout replaces WriteTimeout for ?wait=true triggers, which answer
	// only after the cycle ends. Zero removes the deadline for those requests.
	CycleWriteTimeout time.Duration
}

// Option customizes a server
type Option func(*Server)

// WithHealthCheck registers a dependency probe reported by /healthz
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithBreakerState reports the provider circuit state in /healthz
func WithBreakerState(state func() circuitbreaker.State) Option {
	return func(s *Server) { s.breaker = state }
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, runner CycleRunner, projections ProjectionReader, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:      mux.NewRouter(),
		runner:      runner,
		projections: projections,
		checks:      make(map[string]HealthCheck),
		config:      config,
		logger:      logger.WithField("component", "api"),
		runCtx:      runCtx,
		cancelRuns:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Cycle endpoints
	v1.HandleFunc("/lock", s.handleLockStatus).Methods("GET")
	v1.HandleFunc("/cycles/last", s.handleLastCycle).Methods("GET")

	limit := RateLimitMiddleware(NewRateLimiter(s.config.TriggerRPS, s.config.TriggerBurst))
	v1.Handle("/cycles/run", limit(http.HandlerFunc(s.handleRunCycle))).Methods("POST")

	// Projection endpoints
	v1.HandleFunc("/leaderboards/{timeframe}/{metric}", s.handleGetLeaderboard).Methods("GET")
	v1.HandleFunc("/profiles/{userId}/stats", s.handleGetProfileStats).Methods("GET")
	v1.HandleFunc("/groups/{groupId}/leaderboard/{timeframe}", s.handleGetGroupBoard).Methods("GET")
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting ops server")
	return s.httpServer.ListenAndServe()
}

// Shutdown cancels triggered cycles, stops the listener and waits, bounded by ctx,
// for the cancelled cycles to finish their grace period and release the lock.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down ops server")
	s.cancelRuns()
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Triggered cycle still running at shutdown deadline")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
