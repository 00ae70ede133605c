package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/events"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-comm/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// LinkSource reports running links. *comm.Manager implements it.
type LinkSource interface {
	Links() []comm.LinkStatus
	Link(name string) (comm.LinkStatus, bool)
}

// EventSource queries persisted events and snapshots. *events.Store
// implements it.
type EventSource interface {
	List(ctx context.Context, f events.Filter) ([]comm.Event, error)
	Snapshots(ctx context.Context) ([]events.Snapshot, error)
}

// MetricsSource supplies throughput counters. *metrics.Collector
// implements it.
type MetricsSource interface {
	Snapshot() metrics.Snapshot
}

// HealthChecker is a component checked by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server. Logger and Links are
// required.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Links   LinkSource
	Events  EventSource
	Metrics MetricsSource

	// Checks are run by /health, keyed by component name.
	Checks map[string]HealthChecker

	// DB, when set, adds connection pool statistics to /metrics.
	DB interface{ Stats() sql.DBStats }

	// Publisher and Recorder add drop counters to /metrics.
	Publisher *events.Publisher
	Recorder  *events.Recorder

	// Hub serves /stream. Add it to the comm event sinks so it sees events.
	Hub *Hub

	Version string
}

// Server is the HTTP status API server.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	deps      Deps
	logger    *logging.Logger
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Links == nil {
		return nil, errors.New("link source is required")
	}
	return &Server{
		deps:      deps,
		logger:    deps.Logger.Component("api"),
		startTime: time.Now(),
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine. A bind
// failure is returned rather than logged.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("api server already started")
	}

	cfg := s.deps.Config
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       cfg.GetReadTimeout(),
		ReadHeaderTimeout: cfg.GetReadTimeout(),
		WriteTimeout:      cfg.GetWriteTimeout(),
		IdleTimeout:       cfg.GetIdleTimeout(),
	}

	srv := s.server
	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts the server down, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
