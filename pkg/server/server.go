package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"

	"mercator-hq/sextant/pkg/cache"
	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/router"
	"mercator-hq/sextant/pkg/telemetry/health"
	"mercator-hq/sextant/pkg/telemetry/tracing"
)

// Router answers research queries. *router.Router satisfies it.
type Router interface {
	Route(ctx context.Context, q router.Query) (*router.Response, error)
}

// Invalidator drops cached answers. *cache.Cache satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, key cache.Key)
}

// Server is the Sextant HTTP front end.
type Server struct {
	config      *config.ServerConfig
	router      Router
	invalidator Invalidator
	health      *health.Checker
	metrics     http.Handler
	metricsPath string
	version     http.Handler
	logger      *slog.Logger

	httpServer   *http.Server
	listener     net.Listener
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for access and lifecycle logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithInvalidator enables POST /v1/cache/invalidate.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Server) { s.invalidator = inv }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(c *health.Checker) Option {
	return func(s *Server) { s.health = c }
}

// WithMetrics mounts the Prometheus handler at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// WithVersion mounts /version.
func WithVersion(version, commit, buildTime string) Option {
	return func(s *Server) { s.version = health.VersionHandler(version, commit, buildTime) }
}

// New creates a server for r.
func New(cfg *config.ServerConfig, r Router, opts ...Option) *Server {
	s := &Server{
		config:       cfg,
		router:       r,
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "server")
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}
	return s
}

// Start listens on the configured address and blocks until ctx is canceled,
// SIGINT or SIGTERM arrives, Stop is called or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listening on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting research server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown stops accepting connections and waits for in-flight requests up to
// the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("research server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler builds the route tree:
//
//	POST /v1/research          route a question
//	POST /v1/cache/invalidate  drop a cached answer
//	GET  /healthz, /readyz     probes
//	GET  /metrics              Prometheus
//	GET  /version              build info
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, accessLog(s.logger), recoverer(s.logger), tracing.HTTPMiddleware)

	if s.health != nil {
		r.Get("/healthz", s.health.LivenessHandler())
		r.Get("/readyz", s.health.ReadinessHandler())
	}
	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics)
	}
	if s.version != nil {
		r.Get("/version", s.version.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeout(s.config.RequestTimeout))
		r.Post("/research", s.handleResearch)
		if s.invalidator != nil {
			r.Post("/cache/invalidate", s.handleInvalidate)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeInvalidRequest, r.Method+" not allowed on "+r.URL.Path)
	})
	return r
}
