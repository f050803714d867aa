package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/observability"
	"github.com/michaelbrown/runbox/internal/runner"
)

// Server is the HTTP and WebSocket front end of the runner.
type Server struct {
	cfg     config.ServerConfig
	runner  *runner.Runner
	metrics *observability.Metrics
	limiter *RateLimiter
	conns   *ConnManager
	logger  *slog.Logger
	router  chi.Router
	http    *http.Server
}

// New creates a new Server. metrics may be nil, which also disables /metrics.
func New(cfg config.ServerConfig, r *runner.Runner, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		runner:  r,
		metrics: metrics,
		conns:   NewConnManager(),
		logger:  logger,
		router:  chi.NewRouter(),
	}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(instrument(s.metrics))
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)
		r.Get("/healthz", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/execute", s.handleExecute)
			r.Post("/session/new", s.handleNewSession)
			r.Delete("/session/{session_id}", s.handleDeleteSession)
			r.Get("/sessions", s.handleListSessions)
		})
	})

	// WebSocket (no JSON content-type)
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/ws", s.handleWebSocket)
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen opens the configured port.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.http.Addr)
}

// Run serves on l until ctx is done. It then shuts the server down and
// returns only after in-flight requests have drained.
func (s *Server) Run(ctx context.Context, l net.Listener) error {
	s.logger.Info("runbox server starting", slog.String("addr", l.Addr().String()))

	served := make(chan error, 1)
	go func() {
		served <- s.http.Serve(l)
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownErr := s.Shutdown(context.WithoutCancel(ctx))
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return shutdownErr
}

// Shutdown closes WebSocket connections and waits for HTTP requests in
// flight, for at most ten seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.conns.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not waited for by http.Server.
	return errors.Join(
		s.http.Shutdown(shutdownCtx),
		s.conns.Wait(shutdownCtx),
	)
}
