// Package server exposes a read-only HTTP view of the record store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/server/handlers"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/server/middleware"
)

// Server is the status API.
type Server struct {
	host   string
	port   int
	opts   options
	router chi.Router
}

type options struct {
	store           handlers.StudyLister
	version         handlers.VersionInfo
	logger          *zap.Logger
	checkers        map[string]handlers.HealthChecker
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*options)

// WithStore enables the /v1/studies routes.
func WithStore(store handlers.StudyLister) Option {
	return func(o *options) { o.store = store }
}

func WithVersion(info handlers.VersionInfo) Option {
	return func(o *options) { o.version = info }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHealthChecker adds a named check to /health.
func WithHealthChecker(name string, c handlers.HealthChecker) Option {
	return func(o *options) { o.checkers[name] = c }
}

// WithTimeouts overrides the http.Server timeouts. Zero keeps a default.
func WithTimeouts(read, write, idle, shutdown time.Duration) Option {
	return func(o *options) {
		if read > 0 {
			o.readTimeout = read
		}
		if write > 0 {
			o.writeTimeout = write
		}
		if idle > 0 {
			o.idleTimeout = idle
		}
		if shutdown > 0 {
			o.shutdownTimeout = shutdown
		}
	}
}

// New builds the router. Nothing listens until Start.
func New(host string, port int, opts ...Option) *Server {
	o := options{
		logger:          zap.NewNop(),
		checkers:        map[string]handlers.HealthChecker{},
		version:         handlers.VersionInfo{Version: "dev"},
		readTimeout:     30 * time.Second,
		writeTimeout:    30 * time.Second,
		idleTimeout:     120 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{host: host, port: port, opts: o}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.AccessLog(s.opts.logger))
	r.Use(middleware.RecoveryWithLogger(s.opts.logger))
	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	health := handlers.NewHealthManager(s.opts.version.Version)
	for name, c := range s.opts.checkers {
		health.RegisterChecker(name, c)
	}
	r.Get("/health", health.HealthHandler)
	r.Get("/version", handlers.Version(s.opts.version))

	if s.opts.store != nil {
		studies := handlers.NewStudies(s.opts.store)
		r.Route("/v1/studies", func(r chi.Router) {
			r.Get("/", studies.List)
			r.Get("/{name}", studies.Get)
		})
	}
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, fmt.Sprint(s.port))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.opts.readTimeout,
		WriteTimeout: s.opts.writeTimeout,
		IdleTimeout:  s.opts.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.logger.Info("Status API listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
