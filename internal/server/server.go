// Package server provides the HTTP API for CV customization.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/cv-customizer/internal/server/ratelimit"
)

// Customizer is the engine surface the HTTP API needs.
type Customizer interface {
	Customize(ctx context.Context, document, jobDescription, credential string) (string, error)
	PromptVersion() string
}

// Config holds server configuration
type Config struct {
	Port int
	// RequestTimeout bounds a single customization, including the model call.
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// RateLimit may be nil to disable inbound limiting.
	RateLimit *ratelimit.Config
}

const (
	defaultRequestTimeout = 2 * time.Minute
	defaultMaxBodyBytes   = 2 << 20
	shutdownTimeout       = 30 * time.Second
)

// Server represents the HTTP server
type Server struct {
	httpServer     *http.Server
	router         chi.Router
	engine         Customizer
	logger         *logrus.Logger
	validator      *validator.Validate
	rateLimiter    *ratelimit.Limiter
	requestTimeout time.Duration
	maxBodyBytes   int64
}

// New creates a new server instance
func New(engine Customizer, cfg Config, logger *logrus.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("customization engine is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		engine:         engine,
		logger:         logger,
		validator:      newValidator(),
		rateLimiter:    ratelimit.NewLimiter(cfg.RateLimit),
		requestTimeout: cfg.RequestTimeout,
		maxBodyBytes:   cfg.MaxBodyBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.withRequestID)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)
	r.Use(s.withCORS)

	r.Get("/health", s.handleHealth)
	r.Route("/v1/customize", func(r chi.Router) {
		r.Use(s.withRateLimit)
		r.Post("/", s.handleCustomize)
		r.Post("/download", s.handleDownload)
	})
	s.router = r

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Model calls are slow; leave headroom over the request timeout.
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens for requests until ctx is cancelled or SIGINT/SIGTERM arrives,
// then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.rateLimiter.Stop()
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.rateLimiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
