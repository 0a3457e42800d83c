// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package server is the HTTP surface of the control loop: a chi router
// with a huma API over the monitor, remediation controller, validation
// gate and scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/sigil-dev/steward/pkg/health"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    RateLimitConfig
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services
	limiter  *limiter

	closeOnce sync.Once
}

// New creates a Server with chi router, huma API, health endpoint, and CORS.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, stewarderr.New(stewarderr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	lim := newLimiter(cfg.RateLimit)

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(lim.middleware)

	humaConfig := huma.DefaultConfig("Steward", "0.1.0")
	humaConfig.Info.Description = "Autonomic control loop: health, remediation, change validation and task reproduction"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:  r,
		api:     api,
		cfg:     cfg,
		limiter: lim,
	}

	huma.Register(api, huma.Operation{
		OperationID: "liveness",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness check",
		Tags:        []string{"system"},
	}, srv.handleLiveness)

	// Register SSE route (returns 503 until services with an event source are set).
	srv.registerSSERoute()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Close stops background goroutines owned by the server. It is idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(s.limiter.stop)
	return nil
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer func() { _ = s.Close() }()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return stewarderr.Wrapf(err, stewarderr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return stewarderr.Wrap(err, stewarderr.CodeServerStartFailure, "serving http")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return stewarderr.Wrap(err, stewarderr.CodeServerShutdownFailure, "shutting down")
	}

	return <-errCh
}

// LivenessBody is the JSON body of the liveness endpoint response.
type LivenessBody struct {
	Status  string        `json:"status" example:"ok" doc:"Process status"`
	Overall health.Status `json:"overall,omitempty" doc:"Overall health of the latest snapshot"`
	Score   *int          `json:"score,omitempty" doc:"Score of the latest snapshot"`
}

// LivenessResponse wraps the liveness response.
type LivenessResponse struct {
	Body LivenessBody
}

func (s *Server) handleLiveness(_ context.Context, _ *struct{}) (*LivenessResponse, error) {
	out := &LivenessResponse{Body: LivenessBody{Status: "ok"}}
	if s.services == nil {
		return out, nil
	}
	if snap, ok := s.services.health.Current(); ok {
		out.Body.Overall = snap.Overall
		out.Body.Score = &snap.Score
	}
	return out, nil
}

// apiError converts a domain error into a huma error with the status its
// code maps to.
func apiError(err error) error {
	status := stewarderr.HTTPStatus(err)
	if code := stewarderr.CodeOf(err); code != "" {
		return huma.NewError(status, fmt.Sprintf("%s: %s", code, err.Error()))
	}
	return huma.NewError(status, err.Error())
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
