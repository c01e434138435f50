package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/agentvault/internal/scenario"
	"github.com/org/agentvault/internal/storage"
	"github.com/org/agentvault/internal/vault"
	"github.com/org/agentvault/internal/workflow"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
}

// Server is the HTTP API server. The core trusts the identity supplied by
// the enclosing session layer via the X-User-ID header and performs no
// authentication of its own.
type Server struct {
	store     storage.Backend
	vault     *vault.Service
	engine    *scenario.Engine
	workflows *workflow.Logger
	cfg       Config
	httpSrv   *http.Server
}

// NewServer wires a Server from explicitly constructed services.
func NewServer(store storage.Backend, vaultSvc *vault.Service, engine *scenario.Engine, wfLog *workflow.Logger, cfg Config) *Server {
	return &Server{
		store:     store,
		vault:     vaultSvc,
		engine:    engine,
		workflows: wfLog,
		cfg:       cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)
	r.Use(loggingMiddleware)

	// Public routes
	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	// Routes requiring a caller identity
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)

		r.Post("/v1/sys/rotate", s.RotateHandler)

		r.Post("/v1/vault", s.VaultCreateHandler)
		r.Get("/v1/vault", s.VaultListHandler)
		r.Get("/v1/vault/{token}", s.VaultViewHandler)

		r.Post("/v1/scenarios", s.ScenarioCreateHandler)
		r.Get("/v1/scenarios", s.ScenarioListHandler)
		r.Get("/v1/scenarios/{id}", s.ScenarioGetHandler)
		r.Post("/v1/scenarios/{id}/authorize", s.ScenarioAuthorizeHandler)

		r.Get("/v1/workflows", s.WorkflowListHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
