// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-webauthn-rp.
//
// go-webauthn-rp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server assembles the relying-party HTTP server: routing,
// middleware, health and metrics endpoints, and background workers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jeremyhahn/go-webauthn-rp/internal/config"
	"github.com/jeremyhahn/go-webauthn-rp/pkg/logging"
	"github.com/jeremyhahn/go-webauthn-rp/pkg/metrics"
	"github.com/jeremyhahn/go-webauthn-rp/pkg/ratelimit"
	"github.com/jeremyhahn/go-webauthn-rp/pkg/webauthn"
	webauthnhttp "github.com/jeremyhahn/go-webauthn-rp/pkg/webauthn/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the relying-party HTTP server.
type Server struct {
	cfg        *config.Config
	logger     *logging.Logger
	service    *webauthn.Service
	directory  *webauthn.MemoryDirectory
	challenges *webauthn.MemoryChallengeStore
	limiter    *ratelimit.Limiter
	httpServer *http.Server

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New creates a relying-party server from the loaded configuration.
// The bundled server uses the in-memory stores; production deployments
// embed the webauthn package against their own storage and directory.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := logging.NewLogger(cfg.Debug())
	directory := webauthn.NewMemoryDirectory()
	challenges := webauthn.NewMemoryChallengeStore()

	var tokens webauthn.TokenGenerator
	if cfg.Token.Enabled {
		key, err := loadSigningKey(cfg.Token.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load token signing key: %w", err)
		}
		tokens, err = webauthn.NewJWTGenerator(&webauthn.JWTGeneratorConfig{
			PrivateKey: key,
			Issuer:     cfg.Token.Issuer,
			Audience:   cfg.Token.Audience,
			ExpiresIn:  cfg.Token.ExpiresIn,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create token generator: %w", err)
		}
	}

	service, err := webauthn.NewService(webauthn.ServiceParams{
		Config:          &cfg.WebAuthn,
		CredentialStore: webauthn.NewMemoryCredentialStore(),
		ChallengeStore:  challenges,
		Directory:       directory,
		TokenGenerator:  tokens,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn service: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg:        cfg,
		logger:     logger,
		service:    service,
		directory:  directory,
		challenges: challenges,
		limiter: ratelimit.New(&ratelimit.Config{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
			Burst:             cfg.RateLimit.Burst,
		}),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.setupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if s.cfg.Metrics.Enabled {
		r.Use(metrics.HTTPMiddleware)
	}
	if s.cfg.RateLimit.Enabled {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	if s.cfg.Health.Enabled {
		r.Get(s.cfg.Health.Path, s.healthHandler)
	}
	if s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, promhttp.Handler())
	}

	handler := webauthnhttp.NewHandler(s.service)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webauthn", func(r chi.Router) {
			webauthnhttp.MountChi(r, handler)
		})
		// Development-only user provisioning for the in-memory directory
		r.Post("/users", s.createUserHandler)
	})

	return r
}

// Start starts the HTTP server and background workers. It blocks until
// the server stops.
func (s *Server) Start() error {
	go s.challengeGC()
	if s.cfg.Metrics.Enabled {
		metrics.StartResourceCollector(s.bgCtx, 30*time.Second)
	}

	s.logger.Infof("starting relying-party server on %s (rp id %s)",
		s.httpServer.Addr, s.cfg.WebAuthn.RPID)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server and its background workers.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.bgCancel()
	s.limiter.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// challengeGC sweeps expired challenge sessions. Expiry is enforced
// lazily at verification time; the sweep only reclaims memory from
// ceremonies the client abandoned.
func (s *Server) challengeGC() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.bgCtx.Done():
			return
		case <-ticker.C:
			if removed := s.challenges.Cleanup(s.cfg.WebAuthn.ChallengeTTL); removed > 0 {
				s.logger.Debugf("removed %d expired challenge sessions", removed)
			}
		}
	}
}
