// Package server implements the HTTP transport layer for the Bifrost gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/app"
	"github.com/bifrost-ai/bifrost/internal/auth"
	"github.com/bifrost-ai/bifrost/internal/sse"
	"github.com/bifrost-ai/bifrost/internal/storage"
	"github.com/bifrost-ai/bifrost/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	APIAuth        auth.Authenticator // inference-path credential resolution
	ConsoleAuth    auth.Authenticator // console-operator identity resolution
	Engine         *app.Engine
	Keys           *app.KeyManager
	Usage          storage.UsageStore   // console reporting reads
	ReadyCheck     ReadyChecker         // nil = always ready (for tests)
	Metrics        *telemetry.Metrics   // nil = no metrics middleware
	MetricsHandler http.Handler         // nil = no /metrics endpoint
	ChunkRunes     int                  // stream segment width, 0 = default
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.ChunkRunes <= 0 {
		deps.ChunkRunes = sse.DefaultChunkRunes
	}
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Inference API (API-key auth, per-endpoint scope)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate(deps.APIAuth))
		r.With(s.requireScope(gateway.ScopeChat)).Post("/v1/chat/completions", s.handleChatCompletion)
		r.With(s.requireScope(gateway.ScopeCompletions)).Post("/v1/completions", s.handleCompletion)
		r.With(s.requireScope(gateway.ScopeModelsRead)).Get("/v1/models", s.handleListModels)
		r.With(s.requireScope(gateway.ScopeModelsRead)).Post("/v1/tokenize", s.handleTokenize)
	})

	// Console API (trusted identity headers, role-ranked)
	r.Route("/console/orgs/{org}", func(r chi.Router) {
		r.Use(s.authenticate(deps.ConsoleAuth))
		r.Use(s.requireOrgMatch)
		r.With(s.requireRole(gateway.RoleAdmin)).Get("/keys", s.handleListKeys)
		r.With(s.requireRole(gateway.RoleAdmin)).Post("/keys", s.handleCreateKey)
		r.With(s.requireRole(gateway.RoleAdmin)).Delete("/keys/{id}", s.handleRevokeKey)
		r.With(s.requireRole(gateway.RoleMember)).Get("/usage", s.handleOrgUsage)
		r.With(s.requireRole(gateway.RoleMember)).Get("/errors", s.handleOrgErrors)
	})

	return r
}

type server struct {
	deps Deps
}
