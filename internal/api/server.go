// Package api implements the node's HTTP transport: route registration, the
// two HTTP Signature authentication schemes of spec §4.2, and one file per
// resource group, following the teacher's server.go composition style.
package api

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/semanticweft/node/internal/api/apiutil"
	"github.com/semanticweft/node/internal/config"
	"github.com/semanticweft/node/internal/eventbus"
	"github.com/semanticweft/node/internal/federation"
	"github.com/semanticweft/node/internal/ratelimit"
	"github.com/semanticweft/node/internal/registry"
	"github.com/semanticweft/node/internal/store"
)

// maxRequestBodyBytes bounds every inbound request body at the same ceiling
// internal/federation uses for outbound payloads.
const maxRequestBodyBytes = 4 << 20

// protocolVersion is advertised in the node's discovery document.
const protocolVersion = "1.0"

// Server is the node's HTTP transport: a chi router plus the service-layer
// dependencies every handler needs.
type Server struct {
	Router *chi.Mux

	Store     store.Storage
	Registry  *registry.Registry
	Bus       eventbus.Bus
	Puller    *federation.Puller
	Fanout    *federation.Fanout
	Discovery *federation.Discovery
	Limiter   *ratelimit.Limiter
	Config    *config.Config
	Logger    *slog.Logger

	NodeDID        string
	NodePrivateKey ed25519.PrivateKey
	NodePublicKey  ed25519.PublicKey

	startedAt  time.Time
	httpServer *http.Server
}

// NewServer builds a Server with every route and middleware registered.
func NewServer(
	cfg *config.Config,
	s store.Storage,
	reg *registry.Registry,
	bus eventbus.Bus,
	puller *federation.Puller,
	fanout *federation.Fanout,
	disc *federation.Discovery,
	limiter *ratelimit.Limiter,
	nodeDID string,
	nodePub ed25519.PublicKey,
	nodePriv ed25519.PrivateKey,
	logger *slog.Logger,
) *Server {
	srv := &Server{
		Router:         chi.NewRouter(),
		Store:          s,
		Registry:       reg,
		Bus:            bus,
		Puller:         puller,
		Fanout:         fanout,
		Discovery:      disc,
		Limiter:        limiter,
		Config:         cfg,
		Logger:         logger,
		NodeDID:        nodeDID,
		NodePublicKey:  nodePub,
		NodePrivateKey: nodePriv,
		startedAt:      time.Now(),
	}
	srv.registerMiddleware()
	srv.registerRoutes()
	return srv
}

func (s *Server) registerMiddleware() {
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.RealIP)
	s.Router.Use(slogMiddleware(s.Logger))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(maxBodySize(maxRequestBodyBytes))
	s.Router.Use(s.rateLimitMiddleware)
}

func (s *Server) registerRoutes() {
	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/.well-known/semanticweft", s.handleDiscovery)
	s.Router.Get("/.well-known/webfinger", s.handleWebFinger)

	s.Router.Route("/v1", func(r chi.Router) {
		r.Post("/units", s.handleSubmitUnit)
		r.Get("/units/{id}", s.handleGetUnit)
		r.Get("/units/{id}/subgraph", s.handleSubgraph)
		r.Get("/units", s.handleListUnits)
		r.Get("/sync", s.handleSync)

		r.Get("/peers", s.handleListPeers)
		r.Post("/peers", s.handleAddPeer)
		r.Patch("/peers/{node_id}", s.handleVotePeerReputation)

		r.Post("/agents/{did}", s.handleRegisterAgent)
		r.Get("/agents/{did}", s.handleGetAgent)
		r.Delete("/agents/{did}", s.handleDeleteAgent)
		r.Patch("/agents/{did}", s.handleVoteAgentReputation)

		r.Post("/agents/{did}/following", s.handleFollow)
		r.Delete("/agents/{did}/following/{target}", s.handleUnfollow)
		r.Get("/agents/{did}/following", s.handleListFollowing)
		r.Get("/agents/{did}/followers", s.handleListFollowers)

		r.Get("/agents/{did}/inbox", s.handleGetInbox)
		r.Post("/agents/{did}/inbox", s.handleDeliverInbox)
	})
}

// Start begins listening on the configured bind address. It blocks until
// the server is shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.Config.BindAddr,
		Handler: s.Router,
		// WriteTimeout is left unbounded: the SSE sync stream holds the
		// connection open for as long as the client stays subscribed.
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.Logger.Info("http server starting", slog.String("bind_addr", s.Config.BindAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("http server shutting down")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"node_id":        s.NodeDID,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}
