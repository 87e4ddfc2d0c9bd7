package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/appexplorer/internal/api/ws"
	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/config"
	"github.com/gosuda/appexplorer/internal/editor"
	"github.com/gosuda/appexplorer/internal/metrics"
	"github.com/gosuda/appexplorer/internal/reconcile"
	"github.com/gosuda/appexplorer/internal/rpc"
	"github.com/gosuda/appexplorer/internal/server/middleware"
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Store      *cardstore.Store
	Engine     *rpc.Engine
	Hub        *ws.Hub
	Reconciler *reconcile.Reconciler
	Editors    *editor.Arena
	Metrics    *metrics.Collector // nil disables /metrics and request metrics
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds background
// middleware goroutines. webAssets may be nil; when provided, the board
// plugin page is served on all unmatched routes.
func New(ctx context.Context, cfg *config.Config, deps Deps, webAssets fs.FS) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.Logger)
	router.Use(chimw.Recoverer)
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware)
	}
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		},
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.Secret, cfg.Workspace.Name))

		apiConfig := huma.DefaultConfig("AppExplorer API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, deps)
	})

	// WebSocket routes.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, cfg.Server.WSRatePerSecond, cfg.Server.WSBurst))
		r.Use(middleware.Auth(cfg.Auth.Secret, cfg.Workspace.Name))
		registerWSRoutes(r, deps.Hub)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","boards":%d}`, deps.Engine.Registry().Len())
	})

	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}

	// This must be the last route registered so API and WS routes take priority.
	if webAssets != nil {
		router.NotFound(staticFileServer(webAssets).ServeHTTP)
		log.Info().Msg("server: board plugin assets enabled")
	}

	return s
}

// Handler returns the root handler, for tests that drive the server
// through httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	log.Info().Str("addr", s.cfg.Server.Addr).Msg("server: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
