// Package httpapi exposes the recipe engine over HTTP: the recipe library,
// run submission, polling, approval, cancellation and a live event stream.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/internal/streaming"
)

// Schedules manages recurring runs.
type Schedules interface {
	Add(ctx context.Context, job *store.ScheduledRun) error
	List(ctx context.Context, userID string) ([]*store.ScheduledRun, error)
}

// Deps holds the dependencies of the API server. Engine and Auth are required.
type Deps struct {
	Engine    engine.Engine
	Hub       streaming.EventHub
	Schedules Schedules
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Circuits reports provider circuit breakers on /healthz when set.
	Circuits func() []providers.BreakerStatus
	Auth     *JWTAuth
	Logger   *slog.Logger
}

// Server serves the JSON API.
type Server struct {
	engine    engine.Engine
	hub       streaming.EventHub
	schedules Schedules
	metrics   http.Handler
	circuits  func() []providers.BreakerStatus
	auth      *JWTAuth
	logger    *slog.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		engine:    deps.Engine,
		hub:       deps.Hub,
		schedules: deps.Schedules,
		metrics:   deps.Metrics,
		circuits:  deps.Circuits,
		auth:      deps.Auth,
		logger:    deps.Logger,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/recipes", s.handleLibrary)
	api.HandleFunc("GET /api/recipes/{slug}", s.handleRecipe)
	api.HandleFunc("POST /api/recipes/{slug}/estimate", s.handleEstimate)
	api.HandleFunc("POST /api/recipes/{slug}/runs", s.handleSubmit)

	api.HandleFunc("GET /api/runs", s.handleHistory)
	api.HandleFunc("GET /api/runs/{id}", s.handleStatus)
	api.HandleFunc("POST /api/runs/{id}/approve", s.handleApprove)
	api.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancel)
	api.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)

	api.HandleFunc("POST /api/reap", s.handleReap)

	api.HandleFunc("GET /api/schedules", s.handleListSchedules)
	api.HandleFunc("POST /api/schedules", s.handleCreateSchedule)

	mux.Handle("/api/", s.auth.Middleware(api))
	return s.logRequests(mux)
}

// logRequests logs each request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.DebugContext(r.Context(), "http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// caller returns the authenticated principal. The auth middleware guarantees
// one is present on /api routes.
func caller(r *http.Request) Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}

// scope is the user id passed to ownership checks: admins see every run.
func (p Principal) scope() string {
	if p.Admin {
		return ""
	}
	return p.UserID
}
