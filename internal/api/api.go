// Package api exposes the orchestration engine and the surrounding CRUD
// layer over HTTP, including the SSE progress relays.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kylemclaren/reviewd/internal/config"
	"github.com/kylemclaren/reviewd/internal/db"
	"github.com/kylemclaren/reviewd/internal/review"
	"github.com/kylemclaren/reviewd/internal/scan"
	"github.com/kylemclaren/reviewd/internal/scheduler"
	"github.com/kylemclaren/reviewd/internal/security"
	"github.com/kylemclaren/reviewd/internal/shell"
)

// Server represents the API server
type Server struct {
	db        *db.DB
	cfg       *config.Config
	reviews   *review.Service
	shell     *shell.Runner
	scanner   *scan.Scanner
	branches  *scan.BranchCache
	scheduler *scheduler.Scheduler
	csrf      *security.CSRF
	limiter   *security.RateLimiter
	router    chi.Router
}

// Deps bundles the collaborators the server is constructed from.
type Deps struct {
	DB        *db.DB
	Config    *config.Config
	Reviews   *review.Service
	Shell     *shell.Runner
	Scanner   *scan.Scanner
	Branches  *scan.BranchCache
	Scheduler *scheduler.Scheduler
	CSRF      *security.CSRF
	Limiter   *security.RateLimiter
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		db:        deps.DB,
		cfg:       deps.Config,
		reviews:   deps.Reviews,
		shell:     deps.Shell,
		scanner:   deps.Scanner,
		branches:  deps.Branches,
		scheduler: deps.Scheduler,
		csrf:      deps.CSRF,
		limiter:   deps.Limiter,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/api/v1/health", s.HealthCheck)

	// Repos
	r.Get("/api/v1/repos", s.ListRepos)
	r.Post("/api/v1/repos", s.AddRepo)
	r.Delete("/api/v1/repos/{id}", s.DeleteRepo)
	r.Get("/api/v1/repos/auto", s.ListAutoRepos)
	r.Post("/api/v1/repos/auto/refresh", s.RefreshAutoRepos)
	r.Get("/api/v1/repos/{id}/branches", s.GetBranches)

	// Templates
	r.Get("/api/v1/templates", s.ListTemplates)
	r.Post("/api/v1/templates", s.CreateTemplate)
	r.Get("/api/v1/templates/{id}", s.GetTemplate)
	r.Put("/api/v1/templates/{id}", s.UpdateTemplate)
	r.Delete("/api/v1/templates/{id}", s.DeleteTemplate)

	// Reviews
	r.Get("/api/v1/reviews", s.ListReviews)
	r.Post("/api/v1/reviews", s.CreateReview)
	r.Get("/api/v1/reviews/{id}", s.GetReview)
	r.Get("/api/v1/reviews/{id}/stream", s.StreamReview)
	r.Get("/api/v1/queue", s.QueueStats)

	// Schedules
	r.Get("/api/v1/schedules", s.ListSchedules)
	r.Post("/api/v1/schedules", s.CreateSchedule)
	r.Delete("/api/v1/schedules/{id}", s.DeleteSchedule)

	// Security + shell
	r.Get("/api/v1/csrf", s.IssueCsrf)
	r.Get("/api/v1/shell/commands", s.ListShellCommands)
	r.Post("/api/v1/shell/run", s.RunShellCommand)
	r.Post("/api/v1/shell/run-custom", s.RunCustomShellCommand)
	r.Get("/api/v1/shell/runs/{id}", s.GetShellRunState)
	r.Get("/api/v1/shell/runs/{id}/stream", s.StreamShellRun)
}

// Router returns the chi router for use with http.Server
func (s *Server) Router() http.Handler {
	return s.router
}

// CORS allows cross-origin requests from the local web UI
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+security.HeaderName)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
