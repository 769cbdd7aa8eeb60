package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kylemclaren/reviewd/internal/db"
	"github.com/kylemclaren/reviewd/internal/gitutil"
	"github.com/kylemclaren/reviewd/internal/version"
)

// jsonResponse writes a JSON response
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorResponse writes a JSON error response
func errorResponse(w http.ResponseWriter, status int, message string, code string) {
	jsonResponse(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// HealthCheck handles GET /api/v1/health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Version,
	})
}

// --- Repos ---

// ListRepos handles GET /api/v1/repos
func (s *Server) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.db.ListRepos()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list repos", "DB_ERROR")
		return
	}
	out := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		out = append(out, RepoResponse{
			ID:        repo.ID,
			Name:      repo.Name,
			Path:      repo.Path,
			Source:    "manual",
			CreatedAt: repo.CreatedAt,
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// AddRepo handles POST /api/v1/repos. The path is resolved to the git
// toplevel, so registering any path inside a work tree registers the repo
// root, and registering the same repo twice returns the existing record.
func (s *Server) AddRepo(w http.ResponseWriter, r *http.Request) {
	var req RepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		errorResponse(w, http.StatusBadRequest, "path is required", "INVALID_REQUEST")
		return
	}

	top, err := gitutil.TopLevel(r.Context(), req.Path)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Not a git repository: "+req.Path, "NOT_A_REPO")
		return
	}

	repo, err := s.db.CreateRepo(&db.Repo{
		ID:   uuid.NewString(),
		Name: filepath.Base(top),
		Path: top,
	})
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to add repo", "DB_ERROR")
		return
	}
	jsonResponse(w, http.StatusCreated, RepoResponse{
		ID:        repo.ID,
		Name:      repo.Name,
		Path:      repo.Path,
		Source:    "manual",
		CreatedAt: repo.CreatedAt,
	})
}

// DeleteRepo handles DELETE /api/v1/repos/{id}. An id that only exists in
// the auto-discovery cache is suppressed there instead.
func (s *Server) DeleteRepo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.db.DeleteRepo(id)
	if errors.Is(err, db.ErrNotFound) {
		s.scanner.Suppress(id)
		jsonResponse(w, http.StatusOK, SuccessResponse{Success: true, Message: "Repo removed"})
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete repo", "DB_ERROR")
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Success: true, Message: "Repo removed"})
}

// ListAutoRepos handles GET /api/v1/repos/auto
func (s *Server) ListAutoRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.scanner.Cached()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), "SCAN_ERROR")
		return
	}
	out := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		out = append(out, RepoResponse{
			ID:     repo.ID,
			Name:   repo.Name,
			Path:   repo.Path,
			Source: "auto",
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// RefreshAutoRepos handles POST /api/v1/repos/auto/refresh
func (s *Server) RefreshAutoRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.scanner.Refresh()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), "SCAN_ERROR")
		return
	}
	out := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		out = append(out, RepoResponse{
			ID:     repo.ID,
			Name:   repo.Name,
			Path:   repo.Path,
			Source: "auto",
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// GetBranches handles GET /api/v1/repos/{id}/branches. Listings are cached;
// pass ?refresh=true to force a new listing.
func (s *Server) GetBranches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path, ok := s.repoPath(id)
	if !ok {
		errorResponse(w, http.StatusNotFound, "Repo not found", "NOT_FOUND")
		return
	}

	refresh := r.URL.Query().Get("refresh") == "true"
	st, cached := s.branches.Get(path)
	if refresh || !cached {
		st = s.branches.Refresh(r.Context(), path)
	}
	jsonResponse(w, http.StatusOK, BranchesResponse{
		Status:   st.Status,
		Branches: st.Branches,
		Error:    st.Error,
	})
}

// repoPath resolves a repo id to its filesystem path, checking registered
// repos first, then the auto-discovery cache.
func (s *Server) repoPath(id string) (string, bool) {
	if repo, err := s.db.GetRepo(id); err == nil {
		return repo.Path, true
	}
	repos, err := s.scanner.Cached()
	if err != nil {
		return "", false
	}
	for _, repo := range repos {
		if repo.ID == id {
			return repo.Path, true
		}
	}
	return "", false
}

// --- Templates ---

// ListTemplates handles GET /api/v1/templates
func (s *Server) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.db.ListTemplates(r.URL.Query().Get("repo_id"))
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list templates", "DB_ERROR")
		return
	}
	if templates == nil {
		templates = []*db.Template{}
	}
	jsonResponse(w, http.StatusOK, templates)
}

// CreateTemplate handles POST /api/v1/templates
func (s *Server) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}
	if req.Name == "" || req.UserPromptTemplate == "" {
		errorResponse(w, http.StatusBadRequest, "name and user_prompt_template are required", "INVALID_REQUEST")
		return
	}

	t := &db.Template{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Category:           req.Category,
		SystemPrompt:       req.SystemPrompt,
		UserPromptTemplate: req.UserPromptTemplate,
		DefaultModel:       req.DefaultModel,
		RepoID:             req.RepoID,
	}
	if err := s.db.CreateTemplate(t); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create template", "DB_ERROR")
		return
	}
	created, err := s.db.GetTemplate(t.ID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load template", "DB_ERROR")
		return
	}
	jsonResponse(w, http.StatusCreated, created)
}

// GetTemplate handles GET /api/v1/templates/{id}
func (s *Server) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.db.GetTemplate(chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Template not found", "NOT_FOUND")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get template", "DB_ERROR")
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// UpdateTemplate handles PUT /api/v1/templates/{id}
func (s *Server) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}
	if req.Name == "" || req.UserPromptTemplate == "" {
		errorResponse(w, http.StatusBadRequest, "name and user_prompt_template are required", "INVALID_REQUEST")
		return
	}

	t := &db.Template{
		ID:                 chi.URLParam(r, "id"),
		Name:               req.Name,
		Category:           req.Category,
		SystemPrompt:       req.SystemPrompt,
		UserPromptTemplate: req.UserPromptTemplate,
		DefaultModel:       req.DefaultModel,
		RepoID:             req.RepoID,
	}
	err := s.db.UpdateTemplate(t)
	if errors.Is(err, db.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Template not found", "NOT_FOUND")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to update template", "DB_ERROR")
		return
	}
	updated, err := s.db.GetTemplate(t.ID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load template", "DB_ERROR")
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// DeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteTemplate(chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Template not found", "NOT_FOUND")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete template", "DB_ERROR")
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Success: true, Message: "Template deleted"})
}

// --- Schedules ---

// ListSchedules handles GET /api/v1/schedules
func (s *Server) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.db.ListSchedules()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list schedules", "DB_ERROR")
		return
	}
	out := make([]ScheduleResponse, 0, len(schedules))
	for _, sched := range schedules {
		out = append(out, ScheduleResponse{
			Schedule:  sched,
			NextRunAt: s.scheduler.NextRunTime(sched.ID),
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// CreateSchedule handles POST /api/v1/schedules
func (s *Server) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}
	if req.Name == "" || req.RepoID == "" || len(req.TemplateIDs) == 0 || req.CronExpr == "" {
		errorResponse(w, http.StatusBadRequest, "name, repo_id, template_ids and cron_expr are required", "INVALID_REQUEST")
		return
	}
	if _, err := cron.ParseStandard(req.CronExpr); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid cron expression: "+err.Error(), "INVALID_CRON")
		return
	}
	if _, err := s.db.GetRepo(req.RepoID); errors.Is(err, db.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Repo not found", "NOT_FOUND")
		return
	}

	sched := &db.Schedule{
		ID:             uuid.NewString(),
		Name:           req.Name,
		RepoID:         req.RepoID,
		TemplateIDs:    req.TemplateIDs,
		CronExpr:       req.CronExpr,
		BaseBranch:     req.BaseBranch,
		TargetBranch:   req.TargetBranch,
		SlackWebhook:   req.SlackWebhook,
		DiscordWebhook: req.DiscordWebhook,
		Enabled:        req.Enabled,
		CreatedAt:      time.Now(),
	}
	if err := s.db.CreateSchedule(sched); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create schedule", "DB_ERROR")
		return
	}
	if sched.Enabled {
		if err := s.scheduler.Add(sched); err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error(), "INVALID_CRON")
			return
		}
	}
	jsonResponse(w, http.StatusCreated, ScheduleResponse{
		Schedule:  sched,
		NextRunAt: s.scheduler.NextRunTime(sched.ID),
	})
}

// DeleteSchedule handles DELETE /api/v1/schedules/{id}
func (s *Server) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.db.DeleteSchedule(id)
	if errors.Is(err, db.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Schedule not found", "NOT_FOUND")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete schedule", "DB_ERROR")
		return
	}
	s.scheduler.Remove(id)
	jsonResponse(w, http.StatusOK, SuccessResponse{Success: true, Message: "Schedule deleted"})
}
