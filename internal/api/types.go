package api

import (
	"time"

	"github.com/kylemclaren/reviewd/internal/db"
)

// RepoRequest registers a repository by path
type RepoRequest struct {
	Path string `json:"path"`
}

// RepoResponse represents a repo in API responses
type RepoResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Source    string    `json:"source"` // manual or auto
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// BranchesResponse is a cached branch listing
type BranchesResponse struct {
	Status   string   `json:"status"`
	Branches []string `json:"branches"`
	Error    string   `json:"error,omitempty"`
}

// TemplateRequest creates or updates a template
type TemplateRequest struct {
	Name               string `json:"name"`
	Category           string `json:"category,omitempty"`
	SystemPrompt       string `json:"system_prompt,omitempty"`
	UserPromptTemplate string `json:"user_prompt_template"`
	DefaultModel       string `json:"default_model,omitempty"`
	RepoID             string `json:"repo_id,omitempty"`
}

// RunResponse is a review run with its tasks
type RunResponse struct {
	Run   *db.ReviewRun    `json:"run"`
	Tasks []*db.ReviewTask `json:"tasks"`
}

// CreateReviewResponse acknowledges an accepted review request
type CreateReviewResponse struct {
	RunID   string   `json:"runId"`
	TaskIDs []string `json:"taskIds"`
}

// QueueResponse reports job queue depth
type QueueResponse struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
}

// ScheduleRequest creates a review schedule
type ScheduleRequest struct {
	Name           string   `json:"name"`
	RepoID         string   `json:"repo_id"`
	TemplateIDs    []string `json:"template_ids"`
	CronExpr       string   `json:"cron_expr"`
	BaseBranch     string   `json:"base_branch,omitempty"`
	TargetBranch   string   `json:"target_branch,omitempty"`
	SlackWebhook   string   `json:"slack_webhook,omitempty"`
	DiscordWebhook string   `json:"discord_webhook,omitempty"`
	Enabled        bool     `json:"enabled"`
}

// ScheduleResponse is a schedule with its next tick
type ScheduleResponse struct {
	*db.Schedule
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// CsrfResponse carries the shared CSRF token
type CsrfResponse struct {
	Token string `json:"token"`
}

// ShellRunRequest starts an allow-listed command
type ShellRunRequest struct {
	CommandID string `json:"commandId"`
}

// ShellRunCustomRequest starts a free-form command line
type ShellRunCustomRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

// ShellRunResponse acknowledges a started command
type ShellRunResponse struct {
	RunID   string `json:"runId"`
	Command string `json:"command"`
}

// RateLimitedResponse is returned when the shell rate limit is exceeded
type RateLimitedResponse struct {
	Error   string `json:"error"`
	ResetAt int64  `json:"resetAt"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
