package db

import "time"

// Status is shared by review runs and tasks.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Repo is a registered git repository.
type Repo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Template is a prompt template reviews are rendered from.
type Template struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Category           string    `json:"category,omitempty"`
	SystemPrompt       string    `json:"system_prompt,omitempty"`
	UserPromptTemplate string    `json:"user_prompt_template"`
	DefaultModel       string    `json:"default_model,omitempty"`
	RepoID             string    `json:"repo_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ReviewRun is one review session spanning one task per template.
type ReviewRun struct {
	ID           string     `json:"id"`
	RepoID       string     `json:"repo_id"`
	BaseBranch   string     `json:"base_branch,omitempty"`
	TargetBranch string     `json:"target_branch,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ReviewTask is one (run, template) execution producing one model result.
type ReviewTask struct {
	ID            string     `json:"id"`
	RunID         string     `json:"run_id"`
	TemplateID    string     `json:"template_id"`
	Status        Status     `json:"status"`
	ResultSummary string     `json:"result_summary,omitempty"`
	ResultDetail  string     `json:"result_detail,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Schedule is a recurring review: a repo and template set run on a cron
// expression.
type Schedule struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	RepoID         string     `json:"repo_id"`
	TemplateIDs    []string   `json:"template_ids"`
	CronExpr       string     `json:"cron_expr"`
	BaseBranch     string     `json:"base_branch,omitempty"`
	TargetBranch   string     `json:"target_branch,omitempty"`
	SlackWebhook   string     `json:"slack_webhook,omitempty"`
	DiscordWebhook string     `json:"discord_webhook,omitempty"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}

// LLMRequest records token accounting for one completed model call.
type LLMRequest struct {
	ID               int64     `json:"id"`
	TaskID           string    `json:"task_id"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}
