package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a referenced record does not exist. Callers
// treat it as a first-class outcome, not a failure of the store itself.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repos (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT DEFAULT '',
		system_prompt TEXT DEFAULT '',
		user_prompt_template TEXT NOT NULL,
		default_model TEXT DEFAULT '',
		repo_id TEXT DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS review_runs (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		base_branch TEXT DEFAULT '',
		target_branch TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'queued',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME,
		FOREIGN KEY (repo_id) REFERENCES repos(id)
	);

	CREATE TABLE IF NOT EXISTS review_tasks (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		result_summary TEXT DEFAULT '',
		result_detail TEXT DEFAULT '',
		error TEXT DEFAULT '',
		started_at DATETIME,
		finished_at DATETIME,
		FOREIGN KEY (run_id) REFERENCES review_runs(id) ON DELETE CASCADE,
		FOREIGN KEY (template_id) REFERENCES templates(id)
	);

	CREATE INDEX IF NOT EXISTS idx_review_tasks_run_id ON review_tasks(run_id);
	CREATE INDEX IF NOT EXISTS idx_review_runs_created_at ON review_runs(created_at);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		repo_id TEXT NOT NULL,
		template_ids TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		base_branch TEXT DEFAULT '',
		target_branch TEXT DEFAULT '',
		slack_webhook TEXT DEFAULT '',
		discord_webhook TEXT DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at DATETIME,
		FOREIGN KEY (repo_id) REFERENCES repos(id)
	);

	CREATE TABLE IF NOT EXISTS llm_requests_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT,
		model TEXT,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// --- Repos ---

// CreateRepo inserts a repo; an existing path wins and is returned instead.
func (db *DB) CreateRepo(repo *Repo) (*Repo, error) {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO repos (id, name, path, created_at)
		VALUES (?, ?, ?, ?)
	`, repo.ID, repo.Name, repo.Path, time.Now())
	if err != nil {
		return nil, err
	}
	return db.GetRepoByPath(repo.Path)
}

// GetRepo retrieves a repo by ID
func (db *DB) GetRepo(id string) (*Repo, error) {
	repo := &Repo{}
	err := db.conn.QueryRow(`
		SELECT id, name, path, created_at FROM repos WHERE id = ?
	`, id).Scan(&repo.ID, &repo.Name, &repo.Path, &repo.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// GetRepoByPath retrieves a repo by its filesystem path
func (db *DB) GetRepoByPath(path string) (*Repo, error) {
	repo := &Repo{}
	err := db.conn.QueryRow(`
		SELECT id, name, path, created_at FROM repos WHERE path = ?
	`, path).Scan(&repo.ID, &repo.Name, &repo.Path, &repo.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// ListRepos retrieves all registered repos, newest first
func (db *DB) ListRepos() ([]*Repo, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, path, created_at FROM repos ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*Repo
	for rows.Next() {
		repo := &Repo{}
		if err := rows.Scan(&repo.ID, &repo.Name, &repo.Path, &repo.CreatedAt); err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// DeleteRepo deletes a repo
func (db *DB) DeleteRepo(id string) error {
	res, err := db.conn.Exec("DELETE FROM repos WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Templates ---

// CreateTemplate inserts a template
func (db *DB) CreateTemplate(t *Template) error {
	_, err := db.conn.Exec(`
		INSERT INTO templates (id, name, category, system_prompt, user_prompt_template, default_model, repo_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Category, t.SystemPrompt, t.UserPromptTemplate, t.DefaultModel, t.RepoID, time.Now())
	return err
}

// GetTemplate retrieves a template by ID
func (db *DB) GetTemplate(id string) (*Template, error) {
	t := &Template{}
	err := db.conn.QueryRow(`
		SELECT id, name, category, system_prompt, user_prompt_template, default_model, repo_id, created_at
		FROM templates WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.Category, &t.SystemPrompt, &t.UserPromptTemplate, &t.DefaultModel, &t.RepoID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates retrieves templates, optionally filtered by repo, newest first
func (db *DB) ListTemplates(repoID string) ([]*Template, error) {
	query := `
		SELECT id, name, category, system_prompt, user_prompt_template, default_model, repo_id, created_at
		FROM templates`
	var args []interface{}
	if repoID != "" {
		query += " WHERE repo_id = ? OR repo_id = ''"
		args = append(args, repoID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t := &Template{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.SystemPrompt, &t.UserPromptTemplate, &t.DefaultModel, &t.RepoID, &t.CreatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpdateTemplate updates a template
func (db *DB) UpdateTemplate(t *Template) error {
	res, err := db.conn.Exec(`
		UPDATE templates SET name = ?, category = ?, system_prompt = ?, user_prompt_template = ?, default_model = ?, repo_id = ?
		WHERE id = ?
	`, t.Name, t.Category, t.SystemPrompt, t.UserPromptTemplate, t.DefaultModel, t.RepoID, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTemplate deletes a template
func (db *DB) DeleteTemplate(id string) error {
	res, err := db.conn.Exec("DELETE FROM templates WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Review runs and tasks ---

// CreateRunWithTasks inserts a run and all of its tasks in one transaction.
// The caller has already validated repo and templates; a constraint failure
// here still leaves no partial rows behind.
func (db *DB) CreateRunWithTasks(run *ReviewRun, tasks []*ReviewTask) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO review_runs (id, repo_id, base_branch, target_branch, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.RepoID, run.BaseBranch, run.TargetBranch, run.Status, run.CreatedAt); err != nil {
		return err
	}

	for _, task := range tasks {
		if _, err := tx.Exec(`
			INSERT INTO review_tasks (id, run_id, template_id, status)
			VALUES (?, ?, ?, ?)
		`, task.ID, task.RunID, task.TemplateID, task.Status); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun retrieves a review run by ID
func (db *DB) GetRun(id string) (*ReviewRun, error) {
	run := &ReviewRun{}
	err := db.conn.QueryRow(`
		SELECT id, repo_id, base_branch, target_branch, status, created_at, finished_at
		FROM review_runs WHERE id = ?
	`, id).Scan(&run.ID, &run.RepoID, &run.BaseBranch, &run.TargetBranch, &run.Status, &run.CreatedAt, &run.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves all review runs, newest first
func (db *DB) ListRuns() ([]*ReviewRun, error) {
	rows, err := db.conn.Query(`
		SELECT id, repo_id, base_branch, target_branch, status, created_at, finished_at
		FROM review_runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ReviewRun
	for rows.Next() {
		run := &ReviewRun{}
		if err := rows.Scan(&run.ID, &run.RepoID, &run.BaseBranch, &run.TargetBranch, &run.Status, &run.CreatedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTask retrieves a review task by ID
func (db *DB) GetTask(id string) (*ReviewTask, error) {
	task := &ReviewTask{}
	err := db.conn.QueryRow(`
		SELECT id, run_id, template_id, status, result_summary, result_detail, error, started_at, finished_at
		FROM review_tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.RunID, &task.TemplateID, &task.Status, &task.ResultSummary, &task.ResultDetail, &task.Error, &task.StartedAt, &task.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasksForRun retrieves a run's tasks in creation order
func (db *DB) ListTasksForRun(runID string) ([]*ReviewTask, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, template_id, status, result_summary, result_detail, error, started_at, finished_at
		FROM review_tasks WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ReviewTask
	for rows.Next() {
		task := &ReviewTask{}
		if err := rows.Scan(&task.ID, &task.RunID, &task.TemplateID, &task.Status, &task.ResultSummary, &task.ResultDetail, &task.Error, &task.StartedAt, &task.FinishedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkTaskRunning transitions a task to running and stamps started_at once.
func (db *DB) MarkTaskRunning(id string) error {
	_, err := db.conn.Exec(`
		UPDATE review_tasks SET status = ?, started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status = ?
	`, StatusRunning, time.Now(), id, StatusQueued)
	return err
}

// FinishTask records the terminal outcome of a task and stamps finished_at.
func (db *DB) FinishTask(id string, status Status, detail, summary, errMsg string) error {
	_, err := db.conn.Exec(`
		UPDATE review_tasks SET status = ?, result_detail = ?, result_summary = ?, error = ?, finished_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, status, detail, summary, errMsg, time.Now(), id, StatusDone, StatusError)
	return err
}

// MarkRunStatus transitions a run's status. Terminal statuses are sticky: a
// run already done or error is never moved again, so a late completion
// derivation cannot overwrite a failure.
func (db *DB) MarkRunStatus(id string, status Status) error {
	var finishedAt interface{}
	if status.Terminal() {
		finishedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		UPDATE review_runs SET status = ?, finished_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, status, finishedAt, id, StatusDone, StatusError)
	return err
}

// CountInFlightTasks counts a run's tasks still queued or running.
func (db *DB) CountInFlightTasks(runID string) (int, error) {
	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM review_tasks WHERE run_id = ? AND status IN (?, ?)
	`, runID, StatusQueued, StatusRunning).Scan(&count)
	return count, err
}

// HasFailedTasks reports whether any of a run's tasks ended in error.
func (db *DB) HasFailedTasks(runID string) (bool, error) {
	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM review_tasks WHERE run_id = ? AND status = ?
	`, runID, StatusError).Scan(&count)
	return count > 0, err
}

// MarkStaleRunsAsFailed fails runs and tasks left queued or running by a
// previous process. Called on startup; in-memory queue state does not
// survive a restart.
func (db *DB) MarkStaleRunsAsFailed() (int64, error) {
	const reason = "Server restarted during execution"
	if _, err := db.conn.Exec(`
		UPDATE review_tasks SET status = ?, error = ?, finished_at = CURRENT_TIMESTAMP
		WHERE status IN (?, ?)
	`, StatusError, reason, StatusQueued, StatusRunning); err != nil {
		return 0, err
	}
	res, err := db.conn.Exec(`
		UPDATE review_runs SET status = ?, finished_at = CURRENT_TIMESTAMP
		WHERE status IN (?, ?)
	`, StatusError, StatusQueued, StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Schedules ---

// CreateSchedule inserts a schedule
func (db *DB) CreateSchedule(s *Schedule) error {
	_, err := db.conn.Exec(`
		INSERT INTO schedules (id, name, repo_id, template_ids, cron_expr, base_branch, target_branch, slack_webhook, discord_webhook, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.RepoID, strings.Join(s.TemplateIDs, ","), s.CronExpr, s.BaseBranch, s.TargetBranch, s.SlackWebhook, s.DiscordWebhook, s.Enabled, time.Now())
	return err
}

func scanSchedule(scan func(dest ...interface{}) error) (*Schedule, error) {
	s := &Schedule{}
	var templateIDs string
	err := scan(&s.ID, &s.Name, &s.RepoID, &templateIDs, &s.CronExpr, &s.BaseBranch, &s.TargetBranch, &s.SlackWebhook, &s.DiscordWebhook, &s.Enabled, &s.CreatedAt, &s.LastRunAt)
	if err != nil {
		return nil, err
	}
	if templateIDs != "" {
		s.TemplateIDs = strings.Split(templateIDs, ",")
	}
	return s, nil
}

const scheduleColumns = "id, name, repo_id, template_ids, cron_expr, base_branch, target_branch, slack_webhook, discord_webhook, enabled, created_at, last_run_at"

// GetSchedule retrieves a schedule by ID
func (db *DB) GetSchedule(id string) (*Schedule, error) {
	row := db.conn.QueryRow("SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	s, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListSchedules retrieves all schedules
func (db *DB) ListSchedules() ([]*Schedule, error) {
	rows, err := db.conn.Query("SELECT " + scheduleColumns + " FROM schedules ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// DeleteSchedule deletes a schedule
func (db *DB) DeleteSchedule(id string) error {
	res, err := db.conn.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchScheduleLastRun stamps a schedule's last run time
func (db *DB) TouchScheduleLastRun(id string) error {
	_, err := db.conn.Exec("UPDATE schedules SET last_run_at = ? WHERE id = ?", time.Now(), id)
	return err
}

// --- LLM request log ---

// LogLLMRequest appends token accounting for a completed model call
func (db *DB) LogLLMRequest(req *LLMRequest) error {
	_, err := db.conn.Exec(`
		INSERT INTO llm_requests_log (task_id, model, prompt_tokens, completion_tokens)
		VALUES (?, ?, ?, ?)
	`, req.TaskID, req.Model, req.PromptTokens, req.CompletionTokens)
	return err
}
