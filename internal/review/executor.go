package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kylemclaren/reviewd/internal/bus"
	"github.com/kylemclaren/reviewd/internal/db"
	"github.com/kylemclaren/reviewd/internal/prompt"
)

// summaryLimit bounds the stored result preview.
const summaryLimit = 600

// truncate caps s at limit bytes without splitting a multibyte rune, so the
// stored summary is always valid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// sink forwards streamed model chunks to the event bus while accumulating
// the full text. It is handed down the call chain so the diff/render/model
// steps never touch the bus directly.
type sink struct {
	bus    *bus.Bus
	runID  string
	taskID string
	full   strings.Builder
}

func (s *sink) Write(chunk string) {
	s.full.WriteString(chunk)
	s.bus.Publish(bus.Event{Type: bus.EventTaskProgress, Data: map[string]interface{}{
		"taskId": s.taskID,
		"runId":  s.runID,
		"chunk":  chunk,
	}})
}

func (s *sink) Text() string { return s.full.String() }

// executeTask is the unit-of-work body for one review task: pull the diff,
// render the prompt, stream the model response, persist the result. Any
// failure is scoped to this task's record; siblings are untouched.
func (s *Service) executeTask(ctx context.Context, run *db.ReviewRun, task *db.ReviewTask, opts Options) error {
	repo, err := s.db.GetRepo(run.RepoID)
	if err != nil {
		return s.failTask(run, task, fmt.Errorf("missing dependency: repo %s: %w", run.RepoID, err))
	}
	template, err := s.db.GetTemplate(task.TemplateID)
	if err != nil {
		return s.failTask(run, task, fmt.Errorf("missing dependency: template %s: %w", task.TemplateID, err))
	}

	if err := s.db.MarkTaskRunning(task.ID); err != nil {
		return s.failTask(run, task, fmt.Errorf("marking task running: %w", err))
	}
	s.bus.Publish(bus.Event{Type: bus.EventTaskStarted, Data: map[string]interface{}{
		"taskId": task.ID,
		"runId":  run.ID,
	}})

	base := run.BaseBranch
	if base == "" {
		base = DefaultBaseBranch
	}
	head := run.TargetBranch
	if head == "" {
		head = DefaultTargetBranch
	}

	maxFiles := s.cfg.MaxFiles
	if opts.MaxFiles > 0 {
		maxFiles = opts.MaxFiles
	}

	// The cap is applied at listing time so we never fetch more patches
	// than the limit allows.
	files, err := s.git.ListChangedFiles(ctx, repo.Path, base, head, maxFiles)
	if err != nil {
		return s.failTask(run, task, err)
	}

	patches := make([]prompt.FilePatch, 0, len(files))
	for _, f := range files {
		patch, err := s.git.FilePatch(ctx, repo.Path, base, head, f)
		if err != nil {
			return s.failTask(run, task, err)
		}
		patches = append(patches, prompt.FilePatch{Path: f, Patch: patch})
	}

	stat, err := s.git.DiffStat(ctx, repo.Path, base, head)
	if err != nil {
		return s.failTask(run, task, err)
	}

	rendered, err := prompt.Render(template.UserPromptTemplate, prompt.Context{
		RepoName:     repo.Name,
		BaseBranch:   base,
		TargetBranch: head,
		DiffStat:     stat,
		Files:        patches,
	})
	if err != nil {
		return s.failTask(run, task, err)
	}

	model := opts.ModelOverride
	if model == "" {
		model = template.DefaultModel
	}
	if model == "" {
		model = s.cfg.DefaultModel
	}

	out := &sink{bus: s.bus, runID: run.ID, taskID: task.ID}
	result, err := s.llm.Invoke(ctx, rendered, model, out.Write)
	if err != nil {
		return s.failTask(run, task, err)
	}

	fullText := out.Text()
	if fullText == "" {
		fullText = result.Text
	}
	summary := truncate(fullText, summaryLimit)

	if err := s.db.FinishTask(task.ID, db.StatusDone, fullText, summary, ""); err != nil {
		return s.failTask(run, task, fmt.Errorf("persisting result: %w", err))
	}
	if result.PromptTokens > 0 || result.CompletionTokens > 0 {
		_ = s.db.LogLLMRequest(&db.LLMRequest{
			TaskID:           task.ID,
			Model:            model,
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
		})
	}

	s.bus.Publish(bus.Event{Type: bus.EventTaskCompleted, Data: map[string]interface{}{
		"taskId": task.ID,
		"runId":  run.ID,
	}})
	return nil
}

// failTask records the error on the task, forces the run to error, emits
// task_failed, and returns the error so the queue entry's bookkeeping sees
// the failure. First failure wins at the run level and is sticky.
func (s *Service) failTask(run *db.ReviewRun, task *db.ReviewTask, cause error) error {
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) {
		msg = "execution canceled"
	}
	_ = s.db.FinishTask(task.ID, db.StatusError, "", "", msg)
	_ = s.db.MarkRunStatus(run.ID, db.StatusError)
	s.bus.Publish(bus.Event{Type: bus.EventTaskFailed, Data: map[string]interface{}{
		"taskId": task.ID,
		"runId":  run.ID,
		"error":  msg,
	}})
	return cause
}
