// Package review implements the run/task orchestration engine: atomic run
// creation, the queued → running → done|error state machine with sticky
// run-level failure, and the per-task executor.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kylemclaren/reviewd/internal/bus"
	"github.com/kylemclaren/reviewd/internal/config"
	"github.com/kylemclaren/reviewd/internal/db"
	"github.com/kylemclaren/reviewd/internal/llm"
	"github.com/kylemclaren/reviewd/internal/queue"
)

// ErrValidation marks a malformed request; nothing is mutated.
var ErrValidation = errors.New("validation error")

// Default refs applied when the request names none.
const (
	DefaultBaseBranch   = "origin/main"
	DefaultTargetBranch = "HEAD"
)

// Options are the caller-supplied per-request knobs.
type Options struct {
	MaxFiles      int    `json:"maxFiles,omitempty"`
	Parallelism   int    `json:"parallelism,omitempty"`
	ModelOverride string `json:"modelOverride,omitempty"`
}

// Request is the body of a review creation call.
type Request struct {
	RepoID       string   `json:"repoId"`
	BaseBranch   string   `json:"baseBranch,omitempty"`
	TargetBranch string   `json:"targetBranch,omitempty"`
	TemplateIDs  []string `json:"templateIds"`
	Options      Options  `json:"options,omitempty"`
}

// Git is the diff collaborator the executor reaches into.
type Git interface {
	ListChangedFiles(ctx context.Context, repoPath, base, head string, maxFiles int) ([]string, error)
	FilePatch(ctx context.Context, repoPath, base, head, file string) (string, error)
	DiffStat(ctx context.Context, repoPath, base, head string) (string, error)
}

// RepoResolver resolves a repo id that is not yet registered, e.g. an
// auto-discovered repo that should be materialised on first use. May be nil.
type RepoResolver interface {
	Materialize(ctx context.Context, repoID string) (*db.Repo, error)
}

// Service is the orchestration context: it owns the bus, the queue, and the
// executor, and is constructed explicitly at startup.
type Service struct {
	db       *db.DB
	bus      *bus.Bus
	queue    *queue.Queue
	cfg      *config.Config
	git      Git
	llm      llm.Client
	resolver RepoResolver
}

// New wires the orchestration engine together.
func New(database *db.DB, eventBus *bus.Bus, jobs *queue.Queue, cfg *config.Config, git Git, model llm.Client) *Service {
	return &Service{
		db:    database,
		bus:   eventBus,
		queue: jobs,
		cfg:   cfg,
		git:   git,
		llm:   model,
	}
}

// SetRepoResolver installs the auto-discovery fallback used during run
// creation.
func (s *Service) SetRepoResolver(r RepoResolver) { s.resolver = r }

// Bus returns the event bus, for SSE relays.
func (s *Service) Bus() *bus.Bus { return s.bus }

// QueueStats reports queue depth for observability.
func (s *Service) QueueStats() queue.Stats { return s.queue.Stats() }

// CreateRun validates the request and creates the run with one queued task
// per template, atomically: an unresolvable repo or template leaves no rows
// behind.
func (s *Service) CreateRun(ctx context.Context, req Request) (*db.ReviewRun, []*db.ReviewTask, error) {
	if req.RepoID == "" || len(req.TemplateIDs) == 0 {
		return nil, nil, fmt.Errorf("%w: repoId and templateIds required", ErrValidation)
	}

	repo, err := s.resolveRepo(ctx, req.RepoID)
	if err != nil {
		return nil, nil, err
	}

	// Validate every template before writing anything.
	for _, tid := range req.TemplateIDs {
		if _, err := s.db.GetTemplate(tid); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, nil, fmt.Errorf("template %s: %w", tid, db.ErrNotFound)
			}
			return nil, nil, err
		}
	}

	run := &db.ReviewRun{
		ID:           uuid.NewString(),
		RepoID:       repo.ID,
		BaseBranch:   req.BaseBranch,
		TargetBranch: req.TargetBranch,
		Status:       db.StatusQueued,
		CreatedAt:    time.Now(),
	}
	tasks := make([]*db.ReviewTask, 0, len(req.TemplateIDs))
	for _, tid := range req.TemplateIDs {
		tasks = append(tasks, &db.ReviewTask{
			ID:         uuid.NewString(),
			RunID:      run.ID,
			TemplateID: tid,
			Status:     db.StatusQueued,
		})
	}

	if err := s.db.CreateRunWithTasks(run, tasks); err != nil {
		return nil, nil, fmt.Errorf("creating run: %w", err)
	}
	return run, tasks, nil
}

// StartRun enqueues every task of a freshly created run and publishes
// run_started. A parallelism option raises the queue cap for future
// admissions.
func (s *Service) StartRun(run *db.ReviewRun, tasks []*db.ReviewTask, opts Options) []*queue.Handle {
	if opts.Parallelism > 0 {
		s.queue.SetConcurrency(opts.Parallelism)
	}

	_ = s.db.MarkRunStatus(run.ID, db.StatusRunning)

	handles := make([]*queue.Handle, 0, len(tasks))
	for _, task := range tasks {
		task := task
		handles = append(handles, s.queue.Enqueue(func() error {
			err := s.executeTask(context.Background(), run, task, opts)
			s.refreshRunCompletion(run.ID)
			return err
		}))
	}

	s.bus.Publish(bus.Event{Type: bus.EventRunStarted, Data: map[string]interface{}{"runId": run.ID}})
	return handles
}

// refreshRunCompletion derives run completion after a task update: zero
// in-flight tasks transitions the run to done. The store's transition guard
// keeps a failed run failed.
func (s *Service) refreshRunCompletion(runID string) {
	count, err := s.db.CountInFlightTasks(runID)
	if err != nil || count > 0 {
		return
	}
	_ = s.db.MarkRunStatus(runID, db.StatusDone)
}

func (s *Service) resolveRepo(ctx context.Context, repoID string) (*db.Repo, error) {
	repo, err := s.db.GetRepo(repoID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if s.resolver != nil {
		if repo, rerr := s.resolver.Materialize(ctx, repoID); rerr == nil {
			return repo, nil
		}
	}
	return nil, fmt.Errorf("repo %s: %w", repoID, db.ErrNotFound)
}
