// Package shell spawns external processes, either from a fixed allow-list
// or a free-form command line, and streams their output as scoped events.
// It is structurally parallel to the review engine: per-run lifecycle
// tracking plus a publish/subscribe stream, but lives outside the run/task
// model.
package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted during a command run.
const (
	EventStart  = "start"
	EventStdout = "stdout"
	EventStderr = "stderr"
	EventExit   = "exit"
	EventError  = "error"
)

// ErrCommandNotAllowed is returned for an unknown allow-list id.
var ErrCommandNotAllowed = errors.New("command not allowed")

// ErrEmptyCommand is returned for a blank custom command line.
var ErrEmptyCommand = errors.New("command required")

// Event is one streamed observation of a command run. Data carries raw
// output chunks, not whole lines. ExitCode is set on exit events only.
type Event struct {
	RunID    string `json:"runId"`
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	ExitCode *int   `json:"code,omitempty"`
}

// AllowedCommand is a predefined command with a fixed argument vector,
// excluded from shell interpretation.
type AllowedCommand struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Command []string `json:"-"`
	Dir     string   `json:"-"`
}

// CommandLine is the display form of an allowed command.
func (c AllowedCommand) CommandLine() string { return strings.Join(c.Command, " ") }

// RunState is the in-memory lifecycle of one command run.
type RunState struct {
	Status   string `json:"status"` // running, finished, error
	ExitCode *int   `json:"exit_code,omitempty"`
	doneAt   time.Time
}

// DefaultCommands is the built-in allow-list.
var DefaultCommands = []AllowedCommand{
	{ID: "git-status", Title: "git status", Command: []string{"git", "status"}},
	{ID: "git-fetch", Title: "git fetch --all", Command: []string{"git", "fetch", "--all"}},
	{ID: "go-build", Title: "go build ./...", Command: []string{"go", "build", "./..."}},
	{ID: "go-test", Title: "go test ./...", Command: []string{"go", "test", "./..."}},
}

// retention bounds how long a terminal run's state is kept before a later
// Start call sweeps it.
const retention = 10 * time.Minute

type handler struct {
	id int64
	fn func(Event)
}

// Runner owns the allow-list, the per-run state map, and the scoped event
// stream. Construct one per process and inject it.
type Runner struct {
	mu       sync.Mutex
	allowed  []AllowedCommand
	states   map[string]*RunState
	handlers []handler
	nextID   int64
	now      func() time.Time
}

// NewRunner creates a runner with the given allow-list; nil means
// DefaultCommands.
func NewRunner(allowed []AllowedCommand) *Runner {
	if allowed == nil {
		allowed = DefaultCommands
	}
	return &Runner{
		allowed: allowed,
		states:  make(map[string]*RunState),
		now:     time.Now,
	}
}

// ListCommands returns the allow-list with display command lines.
func (r *Runner) ListCommands() []map[string]string {
	out := make([]map[string]string, 0, len(r.allowed))
	for _, c := range r.allowed {
		out = append(out, map[string]string{
			"id":      c.ID,
			"title":   c.Title,
			"command": c.CommandLine(),
		})
	}
	return out
}

// Start spawns an allow-listed command. It returns as soon as the process
// has started; output arrives through Subscribe.
func (r *Runner) Start(commandID string) (runID, display string, err error) {
	var spec *AllowedCommand
	for i := range r.allowed {
		if r.allowed[i].ID == commandID {
			spec = &r.allowed[i]
			break
		}
	}
	if spec == nil {
		return "", "", ErrCommandNotAllowed
	}
	return r.spawn(spec.Command[0], spec.Command[1:], spec.Dir, spec.CommandLine())
}

// StartCustom spawns a free-form command line through the shell, with an
// optional working directory.
func (r *Runner) StartCustom(commandLine, dir string) (runID, display string, err error) {
	commandLine = strings.TrimSpace(commandLine)
	if commandLine == "" {
		return "", "", ErrEmptyCommand
	}
	return r.spawn("/bin/sh", []string{"-c", commandLine}, dir, commandLine)
}

func (r *Runner) spawn(name string, args []string, dir, display string) (string, string, error) {
	runID := uuid.NewString()

	cmd := exec.Command(name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "TERM=dumb")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	r.mu.Lock()
	r.sweepLocked()
	r.states[runID] = &RunState{Status: "running"}
	r.mu.Unlock()

	r.publish(Event{RunID: runID, Type: EventStart, Data: display})

	if err := cmd.Start(); err != nil {
		r.finish(runID, "error", nil)
		r.publish(Event{RunID: runID, Type: EventError, Data: err.Error()})
		return runID, display, nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go r.relay(runID, EventStdout, stdout, &wg)
	go r.relay(runID, EventStderr, stderr, &wg)

	go func() {
		wg.Wait()
		err := cmd.Wait()
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				r.finish(runID, "error", nil)
				r.publish(Event{RunID: runID, Type: EventError, Data: err.Error()})
				return
			}
		}
		status := "finished"
		if code != 0 {
			status = "error"
		}
		r.finish(runID, status, &code)
		r.publish(Event{RunID: runID, Type: EventExit, ExitCode: &code})
	}()

	return runID, display, nil
}

// relay copies raw chunks from a pipe into the event stream as they arrive.
func (r *Runner) relay(runID, eventType string, pipe io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			r.publish(Event{RunID: runID, Type: eventType, Data: string(buf[:n])})
		}
		if err != nil {
			return
		}
	}
}

// Subscribe filters the shared stream to one run id. The returned
// unsubscribe must be called on client disconnect to avoid a handler leak.
func (r *Runner) Subscribe(runID string, fn func(Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers = append(r.handlers, handler{id: id, fn: func(ev Event) {
		if ev.RunID == runID {
			fn(ev)
		}
	}})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, h := range r.handlers {
			if h.id == id {
				r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
				return
			}
		}
	}
}

// State reports the lifecycle of a run, or false if unknown or evicted.
func (r *Runner) State(runID string) (RunState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[runID]
	if !ok {
		return RunState{}, false
	}
	return *st, true
}

func (r *Runner) publish(ev Event) {
	r.mu.Lock()
	snapshot := make([]handler, len(r.handlers))
	copy(snapshot, r.handlers)
	r.mu.Unlock()

	for _, h := range snapshot {
		h.fn(ev)
	}
}

func (r *Runner) finish(runID, status string, code *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[runID]; ok {
		st.Status = status
		st.ExitCode = code
		st.doneAt = r.now()
	}
}

// sweepLocked lazily evicts terminal runs past the retention window.
// Caller holds r.mu.
func (r *Runner) sweepLocked() {
	cutoff := r.now().Add(-retention)
	for id, st := range r.states {
		if st.Status != "running" && !st.doneAt.IsZero() && st.doneAt.Before(cutoff) {
			delete(r.states, id)
		}
	}
}
