package shell

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCommandsExposesDisplayForm(t *testing.T) {
	r := NewRunner(nil)

	commands := r.ListCommands()
	require.Len(t, commands, len(DefaultCommands))
	assert.Equal(t, "git-status", commands[0]["id"])
	assert.Equal(t, "git status", commands[0]["command"])
}

func TestStartUnknownCommandIsRefused(t *testing.T) {
	r := NewRunner(nil)

	_, _, err := r.Start("rm-rf-slash")
	assert.ErrorIs(t, err, ErrCommandNotAllowed)
}

func TestStartCustomRejectsBlankCommand(t *testing.T) {
	r := NewRunner(nil)

	_, _, err := r.StartCustom("   ", "")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

// collect subscribes to one run and gathers events until exit or error.
// Events arrive from the relay goroutines, so access is serialized.
func collect(t *testing.T, r *Runner, runID string) []Event {
	t.Helper()
	done := make(chan struct{})
	var mu sync.Mutex
	var events []Event
	unsubscribe := r.Subscribe(runID, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		if ev.Type == EventExit || ev.Type == EventError {
			close(done)
		}
	})
	defer unsubscribe()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("command did not finish in time")
	}
	mu.Lock()
	defer mu.Unlock()
	return append([]Event(nil), events...)
}

func TestCustomCommandStreamsOutputAndExit(t *testing.T) {
	r := NewRunner(nil)

	runID, display, err := r.StartCustom("echo hello", "")
	require.NoError(t, err)
	assert.Equal(t, "echo hello", display)

	events := collect(t, r, runID)

	var stdout strings.Builder
	var exitCode *int
	for _, ev := range events {
		switch ev.Type {
		case EventStdout:
			stdout.WriteString(ev.Data)
		case EventExit:
			exitCode = ev.ExitCode
		}
	}
	assert.Equal(t, "hello\n", stdout.String())
	require.NotNil(t, exitCode)
	assert.Equal(t, 0, *exitCode)

	st, ok := r.State(runID)
	require.True(t, ok)
	assert.Equal(t, "finished", st.Status)
}

func TestFailingCommandReportsNonZeroExit(t *testing.T) {
	r := NewRunner(nil)

	runID, _, err := r.StartCustom("exit 3", "")
	require.NoError(t, err)

	events := collect(t, r, runID)
	last := events[len(events)-1]
	require.Equal(t, EventExit, last.Type)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, 3, *last.ExitCode)

	st, ok := r.State(runID)
	require.True(t, ok)
	assert.Equal(t, "error", st.Status)
}

func TestSubscribeIsScopedToOneRun(t *testing.T) {
	r := NewRunner(nil)

	otherID, _, err := r.StartCustom("echo other", "")
	require.NoError(t, err)
	runID, _, err := r.StartCustom("echo mine", "")
	require.NoError(t, err)

	events := collect(t, r, runID)
	for _, ev := range events {
		assert.Equal(t, runID, ev.RunID)
	}
	_ = otherID
}

func TestStateUnknownRun(t *testing.T) {
	r := NewRunner(nil)
	_, ok := r.State("nope")
	assert.False(t, ok)
}

func TestTerminalStatesAreSweptAfterRetention(t *testing.T) {
	r := NewRunner(nil)

	var mu sync.Mutex
	now := time.Now()
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	runID, _, err := r.StartCustom("true", "")
	require.NoError(t, err)
	collect(t, r, runID)

	// Within the window the state survives the sweep a new start triggers.
	secondID, _, err := r.StartCustom("true", "")
	require.NoError(t, err)
	collect(t, r, secondID)
	_, ok := r.State(runID)
	assert.True(t, ok)

	mu.Lock()
	now = now.Add(retention + time.Minute)
	mu.Unlock()

	thirdID, _, err := r.StartCustom("true", "")
	require.NoError(t, err)
	collect(t, r, thirdID)
	_, ok = r.State(runID)
	assert.False(t, ok, "terminal state past retention is evicted")
}
