package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func seedRepo(t *testing.T, database *DB) *Repo {
	t.Helper()
	repo, err := database.CreateRepo(&Repo{ID: "repo-1", Name: "demo", Path: "/tmp/demo"})
	require.NoError(t, err)
	return repo
}

func seedTemplate(t *testing.T, database *DB, id string) *Template {
	t.Helper()
	tmpl := &Template{ID: id, Name: "security review", UserPromptTemplate: "Review {{.RepoName}}"}
	require.NoError(t, database.CreateTemplate(tmpl))
	return tmpl
}

func seedRun(t *testing.T, database *DB, repoID string, taskIDs ...string) (*ReviewRun, []*ReviewTask) {
	t.Helper()
	seedTemplate(t, database, "tmpl-for-"+taskIDs[0])
	run := &ReviewRun{ID: "run-" + taskIDs[0], RepoID: repoID, Status: StatusQueued, CreatedAt: time.Now()}
	tasks := make([]*ReviewTask, 0, len(taskIDs))
	for _, id := range taskIDs {
		tasks = append(tasks, &ReviewTask{ID: id, RunID: run.ID, TemplateID: "tmpl-for-" + taskIDs[0], Status: StatusQueued})
	}
	require.NoError(t, database.CreateRunWithTasks(run, tasks))
	return run, tasks
}

func TestCreateRepoExistingPathWins(t *testing.T) {
	database := testDB(t)

	first, err := database.CreateRepo(&Repo{ID: "a", Name: "one", Path: "/tmp/x"})
	require.NoError(t, err)
	second, err := database.CreateRepo(&Repo{ID: "b", Name: "two", Path: "/tmp/x"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "one", second.Name)
}

func TestGetRepoNotFound(t *testing.T) {
	database := testDB(t)
	_, err := database.GetRepo("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTemplatesFiltersByRepo(t *testing.T) {
	database := testDB(t)
	seedRepo(t, database)

	require.NoError(t, database.CreateTemplate(&Template{ID: "global", Name: "g", UserPromptTemplate: "x"}))
	require.NoError(t, database.CreateTemplate(&Template{ID: "scoped", Name: "s", UserPromptTemplate: "x", RepoID: "repo-1"}))
	require.NoError(t, database.CreateTemplate(&Template{ID: "other", Name: "o", UserPromptTemplate: "x", RepoID: "repo-2"}))

	all, err := database.ListTemplates("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	scoped, err := database.ListTemplates("repo-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(scoped))
	for _, tmpl := range scoped {
		ids = append(ids, tmpl.ID)
	}
	assert.ElementsMatch(t, []string{"global", "scoped"}, ids)
}

func TestCreateRunWithTasksIsAtomic(t *testing.T) {
	database := testDB(t)
	repo := seedRepo(t, database)
	seedTemplate(t, database, "tmpl-1")

	run := &ReviewRun{ID: "run-1", RepoID: repo.ID, Status: StatusQueued, CreatedAt: time.Now()}
	tasks := []*ReviewTask{
		{ID: "task-1", RunID: run.ID, TemplateID: "tmpl-1", Status: StatusQueued},
		{ID: "task-1", RunID: run.ID, TemplateID: "tmpl-1", Status: StatusQueued}, // duplicate id
	}
	require.Error(t, database.CreateRunWithTasks(run, tasks))

	_, err := database.GetRun("run-1")
	assert.ErrorIs(t, err, ErrNotFound, "failed transaction leaves no run behind")
}

func TestTaskLifecycle(t *testing.T) {
	database := testDB(t)
	repo := seedRepo(t, database)
	seedRun(t, database, repo.ID, "task-1")

	require.NoError(t, database.MarkTaskRunning("task-1"))
	task, err := database.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)
	require.NotNil(t, task.StartedAt)
	started := *task.StartedAt

	// Marking again is a no-op: the transition requires queued status.
	require.NoError(t, database.MarkTaskRunning("task-1"))
	task, err = database.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, started.Unix(), task.StartedAt.Unix())

	require.NoError(t, database.FinishTask("task-1", StatusDone, "full text", "summary", ""))
	task, err = database.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, task.Status)
	assert.Equal(t, "full text", task.ResultDetail)
	assert.Equal(t, "summary", task.ResultSummary)
	assert.NotNil(t, task.FinishedAt)
}

func TestFinishTaskTerminalStatusIsSticky(t *testing.T) {
	database := testDB(t)
	repo := seedRepo(t, database)
	seedRun(t, database, repo.ID, "task-1")

	require.NoError(t, database.FinishTask("task-1", StatusError, "", "", "boom"))
	require.NoError(t, database.FinishTask("task-1", StatusDone, "late", "late", ""))

	task, err := database.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, task.Status)
	assert.Equal(t, "boom", task.Error)
	assert.Empty(t, task.ResultDetail)
}

func TestMarkRunStatusErrorIsSticky(t *testing.T) {
	database := testDB(t)
	repo := seedRepo(t, database)
	run, _ := seedRun(t, database, repo.ID, "task-1")

	require.NoError(t, database.MarkRunStatus(run.ID, StatusRunning))
	require.NoError(t, database.MarkRunStatus(run.ID, StatusError))
	require.NoError(t, database.MarkRunStatus(run.ID, StatusDone))

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.NotNil(t, got.FinishedAt)
}

func TestCountInFlightAndFailedTasks(t *testing.T) {
	database := testDB(t)
	repo := seedRepo(t, database)
	run, _ := seedRun(t, database, repo.ID, "task-1", "task-2", "task-3")

	count, err := database.CountInFlightTasks(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, database.FinishTask("task-1", StatusDone, "", "", ""))
	require.NoError(t, database.FinishTask("task-2", StatusError, "", "", "boom"))

	count, err = database.CountInFlightTasks(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	failed, err := database.HasFailedTasks(run.ID)
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestMarkStaleRunsAsFailed(t *testing.T) {
	database := testDB(t)
	repo := seedRepo(t, database)
	run, _ := seedRun(t, database, repo.ID, "task-1", "task-2")
	require.NoError(t, database.MarkRunStatus(run.ID, StatusRunning))
	require.NoError(t, database.MarkTaskRunning("task-1"))

	n, err := database.MarkStaleRunsAsFailed()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)

	task, err := database.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, task.Status)
	assert.Equal(t, "Server restarted during execution", task.Error)
}

func TestScheduleRoundTrip(t *testing.T) {
	database := testDB(t)
	repo := seedRepo(t, database)

	sched := &Schedule{
		ID:          "sched-1",
		Name:        "nightly",
		RepoID:      repo.ID,
		TemplateIDs: []string{"a", "b"},
		CronExpr:    "0 2 * * *",
		Enabled:     true,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, database.CreateSchedule(sched))

	got, err := database.GetSchedule("sched-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.TemplateIDs)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastRunAt)

	require.NoError(t, database.TouchScheduleLastRun("sched-1"))
	got, err = database.GetSchedule("sched-1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunAt)

	require.NoError(t, database.DeleteSchedule("sched-1"))
	_, err = database.GetSchedule("sched-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
