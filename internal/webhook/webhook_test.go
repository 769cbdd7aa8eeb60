package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/reviewd/internal/db"
)

func sampleRun(status db.Status) (*db.ReviewRun, []*db.ReviewTask) {
	created := time.Now().Add(-2 * time.Minute)
	finished := time.Now()
	run := &db.ReviewRun{
		ID:         "run-1",
		RepoID:     "repo-1",
		Status:     status,
		CreatedAt:  created,
		FinishedAt: &finished,
	}
	tasks := []*db.ReviewTask{
		{ID: "task-1", RunID: "run-1", Status: db.StatusDone, ResultSummary: "**Looks good**"},
		{ID: "task-2", RunID: "run-1", Status: db.StatusError, Error: "model timed out"},
	}
	return run, tasks
}

func TestSlackSendRunResult(t *testing.T) {
	var payload SlackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	run, tasks := sampleRun(db.StatusError)
	require.NoError(t, NewSlack().SendRunResult(srv.URL, "nightly", run, tasks))

	require.Len(t, payload.Attachments, 1)
	att := payload.Attachments[0]
	assert.Equal(t, "#FF0000", att.Color)
	require.NotEmpty(t, att.Blocks)
	assert.Contains(t, att.Blocks[0].Text.Text, "nightly")

	var sawSummary, sawError bool
	for _, block := range att.Blocks {
		if block.Text == nil {
			continue
		}
		if block.Text.Text == "*Looks good*" {
			sawSummary = true // markdown bold converted to mrkdwn
		}
		if strings.Contains(block.Text.Text, "model timed out") {
			sawError = true
		}
	}
	assert.True(t, sawSummary, "task summary rendered as a section block")
	assert.True(t, sawError, "failed task rendered as an error block")
}

func TestSlackRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	run, tasks := sampleRun(db.StatusDone)
	err := NewSlack().SendRunResult(srv.URL, "nightly", run, tasks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestDiscordSendRunResult(t *testing.T) {
	var payload DiscordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	run, tasks := sampleRun(db.StatusDone)
	require.NoError(t, NewDiscord().SendRunResult(srv.URL, "nightly", run, tasks))

	require.Len(t, payload.Embeds, 1)
	embed := payload.Embeds[0]
	assert.Equal(t, 0x00FF00, embed.Color)
	assert.Contains(t, embed.Title, "nightly")
	assert.Contains(t, embed.Description, "**Looks good**")

	var errorFields int
	for _, f := range embed.Fields {
		if f.Name == "⚠️ Error" {
			errorFields++
			assert.Contains(t, f.Value, "model timed out")
		}
	}
	assert.Equal(t, 1, errorFields)
}

func TestConvertToSlackMarkdown(t *testing.T) {
	in := "# Heading\n**bold** text\n```\n**verbatim**\n```"
	out := convertToSlackMarkdown(in)
	assert.Contains(t, out, "*Heading*")
	assert.Contains(t, out, "*bold* text")
	assert.Contains(t, out, "**verbatim**", "code blocks pass through untouched")
}
