package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/reviewd/internal/config"
)

func TestNewClientSelectsPreviewWithoutKey(t *testing.T) {
	c := NewClient(&config.Config{AllowExternalSend: true})
	assert.IsType(t, &PreviewClient{}, c)
}

func TestNewClientSelectsPreviewWhenSendsDisabled(t *testing.T) {
	c := NewClient(&config.Config{OpenAIAPIKey: "sk-test", AllowExternalSend: false})
	assert.IsType(t, &PreviewClient{}, c)
}

func TestNewClientSelectsOpenAI(t *testing.T) {
	c := NewClient(&config.Config{
		OpenAIAPIKey:      "sk-test",
		OpenAIBaseURL:     "http://localhost:9999/",
		AllowExternalSend: true,
	})
	oc, ok := c.(*OpenAIClient)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9999", oc.BaseURL, "trailing slash trimmed")
}

func TestPreviewClientEchoesPrompt(t *testing.T) {
	p := &PreviewClient{}

	var chunks []string
	result, err := p.Invoke(context.Background(), "review this diff", "gpt-4.1-mini", func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "LLM disabled: showing prompt preview\nreview this diff", result.Text)
	require.Len(t, chunks, 1, "preview streams exactly one chunk")
	assert.Equal(t, result.Text, chunks[0])
	assert.Zero(t, result.PromptTokens)
}

func TestPreviewClientTruncatesLongPrompts(t *testing.T) {
	p := &PreviewClient{}

	long := strings.Repeat("x", 5000)
	result, err := p.Invoke(context.Background(), long, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "LLM disabled: showing prompt preview\n"+long[:1000], result.Text)
}

func TestPreviewClientTruncatesOnRuneBoundary(t *testing.T) {
	p := &PreviewClient{}

	// The leading "a" puts every two-byte rune start at an odd offset, so
	// a byte-level cut at the limit would land mid-rune.
	long := "a" + strings.Repeat("é", 1000)
	result, err := p.Invoke(context.Background(), long, "", nil)
	require.NoError(t, err)

	preview := strings.TrimPrefix(result.Text, "LLM disabled: showing prompt preview\n")
	assert.True(t, utf8.ValidString(preview))
	assert.Len(t, preview, 999)
}

func TestOpenAIClientInvokeOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "looks good"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`)
	}))
	defer srv.Close()

	c := &OpenAIClient{APIKey: "sk-test", BaseURL: srv.URL, HTTP: &http.Client{Timeout: 5 * time.Second}}
	result, err := c.Invoke(context.Background(), "prompt", "gpt-4.1-mini", nil)
	require.NoError(t, err)
	assert.Equal(t, "looks good", result.Text)
	assert.Equal(t, 12, result.PromptTokens)
	assert.Equal(t, 3, result.CompletionTokens)
}

func TestOpenAIClientInvokeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := &OpenAIClient{APIKey: "sk-test", BaseURL: srv.URL, HTTP: &http.Client{Timeout: 5 * time.Second}}

	var chunks []string
	result, err := c.Invoke(context.Background(), "prompt", "gpt-4.1-mini", func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, []string{"hel", "lo"}, chunks)
}

func TestOpenAIClientSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "bad key"}}`)
	}))
	defer srv.Close()

	c := &OpenAIClient{APIKey: "bad", BaseURL: srv.URL, HTTP: &http.Client{Timeout: 5 * time.Second}}
	_, err := c.Invoke(context.Background(), "prompt", "gpt-4.1-mini", nil)
	require.Error(t, err)

	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, "gpt-4.1-mini", modelErr.Model)
	assert.Contains(t, err.Error(), "status 401")
}
