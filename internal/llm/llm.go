// Package llm invokes the review model. The real client speaks the OpenAI
// chat-completions API over plain HTTP; when external sends are disabled or
// no API key is configured, a preview client echoes the prompt instead so
// the rest of the pipeline (streaming included) behaves identically.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kylemclaren/reviewd/internal/config"
)

// Result is the outcome of one model call.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// ChunkFunc receives incremental response text as it arrives.
type ChunkFunc func(chunk string)

// Client is the model collaborator the executor depends on.
type Client interface {
	// Invoke sends the prompt to model. When onChunk is non-nil the call
	// streams: every delta is passed to onChunk, and Result.Text carries
	// the accumulated full text.
	Invoke(ctx context.Context, prompt, model string, onChunk ChunkFunc) (*Result, error)
}

// ModelError marks a failure of the model call itself.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string { return fmt.Sprintf("model %s: %v", e.Model, e.Err) }
func (e *ModelError) Unwrap() error { return e.Err }

// NewClient picks the real or preview client from config.
func NewClient(cfg *config.Config) Client {
	if !cfg.AllowExternalSend || cfg.OpenAIAPIKey == "" {
		return &PreviewClient{}
	}
	base := cfg.OpenAIBaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	return &OpenAIClient{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

// PreviewClient returns a deterministic preview of the prompt without
// contacting any external service. It still honours the streaming contract
// with a single chunk.
type PreviewClient struct{}

const previewLimit = 1000

func (p *PreviewClient) Invoke(_ context.Context, prompt, _ string, onChunk ChunkFunc) (*Result, error) {
	preview := prompt
	if len(preview) > previewLimit {
		// Cut on a rune boundary so a multibyte prompt never yields an
		// invalid UTF-8 preview.
		cut := previewLimit
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}
	text := "LLM disabled: showing prompt preview\n" + preview
	if onChunk != nil {
		onChunk(text)
	}
	return &Result{Text: text}, nil
}

// OpenAIClient calls the chat-completions endpoint directly.
type OpenAIClient struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenAIClient) Invoke(ctx context.Context, prompt, model string, onChunk ChunkFunc) (*Result, error) {
	if onChunk != nil {
		return c.invokeStream(ctx, prompt, model, onChunk)
	}
	return c.invokeOnce(ctx, prompt, model)
}

func (c *OpenAIClient) invokeOnce(ctx context.Context, prompt, model string) (*Result, error) {
	body := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, &ModelError{Model: model, Err: err}
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ModelError{Model: model, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ModelError{Model: model, Err: errors.New("no choices in response")}
	}
	return &Result{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (c *OpenAIClient) invokeStream(ctx context.Context, prompt, model string, onChunk ChunkFunc) (*Result, error) {
	body := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
		Stream:      true,
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, &ModelError{Model: model, Err: err}
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				full.WriteString(delta)
				onChunk(delta)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ModelError{Model: model, Err: fmt.Errorf("reading stream: %w", err)}
	}
	return &Result{Text: full.String()}, nil
}

func (c *OpenAIClient) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %v", resp.StatusCode, detail)
	}
	return resp, nil
}
