package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kylemclaren/reviewd/internal/db"
)

// Discord handles Discord webhook notifications
type Discord struct {
	client *http.Client
}

// NewDiscord creates a new Discord webhook handler
func NewDiscord() *Discord {
	return &Discord{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordPayload represents the webhook payload
type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// SendRunResult sends a review run outcome to Discord
func (d *Discord) SendRunResult(webhookURL, title string, run *db.ReviewRun, tasks []*db.ReviewTask) error {
	var color int
	var statusEmoji string
	switch run.Status {
	case db.StatusDone:
		color = 0x00FF00
		statusEmoji = "✅"
	case db.StatusError:
		color = 0xFF0000
		statusEmoji = "❌"
	default:
		color = 0xFFFF00
		statusEmoji = "⏳"
	}

	// Discord caps embed descriptions at 4096 chars; keep headroom
	var description string
	for _, task := range tasks {
		if task.ResultSummary != "" {
			description += task.ResultSummary + "\n\n"
		}
	}
	if len(description) > 3500 {
		description = description[:3500] + "\n\n*... (truncated)*"
	}
	if description == "" {
		description = "*No results*"
	}

	var duration string
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.CreatedAt).Round(time.Second).String()
	} else {
		duration = "running"
	}

	embed := DiscordEmbed{
		Title:       fmt.Sprintf("%s Review: %s", statusEmoji, title),
		Description: description,
		Color:       color,
		Fields: []EmbedField{
			{Name: "Status", Value: string(run.Status), Inline: true},
			{Name: "Duration", Value: duration, Inline: true},
			{Name: "Tasks", Value: fmt.Sprintf("%d", len(tasks)), Inline: true},
		},
		Timestamp: run.CreatedAt.Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: "reviewd"},
	}

	for _, task := range tasks {
		if task.Error == "" {
			continue
		}
		errMsg := task.Error
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
		embed.Fields = append(embed.Fields, EmbedField{
			Name:   "⚠️ Error",
			Value:  fmt.Sprintf("```\n%s\n```", errMsg),
			Inline: false,
		})
	}

	payload := DiscordPayload{
		Embeds: []DiscordEmbed{embed},
	}

	return d.send(webhookURL, payload)
}

func (d *Discord) send(webhookURL string, payload DiscordPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", webhookURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
