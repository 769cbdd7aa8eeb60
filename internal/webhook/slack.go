package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kylemclaren/reviewd/internal/db"
)

// Slack handles Slack webhook notifications
type Slack struct {
	client *http.Client
}

// NewSlack creates a new Slack webhook handler
func NewSlack() *Slack {
	return &Slack{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackBlock represents a Slack Block Kit block
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackTextObj  `json:"text,omitempty"`
	Fields   []SlackTextObj `json:"fields,omitempty"`
	Elements []SlackElement `json:"elements,omitempty"`
}

// SlackTextObj represents a Slack text object
type SlackTextObj struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackElement represents a Slack element (for context blocks)
type SlackElement struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackAttachment represents a Slack attachment (for colored sidebar)
type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackPayload represents the webhook payload
type SlackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SendRunResult sends a review run outcome to Slack
func (s *Slack) SendRunResult(webhookURL, title string, run *db.ReviewRun, tasks []*db.ReviewTask) error {
	var color, statusEmoji, statusText string
	switch run.Status {
	case db.StatusDone:
		color = "#00FF00"
		statusEmoji = ":white_check_mark:"
		statusText = "Done"
	case db.StatusError:
		color = "#FF0000"
		statusEmoji = ":x:"
		statusText = "Error"
	default:
		color = "#FFFF00"
		statusEmoji = ":hourglass:"
		statusText = "Running"
	}

	var duration string
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.CreatedAt).Round(time.Second).String()
	} else {
		duration = "running"
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackTextObj{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s Review: %s", statusEmoji, title),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []SlackTextObj{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Status:*\n%s", statusText)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Duration:*\n%s", duration)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Tasks:*\n%d", len(tasks))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Started:*\n<!date^%d^{date_short} {time}|%s>", run.CreatedAt.Unix(), run.CreatedAt.Format(time.RFC3339))},
			},
		},
		{Type: "divider"},
	}

	for _, task := range tasks {
		var body string
		if task.Error != "" {
			errMsg := task.Error
			if len(errMsg) > 500 {
				errMsg = errMsg[:500] + "..."
			}
			body = fmt.Sprintf(":warning: *Error:*\n```%s```", errMsg)
		} else {
			body = convertToSlackMarkdown(task.ResultSummary)
			if body == "" {
				body = "_No result_"
			}
		}
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackTextObj{Type: "mrkdwn", Text: body},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type: "context",
		Elements: []SlackElement{
			{Type: "mrkdwn", Text: "reviewd"},
		},
	})

	payload := SlackPayload{
		Attachments: []SlackAttachment{
			{Color: color, Blocks: blocks},
		},
	}

	return s.send(webhookURL, payload)
}

// convertToSlackMarkdown converts standard markdown to Slack's mrkdwn format
func convertToSlackMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
		}
		if inCodeBlock {
			continue
		}
		// **bold** becomes *bold*
		for strings.Contains(lines[i], "**") {
			lines[i] = strings.Replace(lines[i], "**", "*", 2)
		}
		// Slack has no headers; render them bold
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "#") {
			headerText := strings.TrimLeft(strings.TrimSpace(lines[i]), "# ")
			lines[i] = "*" + headerText + "*"
		}
	}
	return strings.Join(lines, "\n")
}

func (s *Slack) send(webhookURL string, payload SlackPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", webhookURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
