package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Severities understood by every notifier.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

type NotificationService interface {
	SendAlert(ctx context.Context, source string, severity string, message string) error
}

// ConsoleNotifier writes alerts to the structured log.
type ConsoleNotifier struct {
	log *zap.Logger
}

func NewConsoleNotifier(log *zap.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{log: log}
}

func (n *ConsoleNotifier) SendAlert(_ context.Context, source, severity, message string) error {
	n.log.Warn("alert",
		zap.String("source", source),
		zap.String("severity", severity),
		zap.String("message", message),
	)
	return nil
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *SlackNotifier) SendAlert(ctx context.Context, source string, severity string, message string) error {
	body, err := json.Marshal(slackPayload{
		Text: fmt.Sprintf("Sweeper Alert: %s", source),
		Attachments: []slackAttachment{{
			Color: severityColor(severity),
			Title: fmt.Sprintf("[%s] Alert", severity),
			Text:  message,
		}},
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack api returned status: %d", resp.StatusCode)
	}
	return nil
}

func severityColor(severity string) string {
	switch severity {
	case SeverityCritical, SeverityError:
		return "#ff0000"
	case SeverityWarning:
		return "#ffa500"
	default:
		return "#36a64f"
	}
}

// Multi fans an alert out to several notifiers and returns the first error.
type Multi []NotificationService

func (m Multi) SendAlert(ctx context.Context, source, severity, message string) error {
	var first error
	for _, n := range m {
		if err := n.SendAlert(ctx, source, severity, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
