package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SlackConfig holds configuration for Slack webhook notifications.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	WebhookURL string

	// Channel is the Slack channel to post to (optional, uses webhook default).
	Channel string

	// Events specifies which event types trigger notifications.
	// If empty, all events are sent.
	Events []string
}

// SlackProvider sends failover notifications to Slack via webhooks.
type SlackProvider struct {
	config SlackConfig
	client *http.Client
}

// NewSlackProvider creates a new Slack notification provider.
func NewSlackProvider(config SlackConfig) *SlackProvider {
	return &SlackProvider{
		config: config,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the provider name.
func (p *SlackProvider) Name() string {
	return "slack"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *SlackProvider) SupportsEvent(eventType EventType) bool {
	if len(p.config.Events) == 0 {
		return true
	}
	eventStr := string(eventType)
	for _, e := range p.config.Events {
		if strings.EqualFold(e, eventStr) {
			return true
		}
	}
	return false
}

// Validate checks if the provider configuration is valid.
func (p *SlackProvider) Validate(_ context.Context) error {
	if p.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	parsed, err := url.Parse(p.config.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", p.config.WebhookURL)
	}
	return nil
}

// Send posts a Block Kit message for the given event.
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	message := p.buildMessage(event)

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func eventEmoji(t EventType) string {
	switch t {
	case EventTypeRunCompleted:
		return ":white_check_mark:"
	case EventTypeRunRolledBack:
		return ":leftwards_arrow_with_hook:"
	case EventTypeRunFailed, EventTypeDeadLetter:
		return ":rotating_light:"
	default:
		return ":arrows_counterclockwise:"
	}
}

func eventTitle(event Event) string {
	switch event.Type {
	case EventTypeRunStarted:
		return fmt.Sprintf("Failover started for %s", event.Pair)
	case EventTypeRunCompleted:
		return fmt.Sprintf("Failover completed for %s", event.Pair)
	case EventTypeRunRolledBack:
		return fmt.Sprintf("Failover rolled back for %s", event.Pair)
	case EventTypeRunFailed:
		return fmt.Sprintf("Failover FAILED for %s - manual remediation needed", event.Pair)
	case EventTypeDeadLetter:
		return fmt.Sprintf("Failover request for %s was dead-lettered", event.Pair)
	default:
		return fmt.Sprintf("Failover event for %s", event.Pair)
	}
}

func (p *SlackProvider) buildMessage(event Event) map[string]interface{} {
	fields := []map[string]interface{}{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Request:*\n%s", event.RequestID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:*\n%s", event.Reason)},
	}
	if event.TestMode {
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn", "text": "*Mode:*\ndrill (no traffic moved)",
		})
	}
	if event.Duration > 0 {
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn", "text": fmt.Sprintf("*Duration:*\n%s", event.Duration.Round(time.Second)),
		})
	}
	if event.Error != nil {
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn", "text": fmt.Sprintf("*Error:*\n%s", event.Error.Error()),
		})
	}
	if len(event.Remaining) > 0 {
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn", "text": fmt.Sprintf("*Unfinished compensations:*\n%s", strings.Join(event.Remaining, "\n")),
		})
	}

	message := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "section",
				"text": map[string]interface{}{
					"type": "mrkdwn",
					"text": fmt.Sprintf("%s *%s*", eventEmoji(event.Type), eventTitle(event)),
				},
			},
			{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	if p.config.Channel != "" {
		message["channel"] = p.config.Channel
	}
	return message
}
