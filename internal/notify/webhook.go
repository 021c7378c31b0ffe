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

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	// Name is a human-readable name for this webhook.
	Name string

	// URL is the webhook endpoint URL.
	URL string

	// Headers are additional HTTP headers to include.
	Headers map[string]string

	// Events specifies which event types trigger notifications.
	// If empty, all events are sent.
	Events []string

	// MaxAttempts is the retry budget per event (default: 3).
	MaxAttempts int

	// InitialWait is the initial wait time between retries.
	InitialWait time.Duration

	// Timeout for the HTTP request.
	Timeout time.Duration
}

// WebhookProvider sends failover notifications via HTTP webhooks.
type WebhookProvider struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookProvider creates a new webhook notification provider.
func NewWebhookProvider(config WebhookConfig) *WebhookProvider {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.InitialWait == 0 {
		config.InitialWait = 1 * time.Second
	}

	return &WebhookProvider{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *WebhookProvider) SupportsEvent(eventType EventType) bool {
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
func (p *WebhookProvider) Validate(_ context.Context) error {
	if p.config.URL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(p.config.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %s", p.config.URL)
	}
	return nil
}

// Send posts the event as JSON, retrying with exponential backoff.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload, err := p.buildPayload(event)
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		err := p.doSend(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < p.config.MaxAttempts {
			wait := p.config.InitialWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", p.config.MaxAttempts, lastErr)
}

func (p *WebhookProvider) buildPayload(event Event) ([]byte, error) {
	body := map[string]interface{}{
		"type":       string(event.Type),
		"pair":       event.Pair,
		"request_id": event.RequestID,
		"reason":     event.Reason,
		"test_mode":  event.TestMode,
		"timestamp":  event.Timestamp.UTC().Format(time.RFC3339),
	}
	if event.FinalState != "" {
		body["final_state"] = event.FinalState
	}
	if event.Error != nil {
		body["error"] = event.Error.Error()
	}
	if len(event.Remaining) > 0 {
		body["remaining_compensations"] = event.Remaining
	}
	if event.Duration > 0 {
		body["duration_seconds"] = event.Duration.Seconds()
	}
	return json.Marshal(body)
}

func (p *WebhookProvider) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
