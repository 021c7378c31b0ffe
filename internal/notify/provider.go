// Package notify delivers operator alerts for failover lifecycle events.
package notify

import (
	"context"
)

// Provider defines the interface for sending failover notifications.
type Provider interface {
	// Name returns the provider name (e.g., "slack", "webhook").
	Name() string

	// Send sends a notification for the given event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent returns true if this provider handles the given event type.
	SupportsEvent(eventType EventType) bool

	// Validate checks if the provider configuration is valid.
	Validate(ctx context.Context) error
}
