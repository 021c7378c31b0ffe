package notify

import (
	"time"
)

// EventType represents the type of failover lifecycle event.
type EventType string

const (
	// EventTypeRunStarted indicates a failover run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run finished with traffic cut over.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunRolledBack indicates a run was fully compensated.
	EventTypeRunRolledBack EventType = "run_rolled_back"

	// EventTypeRunFailed indicates a run ended with compensation incomplete
	// and needs manual remediation.
	EventTypeRunFailed EventType = "run_failed"

	// EventTypeDeadLetter indicates a failover request exhausted delivery.
	EventTypeDeadLetter EventType = "dead_letter"
)

// Event represents a failover lifecycle event for operator alerts.
type Event struct {
	// Type is the type of event.
	Type EventType

	// Pair is the failover pair the run belongs to.
	Pair string

	// RequestID is the failover request that started the run.
	RequestID string

	// Reason is why the run was started.
	Reason string

	// TestMode marks drill runs.
	TestMode bool

	// FinalState is the terminal state name, when the run has one.
	FinalState string

	// Error carries the failure when the run did not complete.
	Error error

	// Remaining lists unfinished compensations on a run_failed event.
	Remaining []string

	// Duration is how long the run took so far.
	Duration time.Duration

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// AllEventTypes returns all valid event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeRunStarted,
		EventTypeRunCompleted,
		EventTypeRunRolledBack,
		EventTypeRunFailed,
		EventTypeDeadLetter,
	}
}
