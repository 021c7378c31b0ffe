package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error caught before any external mutation
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// TransientError wraps a collaborator failure that is worth retrying with backoff.
// Attempts records how many tries were made before the error was escalated.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e TransientError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// ValidationFailure is the terminal decision of a canary validation stage.
// It is not retried; it always routes the run to rollback.
type ValidationFailure struct {
	Reasons      []string
	SuccessRatio float64
	Samples      int
}

func (e ValidationFailure) Error() string {
	return fmt.Sprintf("canary validation failed: %d samples, success ratio %.2f, reasons: %s",
		e.Samples, e.SuccessRatio, strings.Join(e.Reasons, "; "))
}

// DeadlineExceededError indicates the run's absolute RTO deadline passed.
// Fatal for the forward path at any point; always routes to rollback.
type DeadlineExceededError struct {
	Stage    string
	Deadline time.Time
}

func (e DeadlineExceededError) Error() string {
	return fmt.Sprintf("recovery deadline %s exceeded during stage %s",
		e.Deadline.Format(time.RFC3339), e.Stage)
}

// ConcurrentRunError is returned when a failover request arrives for a pair
// that already has a run in progress. The request is rejected, never queued.
type ConcurrentRunError struct {
	Pair            string
	ActiveRequestID string
}

func (e ConcurrentRunError) Error() string {
	return fmt.Sprintf("failover already in progress for pair %s (request %s)", e.Pair, e.ActiveRequestID)
}

// CompensationError indicates a compensating action failed after its retry
// budget. Remaining lists the compensations still on the stack, surfaced for
// manual remediation.
type CompensationError struct {
	Stage     string
	Op        string
	Remaining []string
	Err       error
}

func (e CompensationError) Error() string {
	msg := fmt.Sprintf("compensation %s for stage %s failed: %v", e.Op, e.Stage, e.Err)
	if len(e.Remaining) > 0 {
		msg += fmt.Sprintf(" (remaining stack: %s)", strings.Join(e.Remaining, ", "))
	}
	return msg
}

func (e CompensationError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te TransientError
	return errors.As(err, &te)
}

// IsDeadlineExceeded reports whether err is (or wraps) a DeadlineExceededError.
func IsDeadlineExceeded(err error) bool {
	var de DeadlineExceededError
	return errors.As(err, &de)
}

// IsConcurrentRun reports whether err is (or wraps) a ConcurrentRunError.
func IsConcurrentRun(err error) bool {
	var ce ConcurrentRunError
	return errors.As(err, &ce)
}

// IsRetryable checks if an error is worth retrying at the component boundary
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if IsTransient(err) {
		return true
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(strings.ToLower(errStr), pattern) {
			return true
		}
	}

	return false
}
