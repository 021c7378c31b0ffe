package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserError_Format(t *testing.T) {
	t.Parallel()

	err := UserError{
		Message:    "failover request rejected",
		Suggestion: "wait for the active run to finish or roll it back",
		Details:    "pair us-east-1/us-west-2 is busy",
	}

	msg := err.Error()
	assert.Contains(t, msg, "failover request rejected")
	assert.Contains(t, msg, "Details: pair us-east-1/us-west-2 is busy")
	assert.Contains(t, msg, "Try: wait for the active run")
}

func TestUserError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := stderrors.New("boom")
	err := UserError{Message: "outer", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestConfigError_Format(t *testing.T) {
	t.Parallel()

	err := ConfigError{
		Field:      "orchestrator.fullReplicas",
		Value:      2,
		Message:    "must be >= canaryReplicas",
		Suggestion: "set fullReplicas to at least the canary count",
	}

	msg := err.Error()
	assert.Contains(t, msg, "orchestrator.fullReplicas")
	assert.Contains(t, msg, "value: 2")
	assert.Contains(t, msg, "must be >= canaryReplicas")
}

func TestTransientError(t *testing.T) {
	t.Parallel()

	inner := stderrors.New("connection refused")
	err := TransientError{Op: "scale compute", Attempts: 3, Err: inner}

	assert.Contains(t, err.Error(), "scale compute failed after 3 attempts")
	assert.ErrorIs(t, err, inner)
	assert.True(t, IsTransient(err))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", err)))
}

func TestValidationFailure_Format(t *testing.T) {
	t.Parallel()

	err := ValidationFailure{
		Reasons:      []string{"success ratio below threshold", "p95 latency too high"},
		SuccessRatio: 0.62,
		Samples:      8,
	}

	msg := err.Error()
	assert.Contains(t, msg, "8 samples")
	assert.Contains(t, msg, "0.62")
	assert.Contains(t, msg, "p95 latency too high")
	assert.False(t, IsRetryable(err))
}

func TestDeadlineExceededError(t *testing.T) {
	t.Parallel()

	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := DeadlineExceededError{Stage: "ValidatingCanary", Deadline: deadline}

	assert.Contains(t, err.Error(), "ValidatingCanary")
	assert.True(t, IsDeadlineExceeded(fmt.Errorf("run aborted: %w", err)))
	assert.False(t, IsRetryable(err))
}

func TestConcurrentRunError(t *testing.T) {
	t.Parallel()

	err := ConcurrentRunError{Pair: "primary/dr", ActiveRequestID: "req-42"}
	assert.Contains(t, err.Error(), "primary/dr")
	assert.Contains(t, err.Error(), "req-42")
	assert.True(t, IsConcurrentRun(err))
	assert.False(t, IsConcurrentRun(stderrors.New("other")))
}

func TestCompensationError(t *testing.T) {
	t.Parallel()

	inner := stderrors.New("api unavailable")
	err := CompensationError{
		Stage:     "UpdatingTraffic",
		Op:        "restore primary routing",
		Remaining: []string{"remove stable deployment", "release reserved capacity"},
		Err:       inner,
	}

	msg := err.Error()
	assert.Contains(t, msg, "restore primary routing")
	assert.Contains(t, msg, "remaining stack: remove stable deployment, release reserved capacity")
	assert.ErrorIs(t, err, inner)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout string", stderrors.New("request timeout"), true},
		{"connection refused", stderrors.New("dial tcp: connection refused"), true},
		{"rate limit", stderrors.New("Rate Limit exceeded"), true},
		{"throttling", stderrors.New("ThrottlingException"), true},
		{"transient wrapper", TransientError{Op: "probe", Attempts: 1, Err: stderrors.New("x")}, true},
		{"plain failure", stderrors.New("invalid configuration"), false},
		{"validation failure", ValidationFailure{Samples: 5}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
