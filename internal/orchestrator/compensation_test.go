package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/systmms/drops/internal/logging"
)

func testStack(t *testing.T) *CompensationStack {
	t.Helper()
	stack := NewCompensationStack(logging.NewWithWriter(testWriter{t}, false, true))
	stack.RetryBackoff = time.Millisecond
	return stack
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestCompensationStack_UnwindsInReverse(t *testing.T) {
	t.Parallel()

	var order []string
	record := func(op string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, op)
			return nil
		}
	}

	stack := testStack(t)
	stack.Push(Compensation{Op: OpReleaseCapacity, Stage: StateScalingCompute, Fn: record(OpReleaseCapacity)})
	stack.Push(Compensation{Op: OpRemoveCanary, Stage: StateDeployingCanary, Fn: record(OpRemoveCanary)})
	stack.Push(Compensation{Op: OpRemoveStable, Stage: StateScalingToFull, Fn: record(OpRemoveStable)})

	require.Equal(t, []string{OpRemoveStable, OpRemoveCanary, OpReleaseCapacity}, stack.Ops())
	require.NoError(t, stack.Unwind(context.Background()))
	assert.Equal(t, []string{OpRemoveStable, OpRemoveCanary, OpReleaseCapacity}, order)
	assert.Zero(t, stack.Len())
}

func TestCompensationStack_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	attempts := 0
	stack := testStack(t)
	stack.Push(Compensation{Op: OpRemoveCanary, Stage: StateDeployingCanary, Fn: func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, stack.Unwind(context.Background()))
	assert.Equal(t, 3, attempts)
}

func TestCompensationStack_FailureStopsUnwind(t *testing.T) {
	t.Parallel()

	released := false
	stack := testStack(t)
	stack.Push(Compensation{Op: OpReleaseCapacity, Stage: StateScalingCompute, Fn: func(context.Context) error {
		released = true
		return nil
	}})
	stack.Push(Compensation{Op: OpRemoveCanary, Stage: StateDeployingCanary, Fn: func(context.Context) error {
		return errors.New("api server unreachable")
	}})

	err := stack.Unwind(context.Background())
	require.Error(t, err)

	var compErr droerrors.CompensationError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, OpRemoveCanary, compErr.Op)
	assert.Equal(t, StateDeployingCanary.String(), compErr.Stage)

	// The failing action and everything below it stay on the stack.
	assert.Equal(t, []string{OpRemoveCanary, OpReleaseCapacity}, stack.Ops())
	assert.Equal(t, []string{OpRemoveCanary, OpReleaseCapacity}, compErr.Remaining)
	assert.False(t, released, "actions below the failure must not run")
}

func TestCompensationStack_ContextCancelStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	stack := testStack(t)
	stack.RetryBackoff = time.Minute
	stack.Push(Compensation{Op: OpRestoreRouting, Stage: StateUpdatingTraffic, Fn: func(context.Context) error {
		cancel()
		return errors.New("route53 throttled")
	}})

	err := stack.Unwind(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stack.Len())
}

func TestCompensationStack_EmptyUnwind(t *testing.T) {
	t.Parallel()

	stack := testStack(t)
	require.NoError(t, stack.Unwind(context.Background()))
}
