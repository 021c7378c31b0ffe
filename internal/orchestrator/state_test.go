package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_CanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"idle to scaling", StateIdle, StateScalingCompute, true},
		{"idle cannot skip ahead", StateIdle, StateDeployingCanary, false},
		{"forward step", StateDeployingCanary, StateAwaitingCanaryReady, true},
		{"forward divert to rollback", StateValidatingCanary, StateRollingBack, true},
		{"traffic to completed", StateUpdatingTraffic, StateCompleted, true},
		{"rollback to rolled back", StateRollingBack, StateRolledBack, true},
		{"rollback to failed", StateRollingBack, StateFailed, true},
		{"completed is terminal", StateCompleted, StateRollingBack, false},
		{"rolled back is terminal", StateRolledBack, StateScalingCompute, false},
		{"failed allows manual retry", StateFailed, StateRollingBack, true},
		{"failed cannot restart forward", StateFailed, StateScalingCompute, false},
		{"no backward transition", StateScalingToFull, StateDeployingCanary, false},
		{"unknown state", State("Bogus"), StateIdle, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestState_ForwardPathIsClosed(t *testing.T) {
	t.Parallel()

	// Every forward state must reach the next one, and every non-terminal
	// forward state except Idle must be able to divert to rollback.
	for i, state := range forwardOrder[:len(forwardOrder)-1] {
		next := forwardOrder[i+1]
		assert.True(t, state.CanTransitionTo(next), "%s -> %s", state, next)
		assert.Equal(t, next, state.Next())
		if state != StateIdle {
			assert.True(t, state.CanTransitionTo(StateRollingBack), "%s -> RollingBack", state)
		}
	}
	assert.Equal(t, State(""), StateCompleted.Next())
}

func TestState_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateRolledBack.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateIdle.IsTerminal())
	assert.False(t, StateRollingBack.IsTerminal())
}

func TestRun_TransitionTo(t *testing.T) {
	t.Parallel()

	run := &Run{State: StateIdle}

	require.NoError(t, run.TransitionTo(StateScalingCompute, "reserving capacity", nil))
	require.NoError(t, run.TransitionTo(StateDeployingCanary, "", nil))
	require.Error(t, run.TransitionTo(StateCompleted, "", nil))

	cause := errors.New("canary pods never became ready")
	require.NoError(t, run.TransitionTo(StateRollingBack, "canary failed", cause))

	history := run.History()
	require.Len(t, history, 3)
	assert.Equal(t, StateIdle, history[0].FromState)
	assert.Equal(t, StateScalingCompute, history[0].ToState)
	assert.Equal(t, "reserving capacity", history[0].Reason)
	assert.Equal(t, cause.Error(), history[2].Error)
	assert.Equal(t, StateRollingBack, run.State)
}

func TestRun_SnapshotIsDetached(t *testing.T) {
	t.Parallel()

	run := &Run{Pair: "checkout", State: StateIdle}
	require.NoError(t, run.TransitionTo(StateScalingCompute, "reserving capacity", nil))
	run.recordAttempts(StateScalingCompute.String(), 2)

	snap := run.Snapshot()
	require.NoError(t, run.TransitionTo(StateDeployingCanary, "", nil))
	run.recordAttempts(StateDeployingCanary.String(), 1)
	run.setRemaining([]string{OpReleaseCapacity})

	assert.Equal(t, StateScalingCompute, snap.State)
	assert.Len(t, snap.Transitions, 1)
	assert.Empty(t, snap.RemainingCompensations)
	assert.Equal(t, map[string]int{StateScalingCompute.String(): 2}, snap.AttemptsPerStage)

	// The live run kept moving.
	assert.Equal(t, StateDeployingCanary, run.State)
	assert.Len(t, run.Transitions, 2)
}

func TestRun_Outcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateCompleted, "completed"},
		{StateRolledBack, "rolled_back"},
		{StateFailed, "failed"},
		{StateValidatingCanary, "in_progress"},
	}
	for _, tt := range tests {
		run := &Run{State: tt.state}
		assert.Equal(t, tt.want, run.Outcome())
		assert.Equal(t, tt.want != "in_progress", run.Terminal())
	}
}
