package orchestrator

import (
	"time"
)

// State represents where a failover run stands.
type State string

const (
	// StateIdle indicates no run is in progress.
	StateIdle State = "Idle"

	// StateScalingCompute indicates recovery capacity is being reserved.
	StateScalingCompute State = "ScalingCompute"

	// StateDeployingCanary indicates the canary workload is being created.
	StateDeployingCanary State = "DeployingCanary"

	// StateAwaitingCanaryReady indicates the canary pods are coming up.
	StateAwaitingCanaryReady State = "AwaitingCanaryReady"

	// StateValidatingCanary indicates the canary is under validation probes.
	StateValidatingCanary State = "ValidatingCanary"

	// StateScalingToFull indicates the full-size workload is rolling out.
	StateScalingToFull State = "ScalingToFull"

	// StateUpdatingTraffic indicates traffic cutover is in flight.
	StateUpdatingTraffic State = "UpdatingTraffic"

	// StateCompleted indicates the run succeeded and traffic moved.
	StateCompleted State = "Completed"

	// StateRollingBack indicates compensations are being unwound.
	StateRollingBack State = "RollingBack"

	// StateRolledBack indicates every compensation succeeded.
	StateRolledBack State = "RolledBack"

	// StateFailed indicates compensation did not finish; the environment
	// needs manual remediation and the pair stays leased.
	StateFailed State = "Failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true for states a run never leaves on its own.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateRolledBack || s == StateFailed
}

// forwardOrder is the happy path through the machine.
var forwardOrder = []State{
	StateIdle,
	StateScalingCompute,
	StateDeployingCanary,
	StateAwaitingCanaryReady,
	StateValidatingCanary,
	StateScalingToFull,
	StateUpdatingTraffic,
	StateCompleted,
}

// ValidTransitions defines allowed state transitions. Every non-terminal
// forward state may divert to RollingBack.
var ValidTransitions = map[State][]State{
	StateIdle:                {StateScalingCompute},
	StateScalingCompute:      {StateDeployingCanary, StateRollingBack},
	StateDeployingCanary:     {StateAwaitingCanaryReady, StateRollingBack},
	StateAwaitingCanaryReady: {StateValidatingCanary, StateRollingBack},
	StateValidatingCanary:    {StateScalingToFull, StateRollingBack},
	StateScalingToFull:       {StateUpdatingTraffic, StateRollingBack},
	StateUpdatingTraffic:     {StateCompleted, StateRollingBack},
	StateRollingBack:         {StateRolledBack, StateFailed},
	StateCompleted:           {},
	StateRolledBack:          {},
	StateFailed:              {StateRollingBack}, // manual rollback retry
}

// CanTransitionTo checks if a transition from current state to new state is valid.
func (s State) CanTransitionTo(newState State) bool {
	validStates, ok := ValidTransitions[s]
	if !ok {
		return false
	}
	for _, valid := range validStates {
		if valid == newState {
			return true
		}
	}
	return false
}

// Next returns the forward successor of a state, or empty when the state is
// not on the forward path.
func (s State) Next() State {
	for i, state := range forwardOrder {
		if state == s && i+1 < len(forwardOrder) {
			return forwardOrder[i+1]
		}
	}
	return ""
}

// Transition represents a state transition with metadata.
type Transition struct {
	FromState State     `json:"from"`
	ToState   State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
