package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/systmms/drops/internal/events"
)

// Run is the persisted record of one failover run. It is written to the
// checkpoint store at every transition so a restarted orchestrator can see
// what was in flight.
//
// The engine's worker goroutine is the only writer; readers on other
// goroutines (the status endpoint) must go through Snapshot.
type Run struct {
	mu sync.RWMutex

	// Request is the failover request that started the run.
	Request events.FailoverRequest `json:"request"`

	// Pair is the failover pair name.
	Pair string `json:"pair"`

	// State is the run's current (or terminal) state.
	State State `json:"state"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"startedAt"`

	// Deadline is the absolute recovery deadline for the forward path.
	Deadline time.Time `json:"deadline"`

	// CompletedAt is when the run reached a terminal state.
	CompletedAt time.Time `json:"completedAt,omitempty"`

	// Error is the failure that diverted the run, if any.
	Error string `json:"error,omitempty"`

	// RemainingCompensations lists unfinished compensation ops, newest
	// first, when the run ended in Failed.
	RemainingCompensations []string `json:"remainingCompensations,omitempty"`

	// AttemptsPerStage counts how many times each stage's body ran,
	// transient-error retries included.
	AttemptsPerStage map[string]int `json:"attemptsPerStage,omitempty"`

	// Transitions is the state trail.
	Transitions []Transition `json:"transitions"`
}

// TransitionTo appends a transition and moves the run to the new state.
// Returns an error if the transition is not allowed.
func (r *Run) TransitionTo(to State, reason string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.State.CanTransitionTo(to) {
		return fmt.Errorf("invalid state transition from %s to %s", r.State, to)
	}
	transition := Transition{
		FromState: r.State,
		ToState:   to,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		transition.Error = cause.Error()
	}
	r.Transitions = append(r.Transitions, transition)
	r.State = to
	return nil
}

// History returns a copy of the transition trail.
func (r *Run) History() []Transition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transition, len(r.Transitions))
	copy(out, r.Transitions)
	return out
}

// Snapshot returns a detached copy safe to serialize or inspect while the
// run is still moving.
func (r *Run) Snapshot() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Run{
		Request:     r.Request,
		Pair:        r.Pair,
		State:       r.State,
		StartedAt:   r.StartedAt,
		Deadline:    r.Deadline,
		CompletedAt: r.CompletedAt,
		Error:       r.Error,
	}
	if len(r.RemainingCompensations) > 0 {
		out.RemainingCompensations = append([]string(nil), r.RemainingCompensations...)
	}
	if len(r.AttemptsPerStage) > 0 {
		out.AttemptsPerStage = make(map[string]int, len(r.AttemptsPerStage))
		for stage, n := range r.AttemptsPerStage {
			out.AttemptsPerStage[stage] = n
		}
	}
	out.Transitions = append([]Transition(nil), r.Transitions...)
	return out
}

func (r *Run) setError(cause error) {
	r.mu.Lock()
	r.Error = cause.Error()
	r.mu.Unlock()
}

func (r *Run) setRemaining(ops []string) {
	r.mu.Lock()
	r.RemainingCompensations = ops
	r.mu.Unlock()
}

func (r *Run) recordAttempts(stage string, n int) {
	r.mu.Lock()
	if r.AttemptsPerStage == nil {
		r.AttemptsPerStage = make(map[string]int)
	}
	r.AttemptsPerStage[stage] = n
	r.mu.Unlock()
}

func (r *Run) complete(at time.Time, cause error) {
	r.mu.Lock()
	r.CompletedAt = at
	if cause != nil {
		r.Error = cause.Error()
	}
	r.mu.Unlock()
}

func (r *Run) reopen() {
	r.mu.Lock()
	r.CompletedAt = time.Time{}
	r.mu.Unlock()
}

// Terminal reports whether the run has reached a terminal state.
func (r *Run) Terminal() bool {
	return r.State.IsTerminal()
}

// Duration is how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.CompletedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Outcome names the terminal state for metrics and history.
func (r *Run) Outcome() string {
	switch r.State {
	case StateCompleted:
		return "completed"
	case StateRolledBack:
		return "rolled_back"
	case StateFailed:
		return "failed"
	default:
		return "in_progress"
	}
}
