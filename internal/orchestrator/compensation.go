package orchestrator

import (
	"context"
	"time"

	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/systmms/drops/internal/logging"
)

// Compensation op names. Stable identifiers: persisted in run records and
// used to rebuild the stack for a manual rollback retry.
const (
	OpReleaseCapacity = "release-capacity"
	OpRemoveCanary    = "remove-canary"
	OpRemoveStable    = "remove-stable"
	OpRestoreRouting  = "restore-routing"
)

// Compensation undoes one forward action.
type Compensation struct {
	// Op identifies the action, one of the Op* constants.
	Op string

	// Stage is the forward stage the compensation belongs to.
	Stage State

	// Fn performs the undo.
	Fn func(ctx context.Context) error
}

// CompensationStack collects compensations as forward actions are taken and
// unwinds them in reverse order on rollback. Each compensation is pushed
// before its forward action runs, so a half-applied action is still undone.
type CompensationStack struct {
	stack []Compensation

	// MaxRetries is the per-action retry budget during unwind.
	MaxRetries int

	// RetryBackoff is the pause between retries.
	RetryBackoff time.Duration

	logger *logging.Logger
}

// NewCompensationStack creates an empty stack.
func NewCompensationStack(logger *logging.Logger) *CompensationStack {
	return &CompensationStack{
		MaxRetries:   2,
		RetryBackoff: 2 * time.Second,
		logger:       logger,
	}
}

// Push records a compensation for the most recent forward action.
func (s *CompensationStack) Push(c Compensation) {
	s.stack = append(s.stack, c)
}

// Len returns the number of pending compensations.
func (s *CompensationStack) Len() int {
	return len(s.stack)
}

// Ops returns the pending op names, most recent first.
func (s *CompensationStack) Ops() []string {
	ops := make([]string, 0, len(s.stack))
	for i := len(s.stack) - 1; i >= 0; i-- {
		ops = append(ops, s.stack[i].Op)
	}
	return ops
}

// Unwind pops and runs every compensation, newest first. A compensation that
// keeps failing after its retry budget stops the unwind; the failing action
// and everything below it stay on the stack for a later retry.
func (s *CompensationStack) Unwind(ctx context.Context) error {
	for len(s.stack) > 0 {
		top := s.stack[len(s.stack)-1]

		if err := s.runWithRetry(ctx, top); err != nil {
			return droerrors.CompensationError{
				Stage:     top.Stage.String(),
				Op:        top.Op,
				Remaining: s.Ops(),
				Err:       err,
			}
		}

		s.stack = s.stack[:len(s.stack)-1]
		if s.logger != nil {
			s.logger.Info("compensation %s for stage %s done (%d remaining)", top.Op, top.Stage, len(s.stack))
		}
	}
	return nil
}

func (s *CompensationStack) runWithRetry(ctx context.Context, c Compensation) error {
	var lastErr error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			if s.logger != nil {
				s.logger.Warn("retrying compensation %s (attempt %d/%d): %v",
					c.Op, attempt+1, s.MaxRetries+1, lastErr)
			}
			timer := time.NewTimer(s.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := c.Fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
