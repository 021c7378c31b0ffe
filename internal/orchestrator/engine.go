package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/drops/internal/config"
	"github.com/systmms/drops/internal/deploy"
	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/systmms/drops/internal/events"
	"github.com/systmms/drops/internal/health"
	"github.com/systmms/drops/internal/logging"
	"github.com/systmms/drops/internal/notify"
	"github.com/systmms/drops/internal/router"
	"github.com/systmms/drops/internal/scaler"
)

// errDrillComplete routes a test-mode run into rollback after the traffic
// update has been verified without being applied.
var errDrillComplete = errors.New("drill verified traffic update, rolling back")

// Deployer is the slice of the deployment manager the engine drives.
type Deployer interface {
	Deploy(ctx context.Context, spec deploy.Spec, variant deploy.Variant, replicas int32) error
	Status(ctx context.Context, service string, variant deploy.Variant) (deploy.WorkloadStatus, error)
	Remove(ctx context.Context, service string, variant deploy.Variant) error
}

// CanaryValidator decides whether the canary is fit to take real traffic.
type CanaryValidator interface {
	Validate(ctx context.Context, probers []health.Prober) (health.ValidationResult, error)
}

// Suppressor pauses and resumes outage detection for a pair while the engine
// is already acting on it.
type Suppressor interface {
	Suppress(pair string)
	Resume(pair string)
}

// Notifier delivers run lifecycle events to operators.
type Notifier interface {
	Send(event notify.Event)
	SendSync(ctx context.Context, event notify.Event)
}

// Checkpointer persists run records across restarts.
type Checkpointer interface {
	SavePending(run *Run) error
	LoadPending() ([]*Run, error)
	ClearPending(requestID string) error
	SaveHistory(run *Run) error
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Config    *config.Config
	Scaler    scaler.ComputeScaler
	Deployer  Deployer
	Validator CanaryValidator
	Router    router.TrafficRouter
	Monitor   Suppressor
	Notifier  Notifier
	Store     Checkpointer
	Metrics   *health.FailoverMetrics
	Logger    *logging.Logger

	// WaitInterval is the poll interval for capacity and workload
	// readiness. Defaults to 2s.
	WaitInterval time.Duration
}

// Engine runs failover state machines, one at a time per pair.
type Engine struct {
	config    *config.Config
	settings  config.OrchestratorSettings
	scaler    scaler.ComputeScaler
	deployer  Deployer
	validator CanaryValidator
	router    router.TrafficRouter
	monitor   Suppressor
	notifier  Notifier
	store     Checkpointer
	metrics   *health.FailoverMetrics
	leases    *LeaseRegistry
	logger    *logging.Logger

	waitInterval time.Duration

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewEngine creates an engine. Every collaborator in cfg is required except
// Metrics, Monitor and Notifier, which may be nil when the caller does not
// need them (tests, one-shot CLI runs).
func NewEngine(cfg EngineConfig) *Engine {
	interval := cfg.WaitInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Engine{
		config:       cfg.Config,
		settings:     cfg.Config.Definition.Orchestrator,
		scaler:       cfg.Scaler,
		deployer:     cfg.Deployer,
		validator:    cfg.Validator,
		router:       cfg.Router,
		monitor:      cfg.Monitor,
		notifier:     cfg.Notifier,
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		leases:       NewLeaseRegistry(),
		logger:       cfg.Logger,
		waitInterval: interval,
		runs:         make(map[string]*Run),
	}
}

// Leases exposes the lease registry for status reporting and manual
// remediation.
func (e *Engine) Leases() *LeaseRegistry {
	return e.leases
}

// RunFor returns a snapshot of the most recent run for a pair, if any.
func (e *Engine) RunFor(pair string) (*Run, bool) {
	e.mu.RLock()
	run, ok := e.runs[pair]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return run.Snapshot(), true
}

// Runs returns a snapshot of the most recent run per pair. The copies are
// detached from the live runs, so callers may serialize them while runs are
// still moving.
func (e *Engine) Runs() []*Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Run, 0, len(e.runs))
	for _, run := range e.runs {
		out = append(out, run.Snapshot())
	}
	return out
}

// PendingRuns returns run records left behind by an earlier process,
// oldest first.
func (e *Engine) PendingRuns() ([]*Run, error) {
	return e.store.LoadPending()
}

// Execute runs one failover for req. It returns the terminal run record; the
// error is non-nil when the run did not complete (rolled back or failed).
// A second request for a pair whose run is still in flight is rejected with
// a ConcurrentRunError and leaves the active run untouched.
func (e *Engine) Execute(ctx context.Context, req events.FailoverRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pair, err := e.config.GetPair(req.Pair)
	if err != nil {
		return nil, err
	}
	if err := e.leases.Acquire(req.Pair, req.ID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &Run{
		Request:     req,
		Pair:        req.Pair,
		State:       StateIdle,
		StartedAt:   now,
		Deadline:    now.Add(e.settings.RTOBudget()),
		Transitions: make([]Transition, 0, len(forwardOrder)),
	}
	e.track(run)

	if e.monitor != nil {
		e.monitor.Suppress(req.Pair)
	}
	if e.metrics != nil {
		e.metrics.RecordFailoverStarted(req.Pair, req.TestMode)
	}
	e.sendEvent(run, notify.EventTypeRunStarted, nil)
	e.logger.Info("failover %s started for pair %s (reason: %s, deadline: %s)",
		req.ID, req.Pair, req.Reason, run.Deadline.Format(time.RFC3339))

	stack := NewCompensationStack(e.logger)
	if err := e.forward(ctx, run, pair, stack); err != nil {
		return run, e.rollback(ctx, run, stack, err)
	}

	e.finish(run, StateCompleted, "traffic cut over", nil)
	e.leases.Release(run.Pair, req.ID)
	if e.monitor != nil {
		e.monitor.Resume(run.Pair)
	}
	e.sendEvent(run, notify.EventTypeRunCompleted, nil)
	e.logger.Info("✓ failover %s completed for pair %s in %s", req.ID, req.Pair, run.Duration().Round(time.Second))
	return run, nil
}

// forward walks the happy path. Every mutating stage pushes its compensation
// before acting, so a stage that dies mid-flight is still undone.
func (e *Engine) forward(ctx context.Context, run *Run, pair config.Pair, stack *CompensationStack) error {
	fctx, cancel := context.WithDeadline(ctx, run.Deadline)
	defer cancel()

	spec := deploy.Spec{
		Service:  pair.Service,
		Image:    pair.Image,
		Port:     pair.Port,
		PairName: run.Pair,
		ExtraEnv: map[string]string{"DROPS_ENVIRONMENT": pair.Recovery.Name},
	}

	// ScalingCompute
	if err := e.advance(run, StateScalingCompute, "reserving recovery capacity", nil); err != nil {
		return err
	}
	stack.Push(Compensation{
		Op:    OpReleaseCapacity,
		Stage: StateScalingCompute,
		Fn: func(ctx context.Context) error {
			return e.scaler.Release(ctx, run.Pair)
		},
	})
	if err := e.runStage(fctx, run, func(ctx context.Context) error {
		if err := e.scaler.EnsureCapacity(ctx, run.Pair, e.settings.FullReplicas); err != nil {
			return err
		}
		return e.waitCapacity(ctx, run.Pair)
	}); err != nil {
		return err
	}

	// DeployingCanary
	if err := e.advance(run, StateDeployingCanary, "deploying canary workload", nil); err != nil {
		return err
	}
	stack.Push(Compensation{
		Op:    OpRemoveCanary,
		Stage: StateDeployingCanary,
		Fn: func(ctx context.Context) error {
			return e.deployer.Remove(ctx, pair.Service, deploy.VariantCanary)
		},
	})
	if err := e.runStage(fctx, run, func(ctx context.Context) error {
		return e.deployer.Deploy(ctx, spec, deploy.VariantCanary, e.settings.CanaryReplicas)
	}); err != nil {
		return err
	}

	// AwaitingCanaryReady
	if err := e.advance(run, StateAwaitingCanaryReady, "waiting for canary readiness", nil); err != nil {
		return err
	}
	if err := e.runStage(fctx, run, func(ctx context.Context) error {
		return e.waitWorkload(ctx, pair.Service, deploy.VariantCanary)
	}); err != nil {
		return err
	}

	// ValidatingCanary
	if err := e.advance(run, StateValidatingCanary, "validating canary health", nil); err != nil {
		return err
	}
	if err := e.runStage(fctx, run, func(ctx context.Context) error {
		probers, err := health.ForTargets(pair.Recovery.Checks)
		if err != nil {
			return err
		}
		_, err = e.validator.Validate(ctx, probers)
		return err
	}); err != nil {
		return err
	}

	// ScalingToFull
	if err := e.advance(run, StateScalingToFull, "promoting stable workload", nil); err != nil {
		return err
	}
	stack.Push(Compensation{
		Op:    OpRemoveStable,
		Stage: StateScalingToFull,
		Fn: func(ctx context.Context) error {
			return e.deployer.Remove(ctx, pair.Service, deploy.VariantStable)
		},
	})
	if err := e.runStage(fctx, run, func(ctx context.Context) error {
		if err := e.deployer.Deploy(ctx, spec, deploy.VariantStable, e.settings.FullReplicas); err != nil {
			return err
		}
		return e.waitWorkload(ctx, pair.Service, deploy.VariantStable)
	}); err != nil {
		return err
	}

	// UpdatingTraffic
	if err := e.advance(run, StateUpdatingTraffic, "redirecting traffic", nil); err != nil {
		return err
	}
	if run.Request.TestMode {
		if err := e.runStage(fctx, run, func(ctx context.Context) error {
			return e.router.Verify(ctx, run.Pair, routingTarget(pair, pair.Recovery))
		}); err != nil {
			return err
		}
		return errDrillComplete
	}
	restoreTarget := e.currentTarget(fctx, run.Pair, pair)
	stack.Push(Compensation{
		Op:    OpRestoreRouting,
		Stage: StateUpdatingTraffic,
		Fn: func(ctx context.Context) error {
			return e.router.Update(ctx, run.Pair, restoreTarget)
		},
	})
	if err := e.runStage(fctx, run, func(ctx context.Context) error {
		target := routingTarget(pair, pair.Recovery)
		if err := e.router.Update(ctx, run.Pair, target); err != nil {
			return err
		}
		// Read the route back before declaring the cutover done.
		route, err := e.router.Current(ctx, run.Pair)
		if err != nil {
			return err
		}
		if route.Target != target {
			return fmt.Errorf("route for %s reads back %q after update to %q", run.Pair, route.Target, target)
		}
		return nil
	}); err != nil {
		return err
	}

	// The canary has served its purpose once the stable deployment owns
	// traffic. Removal is best-effort cleanup, not a stage.
	if err := e.deployer.Remove(fctx, pair.Service, deploy.VariantCanary); err != nil {
		e.logger.Warn("failed to remove canary for %s: %v", pair.Service, err)
	}

	return nil
}

// rollback unwinds the compensation stack under its own grace budget. The
// grace clock is independent of the forward deadline: a run that blew its
// recovery deadline still gets the full grace period to restore the
// primary.
func (e *Engine) rollback(ctx context.Context, run *Run, stack *CompensationStack, cause error) error {
	drill := errors.Is(cause, errDrillComplete)
	reason := "rolling back"
	if drill {
		reason = "drill complete, undoing changes"
	}
	run.setError(cause)
	e.finishStage(run, StateRollingBack, reason, cause)
	e.logger.Warn("failover %s for pair %s rolling back: %v", run.Request.ID, run.Pair, cause)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settings.RollbackGrace())
	defer cancel()

	if err := stack.Unwind(rctx); err != nil {
		run.setRemaining(stack.Ops())
		e.finish(run, StateFailed, "compensation incomplete", err)
		// The lease stays held: the pair is in an indeterminate state
		// and must not accept another failover until an operator
		// resumes the rollback.
		if e.metrics != nil {
			e.metrics.RecordRollback(run.Pair, "failed")
		}
		e.sendEventSync(rctx, run, notify.EventTypeRunFailed, err)
		e.logger.Error("failover %s for pair %s FAILED, manual remediation required (remaining: %v)",
			run.Request.ID, run.Pair, run.RemainingCompensations)
		return err
	}

	e.finish(run, StateRolledBack, "compensation complete", nil)
	e.leases.Release(run.Pair, run.Request.ID)
	if e.monitor != nil {
		e.monitor.Resume(run.Pair)
	}
	if e.metrics != nil {
		e.metrics.RecordRollback(run.Pair, "rolled_back")
	}
	e.sendEvent(run, notify.EventTypeRunRolledBack, cause)
	e.logger.Info("✓ failover %s for pair %s rolled back cleanly", run.Request.ID, run.Pair)

	if drill {
		return nil
	}
	return cause
}

// ResumeRollback retries the unfinished compensations of a failed run. The
// stack is rebuilt from the op names persisted in the run record, so it
// works across process restarts.
func (e *Engine) ResumeRollback(ctx context.Context, run *Run) error {
	if run.State != StateFailed {
		return fmt.Errorf("run %s is %s, only failed runs can resume rollback", run.Request.ID, run.State)
	}
	pair, err := e.config.GetPair(run.Pair)
	if err != nil {
		return err
	}
	if holder, held := e.leases.Holder(run.Pair); !held || holder != run.Request.ID {
		// The lease was lost across a restart. Reacquire it so a fresh
		// failover cannot start mid-remediation.
		if err := e.leases.Acquire(run.Pair, run.Request.ID); err != nil {
			return err
		}
	}
	e.track(run)

	stack := NewCompensationStack(e.logger)
	// Ops are persisted newest first; push oldest first to restore order.
	for i := len(run.RemainingCompensations) - 1; i >= 0; i-- {
		comp, err := e.compensationFor(run.RemainingCompensations[i], pair, run)
		if err != nil {
			return err
		}
		stack.Push(comp)
	}

	e.finishStage(run, StateRollingBack, "resuming rollback", nil)
	run.reopen()
	e.logger.Info("resuming rollback of %s for pair %s (%d compensations)",
		run.Request.ID, run.Pair, stack.Len())

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settings.RollbackGrace())
	defer cancel()

	if err := stack.Unwind(rctx); err != nil {
		run.setRemaining(stack.Ops())
		e.finish(run, StateFailed, "compensation incomplete", err)
		if e.metrics != nil {
			e.metrics.RecordRollback(run.Pair, "failed")
		}
		e.sendEventSync(rctx, run, notify.EventTypeRunFailed, err)
		return err
	}

	run.setRemaining(nil)
	e.finish(run, StateRolledBack, "compensation complete", nil)
	e.leases.Release(run.Pair, run.Request.ID)
	if e.monitor != nil {
		e.monitor.Resume(run.Pair)
	}
	if e.metrics != nil {
		e.metrics.RecordRollback(run.Pair, "rolled_back")
	}
	e.sendEvent(run, notify.EventTypeRunRolledBack, nil)
	e.logger.Info("✓ rollback of %s for pair %s completed", run.Request.ID, run.Pair)
	return nil
}

// compensationFor rebuilds a compensation closure from its persisted op name.
func (e *Engine) compensationFor(op string, pair config.Pair, run *Run) (Compensation, error) {
	switch op {
	case OpReleaseCapacity:
		return Compensation{Op: op, Stage: StateScalingCompute, Fn: func(ctx context.Context) error {
			return e.scaler.Release(ctx, run.Pair)
		}}, nil
	case OpRemoveCanary:
		return Compensation{Op: op, Stage: StateDeployingCanary, Fn: func(ctx context.Context) error {
			return e.deployer.Remove(ctx, pair.Service, deploy.VariantCanary)
		}}, nil
	case OpRemoveStable:
		return Compensation{Op: op, Stage: StateScalingToFull, Fn: func(ctx context.Context) error {
			return e.deployer.Remove(ctx, pair.Service, deploy.VariantStable)
		}}, nil
	case OpRestoreRouting:
		return Compensation{Op: op, Stage: StateUpdatingTraffic, Fn: func(ctx context.Context) error {
			return e.router.Update(ctx, run.Pair, routingTarget(pair, pair.Primary))
		}}, nil
	default:
		return Compensation{}, fmt.Errorf("unknown compensation op %q", op)
	}
}

// stageRetryAttempts bounds the local retries of a stage whose collaborator
// returned a transient error.
const stageRetryAttempts = 3

// runStage executes one stage's body under its optional per-stage budget.
// Transient collaborator errors are retried with exponential backoff before
// they escalate to a stage failure; a blown run deadline is converted into a
// DeadlineExceededError.
func (e *Engine) runStage(ctx context.Context, run *Run, fn func(ctx context.Context) error) error {
	if time.Now().After(run.Deadline) {
		return droerrors.DeadlineExceededError{Stage: run.State.String(), Deadline: run.Deadline}
	}

	sctx := ctx
	if budget := e.settings.StageBudget(run.State.String()); budget > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	stage := run.State.String()
	attempts := 1
	defer func() { run.recordAttempts(stage, attempts) }()

	err := fn(sctx)
	for attempt := 1; attempt < stageRetryAttempts && err != nil && droerrors.IsRetryable(err); attempt++ {
		if time.Now().After(run.Deadline) {
			break
		}
		e.logger.Warn("stage %s attempt %d failed, retrying: %v", run.State, attempt, err)
		timer := time.NewTimer(e.waitInterval << (attempt - 1))
		select {
		case <-sctx.Done():
			timer.Stop()
			return sctx.Err()
		case <-timer.C:
		}
		attempts++
		err = fn(sctx)
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && time.Now().After(run.Deadline) {
		return droerrors.DeadlineExceededError{Stage: run.State.String(), Deadline: run.Deadline}
	}
	return err
}

func (e *Engine) waitCapacity(ctx context.Context, pair string) error {
	ticker := time.NewTicker(e.waitInterval)
	defer ticker.Stop()
	for {
		status, err := e.scaler.Status(ctx, pair)
		if err != nil {
			return err
		}
		if status.Phase == scaler.PhaseReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) waitWorkload(ctx context.Context, service string, variant deploy.Variant) error {
	ticker := time.NewTicker(e.waitInterval)
	defer ticker.Stop()
	for {
		status, err := e.deployer.Status(ctx, service, variant)
		if err != nil {
			return err
		}
		if status.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// currentTarget asks the router where traffic points now, falling back to the
// primary alias when the route is unknown.
func (e *Engine) currentTarget(ctx context.Context, pairName string, pair config.Pair) string {
	route, err := e.router.Current(ctx, pairName)
	if err != nil || route.Target == "" {
		return routingTarget(pair, pair.Primary)
	}
	return route.Target
}

// routingTarget is the per-environment service alias traffic is pointed at,
// <service>.<environment>.
func routingTarget(pair config.Pair, env config.Environment) string {
	return fmt.Sprintf("%s.%s", pair.Service, env.Name)
}

// advance moves the run to its next state and checkpoints it. A checkpoint
// write failure is logged, not fatal: losing resumability is better than
// aborting a recovery mid-flight.
func (e *Engine) advance(run *Run, to State, reason string, cause error) error {
	from := run.State
	if err := run.TransitionTo(to, reason, cause); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordStageTransition(run.Pair, from.String(), to.String())
	}
	if err := e.store.SavePending(run); err != nil {
		e.logger.Warn("failed to checkpoint run %s: %v", run.Request.ID, err)
	}
	return nil
}

// finishStage is advance for transitions that must not fail the caller.
func (e *Engine) finishStage(run *Run, to State, reason string, cause error) {
	if err := e.advance(run, to, reason, cause); err != nil {
		e.logger.Error("state machine corruption on run %s: %v", run.Request.ID, err)
	}
}

// finish moves the run to a terminal state and archives it.
func (e *Engine) finish(run *Run, to State, reason string, cause error) {
	e.finishStage(run, to, reason, cause)
	run.complete(time.Now().UTC(), cause)

	if to == StateFailed {
		// Keep the pending record so a restarted process sees the
		// unfinished compensations.
		if err := e.store.SavePending(run); err != nil {
			e.logger.Warn("failed to checkpoint failed run %s: %v", run.Request.ID, err)
		}
	} else {
		if err := e.store.ClearPending(run.Request.ID); err != nil {
			e.logger.Warn("failed to clear checkpoint for run %s: %v", run.Request.ID, err)
		}
	}
	if err := e.store.SaveHistory(run); err != nil {
		e.logger.Warn("failed to archive run %s: %v", run.Request.ID, err)
	}
	if e.metrics != nil {
		e.metrics.RecordFailoverCompleted(run.Pair, run.Outcome(), run.Duration().Seconds())
	}
}

func (e *Engine) track(run *Run) {
	e.mu.Lock()
	e.runs[run.Pair] = run
	e.mu.Unlock()
}

func (e *Engine) sendEvent(run *Run, eventType notify.EventType, cause error) {
	if e.notifier == nil {
		return
	}
	e.notifier.Send(e.buildEvent(run, eventType, cause))
}

func (e *Engine) sendEventSync(ctx context.Context, run *Run, eventType notify.EventType, cause error) {
	if e.notifier == nil {
		return
	}
	e.notifier.SendSync(ctx, e.buildEvent(run, eventType, cause))
}

func (e *Engine) buildEvent(run *Run, eventType notify.EventType, cause error) notify.Event {
	return notify.Event{
		Type:       eventType,
		Pair:       run.Pair,
		RequestID:  run.Request.ID,
		Reason:     run.Request.Reason,
		TestMode:   run.Request.TestMode,
		FinalState: run.State.String(),
		Error:      cause,
		Remaining:  run.RemainingCompensations,
		Duration:   run.Duration(),
		Timestamp:  time.Now().UTC(),
	}
}
