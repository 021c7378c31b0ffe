package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/drops/internal/events"
	"github.com/systmms/drops/internal/logging"
)

// Status is the last observed health of a monitored environment.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Publisher accepts failover requests produced by the monitor.
type Publisher interface {
	Publish(req events.FailoverRequest) bool
}

// MonitorConfig holds configuration for the primary-environment monitor.
type MonitorConfig struct {
	// Interval is how often readiness probes run.
	Interval time.Duration

	// FailureThreshold is the number of consecutive failing rounds before a
	// failover request is emitted.
	FailureThreshold int
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:         10 * time.Second,
		FailureThreshold: 3,
	}
}

type pairState struct {
	pair             string
	probers          []Prober
	consecutiveFails int
	lastStatus       Status
	lastCheck        time.Time
	suppressed       bool
	cancel           context.CancelFunc
	done             chan struct{}
}

// Monitor watches the primary side of each failover pair. After
// FailureThreshold consecutive failing rounds it emits exactly one failover
// request, then suppresses itself until Resume is called for the pair.
type Monitor struct {
	config    MonitorConfig
	publisher Publisher
	logger    *logging.Logger
	metrics   *FailoverMetrics

	mu    sync.RWMutex
	pairs map[string]*pairState
}

// NewMonitor creates a monitor that emits requests through publisher.
func NewMonitor(config MonitorConfig, publisher Publisher, logger *logging.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultMonitorConfig().Interval
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultMonitorConfig().FailureThreshold
	}
	return &Monitor{
		config:    config,
		publisher: publisher,
		logger:    logger,
		metrics:   NewFailoverMetrics(),
		pairs:     make(map[string]*pairState),
	}
}

// Watch begins monitoring a pair's primary environment.
func (m *Monitor) Watch(ctx context.Context, pair string, probers []Prober) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pairs[pair]; exists {
		return fmt.Errorf("already monitoring pair %s", pair)
	}
	if len(probers) == 0 {
		return fmt.Errorf("no probers configured for pair %s", pair)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	state := &pairState{
		pair:       pair,
		probers:    probers,
		lastStatus: StatusUnknown,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.pairs[pair] = state

	go m.run(watchCtx, state)
	return nil
}

// Unwatch stops monitoring a pair and waits for its loop to exit.
func (m *Monitor) Unwatch(pair string) {
	m.mu.Lock()
	state, exists := m.pairs[pair]
	if exists {
		delete(m.pairs, pair)
	}
	m.mu.Unlock()

	if !exists {
		return
	}
	state.cancel()
	<-state.done
}

// Suppress stops the monitor from emitting for a pair while a run is active.
func (m *Monitor) Suppress(pair string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.pairs[pair]; ok {
		state.suppressed = true
	}
}

// Resume re-arms emission for a pair after its run has reached a terminal
// state. The failure counter starts over.
func (m *Monitor) Resume(pair string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.pairs[pair]; ok {
		state.suppressed = false
		state.consecutiveFails = 0
	}
}

// StatusOf returns the last observed status for a pair.
func (m *Monitor) StatusOf(pair string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.pairs[pair]; ok {
		return state.lastStatus
	}
	return StatusUnknown
}

// Statuses returns the last observed status of every watched pair.
func (m *Monitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.pairs))
	for pair, state := range m.pairs {
		out[pair] = state.lastStatus
	}
	return out
}

// Close stops every monitoring loop.
func (m *Monitor) Close() {
	m.mu.Lock()
	pairs := make([]string, 0, len(m.pairs))
	for pair := range m.pairs {
		pairs = append(pairs, pair)
	}
	m.mu.Unlock()

	for _, pair := range pairs {
		m.Unwatch(pair)
	}
}

func (m *Monitor) run(ctx context.Context, state *pairState) {
	defer close(state.done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.round(ctx, state)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.round(ctx, state)
		}
	}
}

func (m *Monitor) round(ctx context.Context, state *pairState) {
	allHealthy := true
	var failures []string

	for _, prober := range state.probers {
		start := time.Now()
		sample, err := prober.Probe(ctx)
		m.metrics.RecordProbe(state.pair, prober.Protocol(), sample.Healthy && err == nil, time.Since(start).Seconds())

		if err != nil {
			allHealthy = false
			failures = append(failures, fmt.Sprintf("%s: %v", prober.Name(), err))
		} else if !sample.Healthy {
			allHealthy = false
			failures = append(failures, fmt.Sprintf("%s: %s", prober.Name(), sample.Message))
		}
	}

	m.mu.Lock()
	state.lastCheck = time.Now()

	if allHealthy {
		state.consecutiveFails = 0
		state.lastStatus = StatusHealthy
		m.mu.Unlock()
		return
	}

	state.consecutiveFails++
	state.lastStatus = StatusUnhealthy
	failCount := state.consecutiveFails
	suppressed := state.suppressed

	// Arm suppression now so later rounds cannot emit a second request for
	// the same outage.
	shouldEmit := !suppressed && failCount >= m.config.FailureThreshold
	if shouldEmit {
		state.suppressed = true
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Debug("pair %s unhealthy (%d/%d consecutive): %v",
			state.pair, failCount, m.config.FailureThreshold, failures)
	}

	if !shouldEmit {
		return
	}

	reason := fmt.Sprintf("primary failed %d consecutive health rounds: %v", failCount, failures)
	req := events.NewFailoverRequest(state.pair, reason, false)
	if m.logger != nil {
		m.logger.Warn("emitting failover request %s for pair %s: %s", req.ID, state.pair, reason)
	}
	if !m.publisher.Publish(req) && m.logger != nil {
		m.logger.Error("failover request %s for pair %s was not accepted", req.ID, state.pair)
	}
}
