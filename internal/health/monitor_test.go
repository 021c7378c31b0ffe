package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/drops/internal/events"
)

// togglingProber reports a configurable health state.
type togglingProber struct {
	mu      sync.Mutex
	healthy bool
}

func (p *togglingProber) Name() string     { return "api" }
func (p *togglingProber) Protocol() string { return ProtocolHTTP }

func (p *togglingProber) Probe(_ context.Context) (Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Sample{Healthy: p.healthy, Message: "probe", Timestamp: time.Now()}, nil
}

func (p *togglingProber) set(healthy bool) {
	p.mu.Lock()
	p.healthy = healthy
	p.mu.Unlock()
}

// capturePublisher records every published request.
type capturePublisher struct {
	mu   sync.Mutex
	reqs []events.FailoverRequest
}

func (c *capturePublisher) Publish(req events.FailoverRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return true
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func fastMonitor(pub Publisher) *Monitor {
	return NewMonitor(MonitorConfig{
		Interval:         5 * time.Millisecond,
		FailureThreshold: 3,
	}, pub, nil)
}

func TestMonitor_EmitsAfterThreshold(t *testing.T) {
	t.Parallel()

	pub := &capturePublisher{}
	m := fastMonitor(pub)
	defer m.Close()

	probe := &togglingProber{healthy: false}
	require.NoError(t, m.Watch(context.Background(), "checkout", []Prober{probe}))

	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	req := pub.reqs[0]
	pub.mu.Unlock()
	assert.Equal(t, "checkout", req.Pair)
	assert.Contains(t, req.Reason, "consecutive health rounds")
	assert.False(t, req.TestMode)
}

func TestMonitor_EmitsOnlyOnce(t *testing.T) {
	t.Parallel()

	pub := &capturePublisher{}
	m := fastMonitor(pub)
	defer m.Close()

	probe := &togglingProber{healthy: false}
	require.NoError(t, m.Watch(context.Background(), "checkout", []Prober{probe}))

	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Target keeps failing; no second request while suppressed.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, pub.count())
}

func TestMonitor_ResumeReArms(t *testing.T) {
	t.Parallel()

	pub := &capturePublisher{}
	m := fastMonitor(pub)
	defer m.Close()

	probe := &togglingProber{healthy: false}
	require.NoError(t, m.Watch(context.Background(), "checkout", []Prober{probe}))
	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	m.Resume("checkout")
	require.Eventually(t, func() bool { return pub.count() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_HealthyRoundResetsCounter(t *testing.T) {
	t.Parallel()

	pub := &capturePublisher{}
	m := NewMonitor(MonitorConfig{
		Interval:         5 * time.Millisecond,
		FailureThreshold: 50,
	}, pub, nil)
	defer m.Close()

	probe := &togglingProber{healthy: true}
	require.NoError(t, m.Watch(context.Background(), "checkout", []Prober{probe}))

	require.Eventually(t, func() bool {
		return m.StatusOf("checkout") == StatusHealthy
	}, 2*time.Second, 5*time.Millisecond)

	probe.set(false)
	require.Eventually(t, func() bool {
		return m.StatusOf("checkout") == StatusUnhealthy
	}, 2*time.Second, 5*time.Millisecond)

	probe.set(true)
	require.Eventually(t, func() bool {
		return m.StatusOf("checkout") == StatusHealthy
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, pub.count())
}

func TestMonitor_WatchTwice(t *testing.T) {
	t.Parallel()

	m := fastMonitor(&capturePublisher{})
	defer m.Close()

	probe := &togglingProber{healthy: true}
	require.NoError(t, m.Watch(context.Background(), "checkout", []Prober{probe}))
	assert.Error(t, m.Watch(context.Background(), "checkout", []Prober{probe}))
}

func TestMonitor_WatchWithoutProbers(t *testing.T) {
	t.Parallel()

	m := fastMonitor(&capturePublisher{})
	defer m.Close()
	assert.Error(t, m.Watch(context.Background(), "checkout", nil))
}

func TestMonitor_Statuses(t *testing.T) {
	t.Parallel()

	m := fastMonitor(&capturePublisher{})
	defer m.Close()

	require.NoError(t, m.Watch(context.Background(), "checkout", []Prober{&togglingProber{healthy: true}}))
	statuses := m.Statuses()
	assert.Contains(t, statuses, "checkout")
	assert.Equal(t, StatusUnknown, m.StatusOf("absent"))
}
