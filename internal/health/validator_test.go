package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	droerrors "github.com/systmms/drops/internal/errors"
)

// scriptedProber returns a fixed sequence of samples.
type scriptedProber struct {
	name    string
	samples []Sample
	calls   int
}

func (p *scriptedProber) Name() string     { return p.name }
func (p *scriptedProber) Protocol() string { return ProtocolHTTP }

func (p *scriptedProber) Probe(_ context.Context) (Sample, error) {
	if p.calls >= len(p.samples) {
		return p.samples[len(p.samples)-1], nil
	}
	s := p.samples[p.calls]
	p.calls++
	return s, nil
}

func healthySample(latency time.Duration) Sample {
	return Sample{Healthy: true, Latency: latency, Timestamp: time.Now()}
}

func unhealthySample(msg string) Sample {
	return Sample{Healthy: false, Message: msg, Timestamp: time.Now()}
}

func noSleep(v *Validator) {
	v.SetSleep(func(_ context.Context, _ time.Duration) error { return nil })
}

func repeat(s Sample, n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestDefaultValidationPolicy(t *testing.T) {
	t.Parallel()

	policy := DefaultValidationPolicy()
	assert.Equal(t, 5, policy.SampleCount)
	assert.Equal(t, 3, policy.ProbeRetries)
	assert.Equal(t, 1.0, policy.MinSuccessRatio)
}

func TestValidator_AllPass(t *testing.T) {
	t.Parallel()

	policy := DefaultValidationPolicy()
	policy.ProbeRetries = 0
	v := NewValidator(policy, nil)
	noSleep(v)

	probers := []Prober{
		&scriptedProber{name: "api", samples: repeat(healthySample(10*time.Millisecond), 5)},
		&scriptedProber{name: "db", samples: repeat(healthySample(5*time.Millisecond), 5)},
	}

	result, err := v.Validate(context.Background(), probers)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 1.0, result.SuccessRatio)
	assert.Len(t, result.Rounds, 5)
}

func TestValidator_FailsBelowRatio(t *testing.T) {
	t.Parallel()

	policy := ValidationPolicy{SampleCount: 4, ProbeRetries: 0, MinSuccessRatio: 1.0}
	v := NewValidator(policy, nil)
	noSleep(v)

	samples := []Sample{
		healthySample(time.Millisecond),
		unhealthySample("503 from canary"),
		healthySample(time.Millisecond),
		healthySample(time.Millisecond),
	}
	probers := []Prober{&scriptedProber{name: "api", samples: samples}}

	result, err := v.Validate(context.Background(), probers)
	require.Error(t, err)

	var vf droerrors.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, 4, vf.Samples)
	assert.InDelta(t, 0.75, vf.SuccessRatio, 0.001)
	assert.False(t, result.Passed)
}

func TestValidator_RetriesWithinRound(t *testing.T) {
	t.Parallel()

	policy := ValidationPolicy{SampleCount: 1, ProbeRetries: 2, MinSuccessRatio: 1.0}
	v := NewValidator(policy, nil)
	noSleep(v)

	// Fails twice, passes on the third attempt of the same round.
	p := &scriptedProber{name: "api", samples: []Sample{
		unhealthySample("warming up"),
		unhealthySample("warming up"),
		healthySample(time.Millisecond),
	}}

	result, err := v.Validate(context.Background(), []Prober{p})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 3, p.calls)
}

func TestValidator_ConsecutivePasses(t *testing.T) {
	t.Parallel()

	policy := ValidationPolicy{
		SampleCount:       4,
		ProbeRetries:      0,
		MinSuccessRatio:   0.5,
		ConsecutivePasses: 2,
	}
	v := NewValidator(policy, nil)
	noSleep(v)

	// Ratio passes (3/4) but the last round fails, breaking the streak.
	samples := []Sample{
		healthySample(time.Millisecond),
		healthySample(time.Millisecond),
		healthySample(time.Millisecond),
		unhealthySample("flapped"),
	}
	_, err := v.Validate(context.Background(), []Prober{&scriptedProber{name: "api", samples: samples}})

	var vf droerrors.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Contains(t, fmt.Sprint(vf.Reasons), "did not all pass")
}

func TestValidator_P95Latency(t *testing.T) {
	t.Parallel()

	policy := ValidationPolicy{
		SampleCount:     5,
		ProbeRetries:    0,
		MinSuccessRatio: 1.0,
		MaxP95Latency:   50 * time.Millisecond,
	}
	v := NewValidator(policy, nil)
	noSleep(v)

	samples := []Sample{
		healthySample(10 * time.Millisecond),
		healthySample(10 * time.Millisecond),
		healthySample(10 * time.Millisecond),
		healthySample(10 * time.Millisecond),
		healthySample(200 * time.Millisecond),
	}
	result, err := v.Validate(context.Background(), []Prober{&scriptedProber{name: "api", samples: samples}})

	var vf droerrors.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Contains(t, fmt.Sprint(vf.Reasons), "p95 latency")
	assert.Equal(t, 200*time.Millisecond, result.P95Latency)
}

func TestValidator_ContextCancelled(t *testing.T) {
	t.Parallel()

	policy := ValidationPolicy{SampleCount: 10, Interval: time.Hour, MinSuccessRatio: 1.0}
	v := NewValidator(policy, nil)
	v.SetSleep(sleepCtx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probers := []Prober{&scriptedProber{name: "api", samples: repeat(healthySample(time.Millisecond), 1)}}
	_, err := v.Validate(ctx, probers)
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidator_NoProbers(t *testing.T) {
	t.Parallel()

	v := NewValidator(DefaultValidationPolicy(), nil)
	result, err := v.Validate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}
