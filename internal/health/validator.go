package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/systmms/drops/internal/logging"
)

// ValidationPolicy decides when a canary is considered proven.
type ValidationPolicy struct {
	// SampleCount is how many probe rounds are collected.
	SampleCount int

	// Interval is the pause between rounds.
	Interval time.Duration

	// ProbeRetries is how many times a single failing probe is retried
	// within a round before the round counts as failed.
	ProbeRetries int

	// RetryBackoff is the pause between probe retries.
	RetryBackoff time.Duration

	// ConsecutivePasses is how many of the final rounds must all pass.
	// Zero disables the streak requirement.
	ConsecutivePasses int

	// MinSuccessRatio is the minimum fraction of passing rounds.
	MinSuccessRatio float64

	// MaxP95Latency fails validation when the 95th percentile probe
	// latency exceeds it. Zero disables the check.
	MaxP95Latency time.Duration
}

// DefaultValidationPolicy returns the default canary validation policy:
// five rounds, every round must pass, each failing probe retried up to
// three times.
func DefaultValidationPolicy() ValidationPolicy {
	return ValidationPolicy{
		SampleCount:     5,
		Interval:        5 * time.Second,
		ProbeRetries:    3,
		RetryBackoff:    2 * time.Second,
		MinSuccessRatio: 1.0,
	}
}

// RoundResult records one validation round across all probers.
type RoundResult struct {
	Passed     bool
	Timestamp  time.Time
	MaxLatency time.Duration
	Failures   []string
}

// ValidationResult is the outcome of a full validation pass.
type ValidationResult struct {
	Passed       bool
	Rounds       []RoundResult
	SuccessRatio float64
	P95Latency   time.Duration
	Reasons      []string
}

// Validator runs the canary validation loop against a set of probers.
type Validator struct {
	policy ValidationPolicy
	logger *logging.Logger

	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewValidator creates a validator with the given policy.
func NewValidator(policy ValidationPolicy, logger *logging.Logger) *Validator {
	if policy.SampleCount <= 0 {
		policy.SampleCount = DefaultValidationPolicy().SampleCount
	}
	if policy.MinSuccessRatio <= 0 {
		policy.MinSuccessRatio = 1.0
	}
	return &Validator{
		policy: policy,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// SetSleep replaces the inter-round wait, used by tests.
func (v *Validator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	v.sleep = fn
}

// Validate collects SampleCount rounds and judges them against the policy.
// A failed validation returns a ValidationFailure error; the result always
// carries the collected evidence.
func (v *Validator) Validate(ctx context.Context, probers []Prober) (ValidationResult, error) {
	result := ValidationResult{}
	if len(probers) == 0 {
		result.Passed = true
		result.SuccessRatio = 1.0
		return result, nil
	}

	var latencies []time.Duration
	passes := 0

	for i := 0; i < v.policy.SampleCount; i++ {
		if i > 0 && v.policy.Interval > 0 {
			if err := v.sleep(ctx, v.policy.Interval); err != nil {
				return result, err
			}
		}

		round := v.round(ctx, probers)
		result.Rounds = append(result.Rounds, round)
		latencies = append(latencies, round.MaxLatency)
		if round.Passed {
			passes++
		}
		if v.logger != nil {
			v.logger.Debug("validation round %d/%d passed=%t latency=%v",
				i+1, v.policy.SampleCount, round.Passed, round.MaxLatency)
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	result.SuccessRatio = float64(passes) / float64(len(result.Rounds))
	result.P95Latency = percentile(latencies, 0.95)

	if result.SuccessRatio < v.policy.MinSuccessRatio {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"success ratio %.2f below required %.2f", result.SuccessRatio, v.policy.MinSuccessRatio))
	}

	if n := v.policy.ConsecutivePasses; n > 0 {
		if !tailPassed(result.Rounds, n) {
			result.Reasons = append(result.Reasons, fmt.Sprintf(
				"last %d rounds did not all pass", n))
		}
	}

	if v.policy.MaxP95Latency > 0 && result.P95Latency > v.policy.MaxP95Latency {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"p95 latency %v exceeds %v", result.P95Latency, v.policy.MaxP95Latency))
	}

	if len(result.Reasons) > 0 {
		return result, droerrors.ValidationFailure{
			Reasons:      result.Reasons,
			SuccessRatio: result.SuccessRatio,
			Samples:      len(result.Rounds),
		}
	}

	result.Passed = true
	return result, nil
}

func (v *Validator) round(ctx context.Context, probers []Prober) RoundResult {
	round := RoundResult{Passed: true, Timestamp: time.Now()}

	for _, prober := range probers {
		sample, err := v.probeWithRetry(ctx, prober)
		if sample.Latency > round.MaxLatency {
			round.MaxLatency = sample.Latency
		}
		if err != nil {
			round.Passed = false
			round.Failures = append(round.Failures, fmt.Sprintf("%s: %v", prober.Name(), err))
		} else if !sample.Healthy {
			round.Passed = false
			round.Failures = append(round.Failures, fmt.Sprintf("%s: %s", prober.Name(), sample.Message))
		}
	}

	return round
}

func (v *Validator) probeWithRetry(ctx context.Context, prober Prober) (Sample, error) {
	var sample Sample
	var err error

	attempts := v.policy.ProbeRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && v.policy.RetryBackoff > 0 {
			if serr := v.sleep(ctx, v.policy.RetryBackoff); serr != nil {
				return sample, serr
			}
		}
		sample, err = prober.Probe(ctx)
		if err == nil && sample.Healthy {
			return sample, nil
		}
	}
	return sample, err
}

func tailPassed(rounds []RoundResult, n int) bool {
	if n > len(rounds) {
		n = len(rounds)
	}
	for _, round := range rounds[len(rounds)-n:] {
		if !round.Passed {
			return false
		}
	}
	return true
}

func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
