package resolver

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/flowdata/salesreport/internal/config"
)

// RetryPolicy describes how transient resolver failures are retried:
// exponential backoff from BaseDelay, doubling (Multiplier) per attempt,
// capped at MaxDelay, with a randomized jitter component so many addresses
// retried in sequence do not synchronize.
//
// Jitter and Sleep are injectable so the policy is testable against a fake
// clock; nil values select the real implementations.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      func(d time.Duration) time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// PolicyFromConfig builds a RetryPolicy from resolver configuration with
// the standard doubling multiplier.
func PolicyFromConfig(cfg config.ResolverConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Multiplier:  2.0,
	}
}

// Delay returns the backoff delay before the given retry, where attempt is
// the 1-based attempt that just failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	jittered := jitter(time.Duration(delay))

	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// wait blocks for d or until the context is done.
func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	return sleep(ctx, d)
}

// defaultJitter perturbs a delay by up to ±10%.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.1
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}

// defaultSleep blocks on the wall clock, honoring cancellation.
func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
