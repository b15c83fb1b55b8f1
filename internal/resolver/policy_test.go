package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/flowdata/salesreport/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityJitter makes delays deterministic for assertions.
func identityJitter(d time.Duration) time.Duration { return d }

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.ResolverConfig{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}

	policy := PolicyFromConfig(cfg)

	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, 5*time.Second, policy.MaxDelay)
	assert.Equal(t, 2.0, policy.Multiplier)
}

func TestDelay_ExponentialDoubling(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      identityJitter,
	}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 400*time.Millisecond, policy.Delay(3))
	assert.Equal(t, 800*time.Millisecond, policy.Delay(4))
}

func TestDelay_CappedAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		MaxDelay:    3 * time.Second,
		Multiplier:  2.0,
		Jitter:      identityJitter,
	}

	assert.Equal(t, 3*time.Second, policy.Delay(4))
	assert.Equal(t, 3*time.Second, policy.Delay(9))
}

func TestDelay_DefaultJitterStaysNearDelay(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  2.0,
	}

	// Default jitter perturbs by at most ±10%
	for i := 0; i < 100; i++ {
		d := policy.Delay(1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestWait_HonorsCancellation(t *testing.T) {
	policy := RetryPolicy{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := policy.wait(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWait_ZeroDelayReturnsImmediately(t *testing.T) {
	policy := RetryPolicy{}

	start := time.Now()
	err := policy.wait(context.Background(), 0)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
