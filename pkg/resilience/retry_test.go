package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/resilience"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffMatchesBrokerRetryPolicy(t *testing.T) {
	// Spec section 8 scenario 4: attempts 1..3 against backoff_base = 2s
	// sum to 2 + 4 + 8 = 14s, each individual delay exact since jitter
	// is zero.
	require.Equal(t, 2*time.Second, resilience.ExponentialBackoff(1, 2*time.Second, 60*time.Second, 0))
	require.Equal(t, 4*time.Second, resilience.ExponentialBackoff(2, 2*time.Second, 60*time.Second, 0))
	require.Equal(t, 8*time.Second, resilience.ExponentialBackoff(3, 2*time.Second, 60*time.Second, 0))
}

func TestExponentialBackoffCapsAtMax(t *testing.T) {
	d := resilience.ExponentialBackoff(10, 2*time.Second, 60*time.Second, 0)
	require.Equal(t, 60*time.Second, d)
}

func TestDefaultCircuitBreakerConfigMatchesSpecDefaults(t *testing.T) {
	cfg := resilience.DefaultCircuitBreakerConfig("embedding")
	require.Equal(t, "embedding", cfg.Name)
	require.Equal(t, int64(5), cfg.FailureThreshold)
	require.Equal(t, int64(1), cfg.SuccessThreshold)
	require.Equal(t, 60*time.Second, cfg.Timeout)
}

func TestDefaultRetryConfigIsDeterministic(t *testing.T) {
	cfg := resilience.DefaultRetryConfig()
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.InitialBackoff)
	require.Equal(t, 60*time.Second, cfg.MaxBackoff)
	require.Zero(t, cfg.Jitter, "the broker's retry delays must be exact, not jittered")
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}
	attempts := 0
	err := resilience.Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("embedding failure")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryWithCircuitBreakerOpensAfterRepeatedFailure(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		Timeout:          time.Minute,
	})
	cfg := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}

	err := resilience.RetryWithCircuitBreaker(context.Background(), cb, cfg, func(ctx context.Context) error {
		return errors.New("upstream down")
	})
	require.Error(t, err)
	require.Equal(t, resilience.StateOpen, cb.State(), "three failed attempts against a threshold of 3 must trip the breaker")
}

func TestWithTimeoutCancelsSlowExecutor(t *testing.T) {
	fn := resilience.WithTimeout(5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := fn(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
