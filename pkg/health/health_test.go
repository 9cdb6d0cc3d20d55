package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/health"
	"github.com/chris-alexander-pop/docubroker/pkg/queue/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestPutAndGetServiceHealthRoundTrips(t *testing.T) {
	reg := health.New(memory.New(), health.Config{})

	h := health.ServiceHealth{
		Status:         health.StatusHealthy,
		LastHeartbeat:  time.Now(),
		ResponseTimeMS: 12,
		ErrorCount:     0,
		HandlerCount:   3,
	}
	require.NoError(t, reg.PutServiceHealth(context.Background(), "ingestion-service", h))

	got, ok, err := reg.GetServiceHealth(context.Background(), "ingestion-service")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, health.StatusHealthy, got.Status)
	require.Equal(t, int64(12), got.ResponseTimeMS)
}

func TestGetServiceHealthMissingReturnsFalse(t *testing.T) {
	reg := health.New(memory.New(), health.Config{})

	_, ok, err := reg.GetServiceHealth(context.Background(), "never-reported")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsStaleAfterTwiceHealthInterval(t *testing.T) {
	reg := health.New(memory.New(), health.Config{HealthInterval: 10 * time.Millisecond})

	fresh := health.ServiceHealth{LastHeartbeat: time.Now()}
	require.False(t, reg.IsStale(fresh))

	stale := health.ServiceHealth{LastHeartbeat: time.Now().Add(-25 * time.Millisecond)}
	require.True(t, reg.IsStale(stale))
}

// TestCircuitOpensAtConfiguredFailureThreshold exercises the Registry's
// per-dependency circuit breaker end to end via Execute, mirroring spec
// section 8 scenario 5's worked example.
func TestCircuitOpensAtConfiguredFailureThreshold(t *testing.T) {
	reg := health.New(memory.New(), health.Config{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
	})

	failing := errors.New("embedding service unreachable")
	for i := 0; i < 4; i++ {
		err := reg.Execute(context.Background(), "embedding", func(ctx context.Context) error { return failing })
		require.Error(t, err)
	}

	// A fifth failure opens the circuit; the next call must fail fast.
	_ = reg.Execute(context.Background(), "embedding", func(ctx context.Context) error { return failing })

	called := false
	err := reg.Execute(context.Background(), "embedding", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called)
}

func TestCircuitIsPerDependency(t *testing.T) {
	reg := health.New(memory.New(), health.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	_ = reg.Execute(context.Background(), "embedding", func(ctx context.Context) error { return errors.New("boom") })

	called := false
	err := reg.Execute(context.Background(), "vector-store", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called, "one dependency's open circuit must not block another dependency")
}
