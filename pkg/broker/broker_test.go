package broker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/broker"
	"github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
	"github.com/chris-alexander-pop/docubroker/pkg/messaging/adapters/memory"
	queuememory "github.com/chris-alexander-pop/docubroker/pkg/queue/adapters/memory"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, cfg broker.Config) (*broker.Broker, func()) {
	t.Helper()
	backend := queuememory.New()
	notifier := memory.New(memory.Config{})
	reg := health.New(backend, health.Config{})

	if cfg.Name == "" {
		cfg.Name = "test-service"
	}
	b := broker.New(backend, notifier, reg, cfg)
	return b, func() {
		_ = b.Stop(context.Background())
		_ = backend.Close()
		_ = notifier.Close()
	}
}

func TestPublishAndDispatch(t *testing.T) {
	b, cleanup := newTestBroker(t, broker.Config{WorkerPoolSize: 2})
	defer cleanup()

	received := make(chan *broker.Message, 1)
	b.RegisterHandler("greet", func(ctx context.Context, msg *broker.Message) error {
		received <- msg
		return nil
	})

	require.NoError(t, b.Start(context.Background()))

	id, err := b.Publish(context.Background(), "test-service", "greet", map[string]interface{}{"name": "ada"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case msg := <-received:
		require.Equal(t, id, msg.ID)
		require.Equal(t, "ada", msg.Payload["name"])
	case <-time.After(2 * time.Second):
		t.Fatal("message was never dispatched")
	}
}

func TestNotForUsGoesToDeadLetter(t *testing.T) {
	b, cleanup := newTestBroker(t, broker.Config{Name: "self", WorkerPoolSize: 1})
	defer cleanup()
	require.NoError(t, b.Start(context.Background()))

	_, err := b.Publish(context.Background(), "someone-else", "noop", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.DeadLetterCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAutomaticAckOnCorrelationID(t *testing.T) {
	b, cleanup := newTestBroker(t, broker.Config{Name: "self", WorkerPoolSize: 1})
	defer cleanup()

	b.RegisterHandler("work", func(ctx context.Context, msg *broker.Message) error {
		return nil
	})
	require.NoError(t, b.Start(context.Background()))

	_, err := b.Publish(context.Background(), "self", "work", nil, broker.WithCorrelationID("corr-1"))
	require.NoError(t, err)

	// The ack is itself a message to "self" of type "ack"; register a
	// handler for it to observe delivery.
	ackCh := make(chan *broker.Message, 1)
	b.RegisterHandler("ack", func(ctx context.Context, msg *broker.Message) error {
		ackCh <- msg
		return nil
	})

	select {
	case ack := <-ackCh:
		require.Equal(t, "corr-1", ack.CorrelationID)
		require.Equal(t, "success", ack.Payload["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("ack was never delivered")
	}
}

func TestRetryThenDeadLetterOnMaxAttemptsExceeded(t *testing.T) {
	b, cleanup := newTestBroker(t, broker.Config{
		Name:           "self",
		WorkerPoolSize: 1,
		BackoffBase:    10 * time.Millisecond,
		BackoffCap:     50 * time.Millisecond,
	})
	defer cleanup()

	var attempts int64
	b.RegisterHandler("flaky", func(ctx context.Context, msg *broker.Message) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New(errors.CodeInternal, "boom", nil)
	})
	require.NoError(t, b.Start(context.Background()))

	_, err := b.Publish(context.Background(), "self", "flaky", nil, broker.WithMaxAttempts(3))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.DeadLetterCount() == 1
	}, 3*time.Second, 10*time.Millisecond)
	// attempt is checked against max_attempts after each failed dispatch
	// (spec section 4.1), so a message dispatched at attempt=0..3 all
	// satisfy attempt<=max_attempts(3) and get one more try; the fourth
	// failure brings attempt to 4, which dead-letters it. Four handler
	// invocations, three backoff waits between them.
	require.Equal(t, int64(4), atomic.LoadInt64(&attempts))
}

func TestZeroTTLDeadLettersImmediately(t *testing.T) {
	b, cleanup := newTestBroker(t, broker.Config{Name: "self", WorkerPoolSize: 1})
	defer cleanup()

	b.RegisterHandler("work", func(ctx context.Context, msg *broker.Message) error {
		t.Fatal("handler must not run for a ttl=0 message")
		return nil
	})
	require.NoError(t, b.Start(context.Background()))

	_, err := b.Publish(context.Background(), "self", "work", nil, broker.WithTTL(0))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.DeadLetterCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthReportsPendingRetries(t *testing.T) {
	backend := queuememory.New()
	notifier := memory.New(memory.Config{})
	reg := health.New(backend, health.Config{})
	b := broker.New(backend, notifier, reg, broker.Config{
		Name:           "self",
		WorkerPoolSize: 1,
		HealthInterval: 20 * time.Millisecond,
		BackoffBase:    time.Second,
		BackoffCap:     time.Second,
	})
	defer func() {
		_ = b.Stop(context.Background())
		_ = backend.Close()
		_ = notifier.Close()
	}()

	b.RegisterHandler("flaky", func(ctx context.Context, msg *broker.Message) error {
		return errors.New(errors.CodeInternal, "boom", nil)
	})
	require.NoError(t, b.Start(context.Background()))

	_, err := b.Publish(context.Background(), "self", "flaky", nil, broker.WithMaxAttempts(5))
	require.NoError(t, err)

	// The failed dispatch lands the message in the backoff delay queue
	// for BackoffBase (1s); the next health tick must see it and surface
	// it on the broker's own ServiceHealth record (spec section 4.1's
	// backoff scheduling, reported alongside liveness).
	require.Eventually(t, func() bool {
		h, ok, err := reg.GetServiceHealth(context.Background(), "self")
		return err == nil && ok && h.PendingRetries > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPriorityDrainsHighBeforeLow(t *testing.T) {
	b, cleanup := newTestBroker(t, broker.Config{Name: "self", WorkerPoolSize: 1})
	defer cleanup()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	b.RegisterHandler("work", func(ctx context.Context, msg *broker.Message) error {
		mu.Lock()
		order = append(order, msg.Payload["label"].(string))
		n := len(order)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
		return nil
	})

	// Publish low first so it lands in queue:low before the worker
	// starts; the strict-priority poll must still dispatch high first.
	_, err := b.Publish(context.Background(), "self", "work", map[string]interface{}{"label": "low"}, broker.WithPriority(1))
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), "self", "work", map[string]interface{}{"label": "high"}, broker.WithPriority(9))
	require.NoError(t, err)

	require.NoError(t, b.Start(context.Background()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("both messages were never dispatched")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "low"}, order)
}

func TestStartStopIdempotent(t *testing.T) {
	b, cleanup := newTestBroker(t, broker.Config{})
	defer cleanup()

	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	require.Equal(t, broker.StateStarted, b.State())

	require.NoError(t, b.Stop(context.Background()))
	require.NoError(t, b.Stop(context.Background()))
	require.Equal(t, broker.StateStopped, b.State())
}

func TestPublishRejectedWhileShuttingDown(t *testing.T) {
	b, cleanup := newTestBroker(t, broker.Config{})
	defer cleanup()

	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Stop(context.Background()))

	_, err := b.Publish(context.Background(), "self", "work", nil)
	require.Error(t, err)
	require.Equal(t, errors.CodeShuttingDown, errors.Code(err))
}
