package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/health"
	"github.com/chris-alexander-pop/docubroker/pkg/logger"
	"github.com/chris-alexander-pop/docubroker/pkg/messaging"
)

// healthBroadcast is the payload shape published on the dedicated
// health stream, naming the reporting service alongside its snapshot.
type healthBroadcast struct {
	Service string              `json:"service"`
	Health  health.ServiceHealth `json:"health"`
}

func marshalHealth(service string, h health.ServiceHealth) ([]byte, error) {
	return json.Marshal(healthBroadcast{Service: service, Health: h})
}

// healthLoop pings the backend every HealthInterval, records this
// broker's own liveness in the Health & Circuit Registry, and
// broadcasts the update on the dedicated health stream (spec section
// 4.1).
func (b *Broker) healthLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	b.reportHealth(context.Background())

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.reportHealth(context.Background())
		}
	}
}

func (b *Broker) reportHealth(ctx context.Context) {
	start := time.Now()
	err := b.health.Execute(ctx, "broker:backend", func(ctx context.Context) error {
		_, err := b.backend.ListLen(ctx, QueueHigh)
		return err
	})
	elapsed := time.Since(start)

	status := health.StatusHealthy
	if err != nil {
		status = health.StatusUnhealthy
	} else if elapsed > time.Second {
		status = health.StatusDegraded
	}

	b.mu.Lock()
	if err != nil {
		b.healthErrorCount++
	}
	errCount := b.healthErrorCount
	handlerCount := len(b.handlers)
	b.mu.Unlock()

	report := health.ServiceHealth{
		Status:         status,
		LastHeartbeat:  time.Now(),
		ResponseTimeMS: elapsed.Milliseconds(),
		ErrorCount:     errCount,
		HandlerCount:   handlerCount,
		PendingRetries: b.backoff.Len(),
	}

	if err := b.health.PutServiceHealth(ctx, b.cfg.Name, report); err != nil {
		logger.L().Error("failed to write broker health", "error", err)
		return
	}

	if producer, perr := b.notifier.Producer(QueueHealth); perr == nil {
		payload, merr := marshalHealth(b.cfg.Name, report)
		if merr == nil {
			_ = producer.Publish(ctx, &messaging.Message{ID: b.cfg.Name, Topic: QueueHealth, Payload: payload})
		}
	}
}
