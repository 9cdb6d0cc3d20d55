// Package health implements the Health & Circuit Registry (spec
// section 4.5): a read-mostly table of per-service liveness reports,
// and a per-dependency circuit breaker table built directly on
// pkg/resilience.CircuitBreaker.
package health

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/queue"
	"github.com/chris-alexander-pop/docubroker/pkg/resilience"
)

// HashKey is the Backend hash key service health records live under,
// per spec section 6's "service:health" key.
const HashKey = "service:health"

// Status is a service's coarse liveness classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ServiceHealth is one service's liveness snapshot.
type ServiceHealth struct {
	Status         Status    `json:"status"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	ErrorCount     int64     `json:"error_count"`
	HandlerCount   int       `json:"handler_count"`

	// PendingRetries is the number of messages currently sleeping out a
	// backoff in the Broker's delay queue (spec section 4.1), reported
	// by services that run a Broker. Zero for services that don't.
	PendingRetries int `json:"pending_retries,omitempty"`
}

// Registry is the process's view of the Health & Circuit Registry. A
// Registry is safe for concurrent use; each service owns exactly one,
// constructed explicitly (spec section 9 — no global singletons).
type Registry struct {
	backend        queue.Backend
	healthInterval time.Duration

	mu        sync.Mutex
	circuits  map[string]*resilience.CircuitBreaker
	cbConfig  resilience.CircuitBreakerConfig
}

// Config configures a Registry's circuit breaker defaults, per spec
// section 6: failure_threshold and recovery_timeout.
type Config struct {
	FailureThreshold int64         `env:"HEALTH_FAILURE_THRESHOLD" env-default:"5"`
	RecoveryTimeout  time.Duration `env:"HEALTH_RECOVERY_TIMEOUT" env-default:"60s"`
	HealthInterval   time.Duration `env:"HEALTH_INTERVAL" env-default:"30s"`
}

// New constructs a Registry backed by b.
func New(b queue.Backend, cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	cbConfig := resilience.DefaultCircuitBreakerConfig("")
	cbConfig.FailureThreshold = cfg.FailureThreshold
	cbConfig.Timeout = cfg.RecoveryTimeout

	return &Registry{
		backend:        b,
		healthInterval: cfg.HealthInterval,
		circuits:       make(map[string]*resilience.CircuitBreaker),
		cbConfig:       cbConfig,
	}
}

// PutServiceHealth writes name's health record. Only the owning service
// should call this for its own name (single-writer-per-row, spec
// section 5).
func (r *Registry) PutServiceHealth(ctx context.Context, name string, h ServiceHealth) error {
	data, err := json.Marshal(h)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal service health")
	}
	return r.backend.HashSet(ctx, HashKey, name, data)
}

// GetServiceHealth returns name's last-reported health, or false if no
// service by that name has ever reported.
func (r *Registry) GetServiceHealth(ctx context.Context, name string) (ServiceHealth, bool, error) {
	data, ok, err := r.backend.HashGet(ctx, HashKey, name)
	if err != nil {
		return ServiceHealth{}, false, err
	}
	if !ok {
		return ServiceHealth{}, false, nil
	}
	var h ServiceHealth
	if err := json.Unmarshal(data, &h); err != nil {
		return ServiceHealth{}, false, apperrors.Wrap(err, "failed to unmarshal service health")
	}
	return h, true, nil
}

// GetAllServiceHealth returns every service's last-reported health.
func (r *Registry) GetAllServiceHealth(ctx context.Context) (map[string]ServiceHealth, error) {
	raw, err := r.backend.HashGetAll(ctx, HashKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ServiceHealth, len(raw))
	for name, data := range raw {
		var h ServiceHealth
		if err := json.Unmarshal(data, &h); err != nil {
			continue
		}
		out[name] = h
	}
	return out, nil
}

// IsStale reports whether h is older than 2x the configured health
// interval, per spec section 4.5.
func (r *Registry) IsStale(h ServiceHealth) bool {
	return time.Since(h.LastHeartbeat) > 2*r.healthInterval
}

// Circuit returns the named dependency's breaker, creating it with the
// registry's configured defaults on first use.
func (r *Registry) Circuit(name string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.circuits[name]
	if !ok {
		cfg := r.cbConfig
		cfg.Name = name
		cb = resilience.NewCircuitBreaker(cfg)
		r.circuits[name] = cb
	}
	return cb
}

// Execute runs fn through the named dependency's circuit breaker.
func (r *Registry) Execute(ctx context.Context, dependency string, fn resilience.Executor) error {
	return r.Circuit(dependency).Execute(ctx, fn)
}
