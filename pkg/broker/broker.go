package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
	"github.com/chris-alexander-pop/docubroker/pkg/logger"
	"github.com/chris-alexander-pop/docubroker/pkg/messaging"
	"github.com/chris-alexander-pop/docubroker/pkg/queue"
	delayqueue "github.com/chris-alexander-pop/docubroker/pkg/datastructures/queue/delay"
	"github.com/google/uuid"
)

// State is a Broker's lifecycle state (spec section 4.1).
type State string

const (
	StateCreated  State = "created"
	StateStarted  State = "started"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// retryItem is what the backoff delay queue schedules: a message ready
// to be requeued onto its original priority queue.
type retryItem struct {
	message Message
}

// Broker is the system's central message-delivery component. One
// instance per service process, constructed explicitly — no global
// singleton (spec section 9's composition-root rule, applied here as
// elsewhere in this module).
type Broker struct {
	cfg      Config
	backend  queue.Backend
	notifier messaging.Broker
	health   *health.Registry

	mu       sync.RWMutex
	state    State
	handlers map[string]Handler

	backoff  *delayqueue.Queue[retryItem]
	wg       sync.WaitGroup
	stopCh   chan struct{}
	runCtx   context.Context
	runCancel context.CancelFunc

	deadLetterCount  int64
	healthErrorCount int64
}

// New constructs a Broker in the created state. backend is the KV/
// queue store (spec section 6); notifier carries the per-target
// notification and health-broadcast streams; reg is the Health &
// Circuit Registry this broker reports its own liveness to and
// consults before outbound calls.
func New(backend queue.Backend, notifier messaging.Broker, reg *health.Registry, cfg Config) *Broker {
	cfg.applyDefaults()
	return &Broker{
		cfg:      cfg,
		backend:  backend,
		notifier: notifier,
		health:   reg,
		state:    StateCreated,
		handlers: make(map[string]Handler),
		backoff:  delayqueue.New[retryItem](),
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler binds typ to handler. A second registration for the
// same type overwrites the first and logs the replacement (spec
// section 4.1).
func (b *Broker) RegisterHandler(typ string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[typ]; exists {
		logger.L().Warn("replacing existing handler", "type", typ, "broker", b.cfg.Name)
	}
	b.handlers[typ] = handler
}

// PublishOption customizes a Publish call.
type PublishOption func(*Message)

func WithPriority(p int) PublishOption {
	return func(m *Message) { m.Priority = p }
}

func WithCorrelationID(id string) PublishOption {
	return func(m *Message) { m.CorrelationID = id }
}

func WithMetadata(meta map[string]interface{}) PublishOption {
	return func(m *Message) { m.Metadata = meta }
}

func WithTTL(ttl time.Duration) PublishOption {
	return func(m *Message) { m.TTL = ttl }
}

func WithMaxAttempts(n int) PublishOption {
	return func(m *Message) { m.MaxAttempts = n }
}

// Publish places a new Message on the queue selected by its priority
// and copies it to target's notification stream. It fails only with
// BackendUnavailable while the backend circuit is open (spec section
// 4.1), or with ShuttingDown once stop() has begun.
func (b *Broker) Publish(ctx context.Context, target, typ string, payload map[string]interface{}, opts ...PublishOption) (string, error) {
	b.mu.RLock()
	state := b.state
	b.mu.RUnlock()
	if state == StateStopping || state == StateStopped {
		return "", apperrors.New(apperrors.CodeShuttingDown, "broker is shutting down", nil)
	}

	msg := Message{
		ID:          uuid.New().String(),
		Source:      b.cfg.Name,
		Target:      target,
		Type:        typ,
		Payload:     payload,
		Priority:    0,
		CreatedAt:   time.Now(),
		TTL:         b.cfg.DefaultTTL,
		MaxAttempts: b.cfg.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&msg)
	}

	if err := b.enqueue(ctx, &msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// enqueue pushes msg onto its priority queue and mirrors it to
// target's notification stream, routing the queue write through the
// backend circuit breaker.
func (b *Broker) enqueue(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal message")
	}

	err = b.health.Execute(ctx, "broker:backend", func(ctx context.Context) error {
		return b.backend.PushList(ctx, queueForPriority(msg.Priority), data)
	})
	if err != nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "failed to enqueue message", err)
	}

	if producer, perr := b.notifier.Producer(notificationStream(msg.Target)); perr == nil {
		_ = producer.Publish(ctx, &messaging.Message{ID: msg.ID, Topic: notificationStream(msg.Target), Payload: data})
	}
	return nil
}

// requeueAtTail and requeueAtHead re-insert msg onto its priority queue without touching the
// notification stream — used by the retry path and the shutdown
// head-of-queue path, neither of which is a fresh publish.
func (b *Broker) requeueAtTail(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal message")
	}
	return b.backend.PushList(ctx, queueForPriority(msg.Priority), data)
}

func (b *Broker) requeueAtHead(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal message")
	}
	return b.backend.PushListFront(ctx, queueForPriority(msg.Priority), data)
}

// deadLetter moves msg to the dead-letter queue with reason. It never
// returns an error to the caller: a failure here is logged and
// counted, not propagated, since dead-lettering happens on paths that
// must not themselves fail the dispatch loop.
func (b *Broker) deadLetter(ctx context.Context, msg Message, reason string) {
	rec := DeadLetterRecord{Message: msg, Reason: reason, At: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		logger.L().Error("failed to marshal dead-letter record", "error", err, "message_id", msg.ID)
		return
	}
	if err := b.backend.PushList(ctx, QueueDeadLetter, data); err != nil {
		logger.L().Error("failed to write dead-letter record", "error", err, "message_id", msg.ID)
		return
	}
	b.mu.Lock()
	b.deadLetterCount++
	b.mu.Unlock()
	logger.L().Warn("message dead-lettered", "message_id", msg.ID, "reason", reason, "attempt", msg.Attempt)
}

// ack publishes the automatic acknowledgement spec section 4.1
// requires whenever a handled Message carries a correlation_id.
func (b *Broker) ack(ctx context.Context, msg *Message) {
	if msg.CorrelationID == "" {
		return
	}
	_, err := b.Publish(ctx, msg.Source, "ack", map[string]interface{}{
		"status":     "success",
		"message_id": msg.ID,
	}, WithCorrelationID(msg.CorrelationID))
	if err != nil {
		logger.L().Error("failed to publish ack", "error", err, "message_id", msg.ID, "correlation_id", msg.CorrelationID)
	}
}

// GetServiceHealth and GetAllServiceHealth are read-only pass-throughs
// to the shared Health & Circuit Registry (spec section 4.1).
func (b *Broker) GetServiceHealth(ctx context.Context, name string) (health.ServiceHealth, bool, error) {
	return b.health.GetServiceHealth(ctx, name)
}

func (b *Broker) GetAllServiceHealth(ctx context.Context) (map[string]health.ServiceHealth, error) {
	return b.health.GetAllServiceHealth(ctx)
}

// GetQueueStats returns each mandatory queue's current length.
func (b *Broker) GetQueueStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 4)
	for _, q := range []string{QueueHigh, QueueNormal, QueueLow, QueueDeadLetter} {
		n, err := b.backend.ListLen(ctx, q)
		if err != nil {
			return nil, err
		}
		stats[q] = n
	}
	return stats, nil
}

// Name returns this broker's own service identity.
func (b *Broker) Name() string {
	return b.cfg.Name
}

// State returns the broker's current lifecycle state.
func (b *Broker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// DeadLetterCount returns the number of messages dead-lettered since
// this Broker was constructed.
func (b *Broker) DeadLetterCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deadLetterCount
}
