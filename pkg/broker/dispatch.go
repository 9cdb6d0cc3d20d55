package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/logger"
	"github.com/chris-alexander-pop/docubroker/pkg/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pkg/broker")

// Start transitions the broker from created (or stopped) to started,
// launching the worker pool, the backoff scheduler, and the health
// loop. Start is idempotent: calling it again while already started
// is a no-op.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateStarted {
		b.mu.Unlock()
		return nil
	}
	b.state = StateStarted
	b.stopCh = make(chan struct{})
	b.runCtx, b.runCancel = context.WithCancel(context.Background())
	b.mu.Unlock()

	for i := 0; i < b.cfg.WorkerPoolSize; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	b.wg.Add(1)
	go b.backoffLoop()

	b.wg.Add(1)
	go b.healthLoop()

	logger.L().Info("broker started", "name", b.cfg.Name, "workers", b.cfg.WorkerPoolSize)
	return nil
}

// Stop transitions the broker through stopping to stopped, rejecting
// new publishes immediately and giving in-flight dispatches up to
// ShutdownGrace to finish before abandoning them (spec section 4.1).
// Stop is idempotent.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateStopped || b.state == StateStopping {
		b.mu.Unlock()
		return nil
	}
	b.state = StateStopping
	close(b.stopCh)
	b.runCancel()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.cfg.ShutdownGrace):
		logger.L().Warn("broker shutdown grace period elapsed, abandoning in-flight workers", "name", b.cfg.Name)
	}

	b.mu.Lock()
	b.state = StateStopped
	b.mu.Unlock()
	logger.L().Info("broker stopped", "name", b.cfg.Name)
	return nil
}

// worker cooperatively polls the three live queues in strict-priority
// order with a short blocking pop at each tier, per spec section 4.1.
func (b *Broker) worker(id int) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		msg, ok := b.pollOnce()
		if !ok {
			continue
		}
		b.handleOne(msg)
	}
}

// pollOnce checks high, then normal, then low, each with a bounded
// pop, so that a message ready on a higher-priority queue is always
// seen before a worker blocks on a lower one.
func (b *Broker) pollOnce() (*Message, bool) {
	tierTimeout := b.cfg.PopTimeout / 10
	if tierTimeout <= 0 {
		tierTimeout = 10 * time.Millisecond
	}

	for _, q := range [3]string{QueueHigh, QueueNormal, QueueLow} {
		timeout := tierTimeout
		if q == QueueLow {
			// Spend the remaining budget blocking on the lowest tier so
			// the pool doesn't busy-loop when every queue is empty.
			timeout = b.cfg.PopTimeout - 2*tierTimeout
			if timeout <= 0 {
				timeout = tierTimeout
			}
		}

		data, ok, err := b.backend.PopList(context.Background(), q, timeout)
		if err != nil {
			logger.L().Error("queue pop failed", "queue", q, "error", err)
			continue
		}
		if !ok {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.L().Error("failed to unmarshal message, dropping", "queue", q, "error", err)
			continue
		}
		return &msg, true
	}
	return nil, false
}

// handleOne applies the three dequeue-time checks, dispatches to the
// registered handler, and routes the outcome to ack/retry/dead-letter.
func (b *Broker) handleOne(msg *Message) {
	ctx := context.Background()

	if msg.Target != b.cfg.Name {
		b.deadLetter(ctx, *msg, ReasonNotForUs)
		return
	}
	if msg.expired(time.Now()) {
		b.deadLetter(ctx, *msg, ReasonExpired)
		return
	}

	b.mu.RLock()
	handler, registered := b.handlers[msg.Type]
	b.mu.RUnlock()
	if !registered {
		logger.L().Warn("no handler registered for message type", "type", msg.Type, "message_id", msg.ID)
		b.deadLetter(ctx, *msg, "no_handler")
		return
	}

	result := b.runHandler(handler, msg)

	switch {
	case result.shutdownCancelled:
		// Cancellation during stop(): the Message stays at the head of
		// its queue for the next start (spec section 5), no attempt
		// increment.
		if err := b.requeueAtHead(context.Background(), msg); err != nil {
			logger.L().Error("failed to requeue message across shutdown", "error", err, "message_id", msg.ID)
		}
	case result.err == nil:
		b.ack(ctx, msg)
	default:
		b.retry(ctx, msg, result.err)
	}
}

type handlerResult struct {
	err               error
	shutdownCancelled bool
}

// runHandler invokes handler with a bounded timeout, recovering from
// panics and treating them as failed attempts (spec: "handler
// exception or timeout"). If the broker's shutdown signal fires while
// the handler is still running, the handler gets up to ShutdownGrace to
// return: a result that arrives in that window is used as usual, and
// only when the grace period elapses first is the outcome a
// shutdown cancellation.
func (b *Broker) runHandler(handler Handler, msg *Message) (result handlerResult) {
	spanCtx, span := tracer.Start(context.Background(), "broker.dispatch",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
			attribute.Int("message.attempt", msg.Attempt),
		),
	)
	defer func() {
		if result.err != nil {
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.err.Error())
		}
		span.End()
	}()

	hctx, cancel := context.WithTimeout(spanCtx, b.cfg.HandlerTimeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- apperrors.New(apperrors.CodeHandlerPanic, fmt.Sprintf("handler panicked: %v", r), nil)
				return
			}
		}()
		resultCh <- handler(hctx, msg)
	}()

	select {
	case err := <-resultCh:
		if err == nil && hctx.Err() != nil {
			return handlerResult{err: apperrors.New(apperrors.CodeUpstreamFailure, "handler timed out", hctx.Err())}
		}
		return handlerResult{err: err}
	case <-hctx.Done():
		select {
		case err := <-resultCh:
			if err == nil {
				err = apperrors.New(apperrors.CodeUpstreamFailure, "handler timed out", hctx.Err())
			}
			return handlerResult{err: err}
		case <-time.After(b.cfg.ShutdownGrace):
			return handlerResult{err: apperrors.New(apperrors.CodeUpstreamFailure, "handler timed out", hctx.Err())}
		}
	case <-b.stopCh:
		select {
		case err := <-resultCh:
			return handlerResult{err: err}
		case <-time.After(b.cfg.ShutdownGrace):
			return handlerResult{shutdownCancelled: true}
		}
	}
}

// retry applies the backoff-and-requeue or dead-letter decision on a
// failed dispatch (spec section 4.1's retry policy).
func (b *Broker) retry(ctx context.Context, msg *Message, handlerErr error) {
	msg.Attempt++
	if msg.Attempt > msg.MaxAttempts {
		b.deadLetter(ctx, *msg, ReasonMaxAttemptsExceeded)
		return
	}

	delay := resilience.ExponentialBackoff(msg.Attempt, b.cfg.BackoffBase, b.cfg.BackoffCap, 0)
	logger.L().Info("scheduling retry", "message_id", msg.ID, "attempt", msg.Attempt, "delay", delay, "error", handlerErr)
	b.backoff.Enqueue(retryItem{message: *msg}, delay)
}

// backoffLoop drains the delay queue and requeues ready messages onto
// their original priority queue. It runs on its own goroutine so
// backoff sleeps never block the worker pool (spec section 4.1).
func (b *Broker) backoffLoop() {
	defer b.wg.Done()

	for {
		item, err := b.backoff.DequeueContext(b.runCtx)
		if err != nil {
			return
		}
		if err := b.requeueAtTail(context.Background(), &item.message); err != nil {
			logger.L().Error("failed to requeue message after backoff", "error", err, "message_id", item.message.ID)
		}
	}
}
