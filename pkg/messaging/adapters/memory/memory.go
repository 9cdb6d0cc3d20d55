// Package memory provides an in-process Broker backed by buffered Go
// channels. It is useful for tests and for single-process deployments
// that don't need a real transport between services.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/messaging"
	"github.com/google/uuid"
)

// Config configures the in-memory broker.
type Config struct {
	// BufferSize is the channel buffer depth for each topic.
	BufferSize int
}

// Broker is an in-process messaging.Broker implementation.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

type topic struct {
	mu   sync.Mutex
	subs []chan *messaging.Message
}

// New constructs an in-memory broker.
func New(cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &Broker{cfg: cfg, topics: make(map[string]*topic)}
}

func (b *Broker) topicFor(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) Producer(name string) (messaging.Producer, error) {
	return &producer{broker: b, topic: name}, nil
}

func (b *Broker) Consumer(name string, group string) (messaging.Consumer, error) {
	t := b.topicFor(name)
	ch := make(chan *messaging.Message, b.cfg.BufferSize)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return &consumer{broker: b, topic: t, ch: ch}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		t.mu.Lock()
		for _, ch := range t.subs {
			close(ch)
		}
		t.subs = nil
		t.mu.Unlock()
	}
	return nil
}

func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

type producer struct {
	broker *Broker
	topic  string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	if p.broker.Healthy(ctx) == false {
		return messaging.ErrClosed(nil)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	t := p.broker.topicFor(p.topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber: drop rather than block the publisher, matching
			// the fan-out, at-most-once-per-dispatch contract of a notification
			// stream (durable delivery belongs to pkg/queue, not this transport).
		}
	}
	return nil
}

func (p *producer) PublishBatch(ctx context.Context, msgs []*messaging.Message) error {
	for _, m := range msgs {
		if err := p.Publish(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	broker *Broker
	topic  *topic
	ch     chan *messaging.Message
}

func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, msg)
		}
	}
}

func (c *consumer) Close() error {
	c.topic.mu.Lock()
	defer c.topic.mu.Unlock()
	for i, ch := range c.topic.subs {
		if ch == c.ch {
			c.topic.subs = append(c.topic.subs[:i], c.topic.subs[i+1:]...)
			break
		}
	}
	return nil
}
