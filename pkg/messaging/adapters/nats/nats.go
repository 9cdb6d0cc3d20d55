// Package nats provides a messaging.Broker backed by NATS core pub/sub.
//
// It targets fan-out, fire-and-forget transports — the broker's
// per-target notification streams and its health broadcast stream —
// rather than durable, offset-tracked consumption. Subjects map
// directly to topic names; there is no consumer-group semantics since
// NATS core delivers to every active subscriber on a subject.
package nats

import (
	"context"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/messaging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Config configures the NATS adapter.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://localhost:4222".
	URL string `env:"NATS_URL" env-default:"nats://localhost:4222"`

	// Name identifies this connection to the server for diagnostics.
	Name string `env:"NATS_CONN_NAME" env-default:"pdfchat-broker"`
}

// Broker is a messaging.Broker implementation over a single NATS
// connection shared by all producers/consumers it creates.
type Broker struct {
	conn *nats.Conn
}

// New dials the configured NATS server.
func New(cfg Config) (*Broker, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Name))
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}
	return &Broker{conn: conn}, nil
}

func (b *Broker) Producer(subject string) (messaging.Producer, error) {
	return &producer{conn: b.conn, subject: subject}, nil
}

func (b *Broker) Consumer(subject string, _ string) (messaging.Consumer, error) {
	return &consumer{conn: b.conn, subject: subject}, nil
}

func (b *Broker) Close() error {
	b.conn.Close()
	return nil
}

func (b *Broker) Healthy(ctx context.Context) bool {
	return b.conn.Status() == nats.CONNECTED
}

type producer struct {
	conn    *nats.Conn
	subject string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	natsMsg := nats.NewMsg(p.subject)
	natsMsg.Data = msg.Payload
	natsMsg.Header.Set("message-id", msg.ID)
	for k, v := range msg.Headers {
		natsMsg.Header.Set(k, v)
	}

	if err := p.conn.PublishMsg(natsMsg); err != nil {
		return messaging.ErrPublishFailed(err)
	}
	return nil
}

func (p *producer) PublishBatch(ctx context.Context, msgs []*messaging.Message) error {
	for _, m := range msgs {
		if err := p.Publish(ctx, m); err != nil {
			return err
		}
	}
	return p.conn.Flush()
}

func (p *producer) Close() error { return nil }

type consumer struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
}

func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	sub, err := c.conn.Subscribe(c.subject, func(m *nats.Msg) {
		msg := &messaging.Message{
			ID:        m.Header.Get("message-id"),
			Topic:     c.subject,
			Payload:   m.Data,
			Timestamp: time.Now(),
		}
		_ = handler(ctx, msg)
	})
	if err != nil {
		return messaging.ErrConsumeFailed(err)
	}
	c.sub = sub

	<-ctx.Done()
	return ctx.Err()
}

func (c *consumer) Close() error {
	if c.sub != nil {
		return c.sub.Unsubscribe()
	}
	return nil
}
