// Package redis implements queue.Backend over Redis: RPUSH/BLPOP for
// queues, HSET/HGETALL for hashes, EXPIRE for TTL, and PUBLISH/
// SUBSCRIBE for broadcast channels — the production backend for the
// §6 KV/queue-store contract.
package redis

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/queue"
	goredis "github.com/redis/go-redis/v9"
)

// Config configures the Redis-backed queue.Backend.
type Config struct {
	Host     string `env:"QUEUE_REDIS_HOST" env-default:"localhost"`
	Port     string `env:"QUEUE_REDIS_PORT" env-default:"6379"`
	Password string `env:"QUEUE_REDIS_PASSWORD"`
	DB       int    `env:"QUEUE_REDIS_DB" env-default:"0"`
}

// Backend is a Redis-backed queue.Backend.
type Backend struct {
	client *goredis.Client
}

// New dials Redis and verifies connectivity.
func New(cfg Config) (*Backend, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, apperrors.New(apperrors.CodeBackendUnavailable, "failed to connect to redis queue backend", err)
	}

	return &Backend{client: client}, nil
}

func (b *Backend) PushList(ctx context.Context, key string, value []byte) error {
	if err := b.client.RPush(ctx, key, value).Err(); err != nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "rpush failed", err)
	}
	return nil
}

func (b *Backend) PushListFront(ctx context.Context, key string, value []byte) error {
	if err := b.client.LPush(ctx, key, value).Err(); err != nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "lpush failed", err)
	}
	return nil
}

// PopList blocks on BLPOP for up to timeout. Redis requires whole
// seconds for BLPOP's timeout argument and treats 0 as "block forever",
// so sub-second timeouts are rounded up to 1s rather than silently
// becoming non-blocking.
func (b *Backend) PopList(ctx context.Context, key string, timeout time.Duration) ([]byte, bool, error) {
	wait := timeout
	if wait > 0 && wait < time.Second {
		wait = time.Second
	}

	res, err := b.client.BLPop(ctx, wait, key).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, apperrors.New(apperrors.CodeBackendUnavailable, "blpop failed", err)
	}
	if len(res) < 2 {
		return nil, false, nil
	}
	return []byte(res[1]), true, nil
}

func (b *Backend) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := b.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, apperrors.New(apperrors.CodeBackendUnavailable, "llen failed", err)
	}
	return n, nil
}

func (b *Backend) TrimList(ctx context.Context, key string, maxLen int64) error {
	if err := b.client.LTrim(ctx, key, -maxLen, -1).Err(); err != nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "ltrim failed", err)
	}
	return nil
}

func (b *Backend) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := b.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, apperrors.New(apperrors.CodeBackendUnavailable, "lrange failed", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (b *Backend) HashSet(ctx context.Context, key, field string, value []byte) error {
	if err := b.client.HSet(ctx, key, field, value).Err(); err != nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "hset failed", err)
	}
	return nil
}

func (b *Backend) HashGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	v, err := b.client.HGet(ctx, key, field).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.New(apperrors.CodeBackendUnavailable, "hget failed", err)
	}
	return v, true, nil
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, apperrors.New(apperrors.CodeBackendUnavailable, "hgetall failed", err)
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out, nil
}

func (b *Backend) HashDelete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "del failed", err)
	}
	return nil
}

func (b *Backend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return b.client.Persist(ctx, key).Err()
	}
	if err := b.client.Expire(ctx, key, ttl).Err(); err != nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "expire failed", err)
	}
	return nil
}

func (b *Backend) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return apperrors.New(apperrors.CodeBackendUnavailable, "publish failed", err)
	}
	return nil
}

func (b *Backend) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, apperrors.New(apperrors.CodeBackendUnavailable, "subscribe failed", err)
	}

	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

var _ queue.Backend = (*Backend)(nil)
