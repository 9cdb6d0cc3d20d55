// Package memory implements queue.Backend entirely in process memory.
// It is intended for tests and single-process deployments; nothing
// survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/queue"
)

// Backend is an in-memory queue.Backend.
type Backend struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	hashes  map[string]map[string][]byte
	expires map[string]time.Time
	waiters map[string][]chan struct{}

	subMu sync.Mutex
	subs  map[string][]chan []byte

	closed bool
}

// New constructs an empty in-memory backend.
func New() *Backend {
	return &Backend{
		lists:   make(map[string][][]byte),
		hashes:  make(map[string]map[string][]byte),
		expires: make(map[string]time.Time),
		waiters: make(map[string][]chan struct{}),
		subs:    make(map[string][]chan []byte),
	}
}

func (b *Backend) expired(key string) bool {
	t, ok := b.expires[key]
	return ok && time.Now().After(t)
}

func (b *Backend) wake(key string) {
	for _, ch := range b.waiters[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *Backend) PushList(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	b.lists[key] = append(b.lists[key], value)
	b.wake(key)
	b.mu.Unlock()
	return nil
}

func (b *Backend) PushListFront(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	b.lists[key] = append([][]byte{value}, b.lists[key]...)
	b.wake(key)
	b.mu.Unlock()
	return nil
}

func (b *Backend) PopList(ctx context.Context, key string, timeout time.Duration) ([]byte, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		if b.expired(key) {
			delete(b.lists, key)
			delete(b.expires, key)
		}
		items := b.lists[key]
		if len(items) > 0 {
			v := items[0]
			b.lists[key] = items[1:]
			b.mu.Unlock()
			return v, true, nil
		}
		ch := make(chan struct{}, 1)
		b.waiters[key] = append(b.waiters[key], ch)
		b.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.removeWaiter(key, ch)
			return nil, false, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			b.removeWaiter(key, ch)
		case <-timer.C:
			b.removeWaiter(key, ch)
			return nil, false, nil
		case <-ctx.Done():
			timer.Stop()
			b.removeWaiter(key, ch)
			return nil, false, ctx.Err()
		}
	}
}

func (b *Backend) removeWaiter(key string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := b.waiters[key]
	for i, w := range ws {
		if w == ch {
			b.waiters[key] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

func (b *Backend) ListLen(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.lists[key])), nil
}

func (b *Backend) TrimList(ctx context.Context, key string, maxLen int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.lists[key]
	if int64(len(items)) > maxLen {
		b.lists[key] = items[int64(len(items))-maxLen:]
	}
	return nil
}

func (b *Backend) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.lists[key]
	n := int64(len(items))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, items[i])
	}
	return out, nil
}

func (b *Backend) HashSet(ctx context.Context, key, field string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		b.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (b *Backend) HashGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		delete(b.hashes, key)
		delete(b.expires, key)
		return nil, false, nil
	}
	h, ok := b.hashes[key]
	if !ok {
		return nil, false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		delete(b.hashes, key)
		delete(b.expires, key)
		return nil, nil
	}
	h := b.hashes[key]
	out := make(map[string][]byte, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) HashDelete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.hashes, key)
	delete(b.expires, key)
	return nil
}

func (b *Backend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ttl <= 0 {
		delete(b.expires, key)
		return nil
	}
	b.expires[key] = time.Now().Add(ttl)
	return nil
}

func (b *Backend) Publish(ctx context.Context, channel string, payload []byte) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *Backend) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	ch := make(chan []byte, 32)
	b.subMu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.subMu.Unlock()

	cancel := func() error {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		return nil
	}
	return ch, cancel, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

var _ queue.Backend = (*Backend)(nil)
