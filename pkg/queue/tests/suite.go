// Package tests provides a conformance suite every queue.Backend
// implementation must pass, mirroring the teacher's
// pkg/messaging/tests.RunBrokerTests pattern.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/queue"
	"github.com/stretchr/testify/require"
)

// RunBackendTests exercises the full queue.Backend contract against b.
func RunBackendTests(t *testing.T, b queue.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("list fifo", func(t *testing.T) {
		key := "test:list:fifo"
		require.NoError(t, b.PushList(ctx, key, []byte("a")))
		require.NoError(t, b.PushList(ctx, key, []byte("b")))

		v, ok, err := b.PopList(ctx, key, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "a", string(v))

		v, ok, err = b.PopList(ctx, key, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "b", string(v))
	})

	t.Run("pop timeout", func(t *testing.T) {
		key := "test:list:empty"
		start := time.Now()
		_, ok, err := b.PopList(ctx, key, 50*time.Millisecond)
		require.NoError(t, err)
		require.False(t, ok)
		require.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("push front", func(t *testing.T) {
		key := "test:list:front"
		require.NoError(t, b.PushList(ctx, key, []byte("second")))
		require.NoError(t, b.PushListFront(ctx, key, []byte("first")))

		v, ok, err := b.PopList(ctx, key, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "first", string(v))
	})

	t.Run("blocking pop wakes on push", func(t *testing.T) {
		key := "test:list:wake"
		done := make(chan []byte, 1)
		go func() {
			v, ok, _ := b.PopList(context.Background(), key, 5*time.Second)
			if ok {
				done <- v
			} else {
				done <- nil
			}
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, b.PushList(ctx, key, []byte("woke")))

		select {
		case v := <-done:
			require.Equal(t, "woke", string(v))
		case <-time.After(2 * time.Second):
			t.Fatal("blocking pop did not wake on push")
		}
	})

	t.Run("trim list", func(t *testing.T) {
		key := "test:list:trim"
		for i := 0; i < 5; i++ {
			require.NoError(t, b.PushList(ctx, key, []byte{byte('0' + i)}))
		}
		require.NoError(t, b.TrimList(ctx, key, 3))
		n, err := b.ListLen(ctx, key)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)

		items, err := b.ListRange(ctx, key, 0, -1)
		require.NoError(t, err)
		require.Equal(t, []string{"2", "3", "4"}, bytesToStrings(items))
	})

	t.Run("hash roundtrip", func(t *testing.T) {
		key := "test:hash"
		require.NoError(t, b.HashSet(ctx, key, "a", []byte("1")))
		require.NoError(t, b.HashSet(ctx, key, "b", []byte("2")))

		v, ok, err := b.HashGet(ctx, key, "a")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "1", string(v))

		all, err := b.HashGetAll(ctx, key)
		require.NoError(t, err)
		require.Equal(t, "1", string(all["a"]))
		require.Equal(t, "2", string(all["b"]))

		require.NoError(t, b.HashDelete(ctx, key))
		_, ok, err = b.HashGet(ctx, key, "a")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("expire", func(t *testing.T) {
		key := "test:hash:ttl"
		require.NoError(t, b.HashSet(ctx, key, "f", []byte("v")))
		require.NoError(t, b.Expire(ctx, key, 50*time.Millisecond))

		time.Sleep(150 * time.Millisecond)
		_, ok, err := b.HashGet(ctx, key, "f")
		require.NoError(t, err)
		require.False(t, ok, "key should have expired")
	})

	t.Run("pub sub", func(t *testing.T) {
		channel := "test:channel"
		ch, cancel, err := b.Subscribe(ctx, channel)
		require.NoError(t, err)
		defer cancel()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, b.Publish(ctx, channel, []byte("hello")))

		select {
		case msg := <-ch:
			require.Equal(t, "hello", string(msg))
		case <-time.After(2 * time.Second):
			t.Fatal("did not receive published message")
		}
	})
}

func bytesToStrings(in [][]byte) []string {
	out := make([]string, len(in))
	for i, b := range in {
		out[i] = string(b)
	}
	return out
}
