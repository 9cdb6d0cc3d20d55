package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/queue/adapters/memory"
	"github.com/chris-alexander-pop/docubroker/pkg/session"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, cfg session.Config) (*session.Store, func()) {
	t.Helper()
	b := memory.New()
	return session.New(b, cfg), func() { _ = b.Close() }
}

func TestCreateAndGet(t *testing.T) {
	store, closeFn := newStore(t, session.Config{TTL: time.Minute, ConversationCap: 10})
	defer closeFn()
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "u1", map[string]string{"locale": "en"})
	require.NoError(t, err)

	got, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", got.ID)
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, session.StatusActive, got.Status)
	require.Equal(t, "en", got.Metadata["locale"])
}

func TestCreateIsIdempotent(t *testing.T) {
	store, closeFn := newStore(t, session.Config{TTL: time.Minute, ConversationCap: 10})
	defer closeFn()
	ctx := context.Background()

	first, err := store.Create(ctx, "s1", "u1", nil)
	require.NoError(t, err)

	require.NoError(t, store.Touch(ctx, "s1"))

	second, err := store.Create(ctx, "s1", "u1", nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	got, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, got.MessageCount, "re-Create must not reset state touched in between")
}

func TestAppendRequiresExistingSession(t *testing.T) {
	store, closeFn := newStore(t, session.Config{TTL: time.Minute, ConversationCap: 10})
	defer closeFn()
	ctx := context.Background()

	err := store.Append(ctx, "missing", session.ConversationEntry{UserMessage: "hi"})
	require.Error(t, err)
}

func TestAppendTrimsToCapAndIncrementsMessageCount(t *testing.T) {
	store, closeFn := newStore(t, session.Config{TTL: time.Minute, ConversationCap: 3})
	defer closeFn()
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "s1", session.ConversationEntry{
			UserMessage:       string(rune('a' + i)),
			AssistantResponse: "ok",
			ContextUsed:       i,
		}))
	}

	hist, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, "c", hist[0].UserMessage)
	require.Equal(t, "e", hist[2].UserMessage)

	got, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, got.MessageCount)
}

func TestGetMissingSession(t *testing.T) {
	store, closeFn := newStore(t, session.Config{TTL: time.Minute, ConversationCap: 10})
	defer closeFn()

	_, ok, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionExpiresAfterTimeout(t *testing.T) {
	store, closeFn := newStore(t, session.Config{TTL: 20 * time.Millisecond, ConversationCap: 10})
	defer closeFn()
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "", nil)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListFiltersByUser(t *testing.T) {
	store, closeFn := newStore(t, session.Config{TTL: time.Minute, ConversationCap: 10})
	defer closeFn()
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "alice", nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, "s2", "bob", nil)
	require.NoError(t, err)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	alices, err := store.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alices, 1)
	require.Equal(t, "s1", alices[0].ID)
}

func TestDeleteRemovesSession(t *testing.T) {
	store, closeFn := newStore(t, session.Config{TTL: time.Minute, ConversationCap: 10})
	defer closeFn()
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "", nil)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "s1"))

	_, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}
