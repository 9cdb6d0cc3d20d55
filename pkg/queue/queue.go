// Package queue defines the KV/queue-store contract the Broker, the
// Session Store, and the Ingestion Orchestrator all use for durable
// state: atomic list push/pop-with-timeout (for priority queues),
// hash get/set (for session and job records), TTL on keys, list
// trimming (for bounded conversation history), and publish/subscribe
// on named channels (for the broker's notification and health-
// broadcast streams).
//
// Backend implementations must treat each row as single-writer: the
// owning component is the only one that mutates a given key, and all
// queue manipulation goes through the atomic list operations below —
// never read-modify-write.
package queue

import (
	"context"
	"time"
)

// Backend is the storage contract described in spec section 6.
type Backend interface {
	// PushList appends value to the end of the list at key (RPUSH semantics).
	PushList(ctx context.Context, key string, value []byte) error

	// PopList blocks for up to timeout waiting for an item at the head of
	// the list at key (BLPOP semantics). ok is false on timeout.
	PopList(ctx context.Context, key string, timeout time.Duration) (value []byte, ok bool, err error)

	// PushListFront re-inserts value at the head of the list at key. Used
	// to put a message back at the head of its queue across a shutdown
	// (spec section 5: cancellation during stop()).
	PushListFront(ctx context.Context, key string, value []byte) error

	// ListLen returns the number of items currently queued at key.
	ListLen(ctx context.Context, key string) (int64, error)

	// TrimList keeps only the most recent maxLen items at the tail of the
	// list at key, discarding the rest.
	TrimList(ctx context.Context, key string, maxLen int64) error

	// ListRange returns items in the list at key, start..stop inclusive
	// (negative indices count from the tail, matching Redis LRANGE).
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// HashSet sets field on the hash at key to value.
	HashSet(ctx context.Context, key, field string, value []byte) error

	// HashGet returns the value of field on the hash at key. ok is false
	// if the key or field does not exist.
	HashGet(ctx context.Context, key, field string) (value []byte, ok bool, err error)

	// HashGetAll returns every field/value pair on the hash at key.
	HashGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// HashDelete removes key entirely.
	HashDelete(ctx context.Context, key string) error

	// Expire sets a TTL on key. A ttl of zero clears any existing TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Publish sends payload to every active Subscribe call on channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of payloads published to channel. The
	// returned function must be called to release resources.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)

	// Close releases the backend's connections.
	Close() error
}
