// Package session implements the Session Store (spec section 4.4): a
// per-conversation record of turns, bounded to a configured capacity
// and refreshed on a TTL, built directly on pkg/queue.Backend's hash
// and list primitives per spec section 6's key layout.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/queue"
)

// hashField names on the chat_session:{id} hash.
const (
	fieldCreatedAt    = "created_at"
	fieldLastActivity = "last_activity"
	fieldUserID       = "user_id"
	fieldMessageCount = "message_count"
	fieldStatus       = "status"
	fieldMetadata     = "metadata"
)

// sessionIndexKey is the list of every session id ever created, used
// to implement List without a native hash-scan primitive on Backend.
// Entries are never removed on Delete — a deleted id simply misses on
// the subsequent Get lookup List performs for each candidate.
const sessionIndexKey = "chat_session_index"

// ConversationEntry is one turn in a session's history (spec section 3).
type ConversationEntry struct {
	Timestamp         time.Time     `json:"timestamp"`
	UserMessage       string        `json:"user_message"`
	AssistantResponse string        `json:"assistant_response"`
	ContextUsed       int           `json:"context_used"`
	ProcessingTime    time.Duration `json:"processing_time"`
}

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
)

// Session is a chat session's metadata, independent of its turns (spec
// section 3).
type Session struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	MessageCount int               `json:"message_count"`
	Status       Status            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Config configures the Store's TTL and history bound.
type Config struct {
	TTL             time.Duration `env:"SESSION_TIMEOUT" env-default:"3600s"`
	ConversationCap int64         `env:"CONVERSATION_CAP" env-default:"100"`
}

// Store is the Session Store. Every mutation refreshes the session's
// TTL (spec section 4.4: "a session with no activity for ttl seconds
// expires"), and conversation history is trimmed to ConversationCap
// entries on every append rather than grown unbounded.
type Store struct {
	backend queue.Backend
	cfg     Config
}

// New constructs a Store backed by b.
func New(b queue.Backend, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.ConversationCap <= 0 {
		cfg.ConversationCap = 100
	}
	return &Store{backend: b, cfg: cfg}
}

func sessionKey(id string) string      { return "chat_session:" + id }
func conversationKey(id string) string { return "chat_conversation:" + id }

// Create starts a new session with id, returning its Session record.
// Create is idempotent: calling it again for an id that already has a
// live record returns that record unchanged (spec section 4.4).
func (s *Store) Create(ctx context.Context, id string, userID string, metadata map[string]string) (Session, error) {
	if existing, ok, err := s.Get(ctx, id); err != nil {
		return Session{}, err
	} else if ok {
		return existing, nil
	}

	now := time.Now()
	sess := Session{ID: id, UserID: userID, CreatedAt: now, LastActivity: now, MessageCount: 0, Status: StatusActive, Metadata: metadata}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return Session{}, apperrors.Wrap(err, "failed to marshal session metadata")
	}

	key := sessionKey(id)
	if err := s.backend.HashSet(ctx, key, fieldCreatedAt, []byte(now.Format(time.RFC3339Nano))); err != nil {
		return Session{}, err
	}
	if err := s.backend.HashSet(ctx, key, fieldLastActivity, []byte(now.Format(time.RFC3339Nano))); err != nil {
		return Session{}, err
	}
	if err := s.backend.HashSet(ctx, key, fieldUserID, []byte(userID)); err != nil {
		return Session{}, err
	}
	if err := s.backend.HashSet(ctx, key, fieldMessageCount, []byte("0")); err != nil {
		return Session{}, err
	}
	if err := s.backend.HashSet(ctx, key, fieldStatus, []byte(StatusActive)); err != nil {
		return Session{}, err
	}
	if err := s.backend.HashSet(ctx, key, fieldMetadata, meta); err != nil {
		return Session{}, err
	}
	if err := s.backend.Expire(ctx, key, s.cfg.TTL); err != nil {
		return Session{}, err
	}
	if err := s.backend.PushList(ctx, sessionIndexKey, []byte(id)); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Get returns id's session record, or false if it does not exist or
// has expired.
func (s *Store) Get(ctx context.Context, id string) (Session, bool, error) {
	key := sessionKey(id)
	fields, err := s.backend.HashGetAll(ctx, key)
	if err != nil {
		return Session{}, false, err
	}
	if len(fields) == 0 {
		return Session{}, false, nil
	}

	sess := Session{ID: id, Status: StatusActive}
	if v, ok := fields[fieldCreatedAt]; ok {
		sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, string(v))
	}
	if v, ok := fields[fieldLastActivity]; ok {
		sess.LastActivity, _ = time.Parse(time.RFC3339Nano, string(v))
	}
	if v, ok := fields[fieldUserID]; ok {
		sess.UserID = string(v)
	}
	if v, ok := fields[fieldMessageCount]; ok {
		fmt.Sscanf(string(v), "%d", &sess.MessageCount)
	}
	if v, ok := fields[fieldStatus]; ok {
		sess.Status = Status(v)
	}
	if v, ok := fields[fieldMetadata]; ok {
		_ = json.Unmarshal(v, &sess.Metadata)
	}
	return sess, true, nil
}

// Touch refreshes id's last_activity timestamp, increments its message
// count, and resets its TTL (spec section 4.4).
func (s *Store) Touch(ctx context.Context, id string) error {
	sess, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "session does not exist: "+id, nil)
	}

	key := sessionKey(id)
	now := time.Now()
	if err := s.backend.HashSet(ctx, key, fieldLastActivity, []byte(now.Format(time.RFC3339Nano))); err != nil {
		return err
	}
	if err := s.backend.HashSet(ctx, key, fieldMessageCount, []byte(fmt.Sprintf("%d", sess.MessageCount+1))); err != nil {
		return err
	}
	return s.backend.Expire(ctx, key, s.cfg.TTL)
}

// List returns every non-expired session, optionally filtered to a
// single userID (spec section 4.4). Sessions are scanned in creation
// order via sessionIndexKey.
func (s *Store) List(ctx context.Context, userID string) ([]Session, error) {
	ids, err := s.backend.ListRange(ctx, sessionIndexKey, 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(ids))
	for _, idb := range ids {
		id := string(idb)
		sess, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if userID != "" && sess.UserID != userID {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Append adds entry to id's conversation history, trims it to
// ConversationCap, and refreshes both the session and conversation
// TTLs. It fails if the session does not exist — callers must Create
// a session before appending to it.
func (s *Store) Append(ctx context.Context, id string, entry ConversationEntry) error {
	if _, ok, err := s.Get(ctx, id); err != nil {
		return err
	} else if !ok {
		return apperrors.New(apperrors.CodeNotFound, "session does not exist: "+id, nil)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal conversation entry")
	}

	convKey := conversationKey(id)
	if err := s.backend.PushList(ctx, convKey, data); err != nil {
		return err
	}
	if err := s.backend.TrimList(ctx, convKey, s.cfg.ConversationCap); err != nil {
		return err
	}
	if err := s.backend.Expire(ctx, convKey, s.cfg.TTL); err != nil {
		return err
	}

	return s.Touch(ctx, id)
}

// History returns id's conversation entries, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]ConversationEntry, error) {
	raw, err := s.backend.ListRange(ctx, conversationKey(id), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationEntry, 0, len(raw))
	for _, r := range raw {
		var e ConversationEntry
		if err := json.Unmarshal(r, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Delete removes id's session record. Its conversation history has no
// hash-delete equivalent in the Backend's list primitives, so it is
// left to expire via the TTL already set on it by Append; a deleted
// session's history is unreachable in practice since History is only
// ever called alongside a live session lookup.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.backend.HashDelete(ctx, sessionKey(id))
}
