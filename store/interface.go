package store

import (
	"context"
	"encoding/json"
	"time"
)

// ExpireCallback is invoked with the id of a session whose expiry was
// observed. The session may already be gone by the time the callback
// runs, and delivery is at-least-once, so callbacks must be idempotent.
type ExpireCallback func(ctx context.Context, sessionID string)

// SessionStore defines the storage backend for game sessions.
// Implementations must be safe for concurrent use from any number of
// callers; mutating operations may block on I/O and may internally
// retry on write conflicts.
type SessionStore interface {
	// Create generates a fresh session id, persists the session and
	// its expiring shadow key, and returns the id. A ttl of zero
	// creates a session that never expires.
	Create(ctx context.Context, session *Session, ttl time.Duration) (string, error)

	// Get returns the session, or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// SetExpiry updates the shadow key's TTL without touching the
	// session payload. A ttl of zero makes the session persistent.
	// Returns ErrSessionNotFound if the session does not exist.
	SetExpiry(ctx context.Context, id string, ttl time.Duration) error

	// SetState updates the session's state field.
	// Returns ErrSessionNotFound if the session does not exist.
	SetState(ctx context.Context, id string, state State) error

	// UserAccepted removes userID from the session's pending users and
	// returns the remaining pending list. Returns ErrUserNotFound if
	// the user is not pending, ErrSessionNotFound if the session is
	// gone, or ErrConcurrencyExhausted under sustained write conflict.
	UserAccepted(ctx context.Context, id, userID string) ([]string, error)

	// Delete removes the session and its shadow key. No-op if absent.
	Delete(ctx context.Context, id string) error

	// OnExpire registers a named callback fired when a session's
	// shadow key lapses. Registering an already-registered name is a
	// no-op.
	OnExpire(name string, cb ExpireCallback) error

	// RemoveExpireCallback unregisters a callback by name.
	// Returns ErrCallbackNotFound for unknown names.
	RemoveExpireCallback(name string) error

	// Close releases any resources held by the store.
	Close() error
}

// UserStore defines the storage backend for per-user game membership.
// Implementations must be safe for concurrent use.
type UserStore interface {
	// Get returns the user's record, or (nil, nil) when the user has
	// no record.
	Get(ctx context.Context, userID string) (*User, error)

	// JoinGame adds sessionID to the user's games: active if there is
	// room, queued otherwise. Creates the record on first join.
	// Returns false, mutating nothing, when both lists are full.
	// Joining a game already held is a no-op success.
	JoinGame(ctx context.Context, userID, sessionID string) (bool, error)

	// CheckAllReady reports whether sessionID is in every listed
	// user's active games. Returns ErrUserNotFound if any user has no
	// record.
	CheckAllReady(ctx context.Context, userIDs []string, sessionID string) (bool, error)

	// RemoveGame removes sessionID from every listed user,
	// best-effort: users without a record or without the game are
	// logged and skipped. It returns the set of session ids promoted
	// from queued to active across all users, and the users whose
	// notification entry for sessionID was removed.
	RemoveGame(ctx context.Context, userIDs []string, sessionID string) (map[string]struct{}, []string, error)

	// AddNotification records that sessionID awaits the user's reply.
	// Duplicate adds are no-ops. Returns ErrUserNotFound if the user
	// has no record.
	AddNotification(ctx context.Context, userID, sessionID string) error

	// RemoveNotification removes the notification entry and reports
	// whether one existed. Returns ErrUserNotFound if the user has no
	// record.
	RemoveNotification(ctx context.Context, userID, sessionID string) (bool, error)

	// SetNotificationMessageID stores the handle of the latest
	// notification prompt sent to the user.
	SetNotificationMessageID(ctx context.Context, userID, messageID string) error

	// ClearNotificationMessageID clears the stored handle.
	ClearNotificationMessageID(ctx context.Context, userID string) error

	// Close releases any resources held by the store.
	Close() error
}

// GameDataStore holds the opaque in-flight state a game module keeps
// for a running session.
type GameDataStore interface {
	// Store persists v as the session's game data, replacing any
	// previous value.
	Store(ctx context.Context, sessionID string, v any) error

	// Get returns the stored game data, or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (json.RawMessage, error)

	// Delete removes the session's game data. No-op if absent.
	Delete(ctx context.Context, sessionID string) error
}

// ConfirmMessageStore tracks the invite-confirmation message ids sent
// for a session. Entries share the invite window's TTL.
type ConfirmMessageStore interface {
	// SetMessages records the confirmation message ids for a session,
	// expiring after ttl.
	SetMessages(ctx context.Context, sessionID string, messageIDs []string, ttl time.Duration) error

	// GetMessages returns the recorded ids, or ErrSessionNotFound.
	GetMessages(ctx context.Context, sessionID string) ([]string, error)

	// DeleteMessages removes the recorded ids. No-op if absent.
	DeleteMessages(ctx context.Context, sessionID string) error
}
