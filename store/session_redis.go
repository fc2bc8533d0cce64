package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// shadowSentinel is the payload of a shadow key. The value is never
// read; only the key's expiry matters.
const shadowSentinel = -1

// RedisSessionStore implements SessionStore on Redis JSON documents.
//
// Each session lives at <prefix>session:<id> with a companion shadow
// key <prefix>shadow:<id>. The shadow key is the only key with a TTL,
// so the session payload is still readable when its expiry event
// arrives.
type RedisSessionStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	dispatcher *expiryDispatcher
}

// NewRedisSessionStore creates a session store sharing the given client.
func NewRedisSessionStore(client *redis.Client, opts Options) *RedisSessionStore {
	opts.applyDefaults()
	return &RedisSessionStore{
		client:     client,
		prefix:     opts.KeyPrefix,
		maxRetries: opts.MaxRetries,
		dispatcher: newExpiryDispatcher(client, opts.KeyPrefix, opts.Primary, opts.Logger),
	}
}

// newSessionID returns a random opaque session id.
func newSessionID() string {
	return uuid.NewString()
}

// Create persists the session and its shadow key, returning the
// generated id. No conflict is possible; the key is fresh.
func (s *RedisSessionStore) Create(ctx context.Context, session *Session, ttl time.Duration) (string, error) {
	id := newSessionID()

	if err := s.client.JSONSet(ctx, sessionKey(s.prefix, id), "$", session).Err(); err != nil {
		return "", fmt.Errorf("redis: failed to write session: %w", err)
	}

	// Shadow key carries the TTL; a zero ttl means the session never
	// expires.
	if err := s.client.Set(ctx, shadowKey(s.prefix, id), shadowSentinel, ttl).Err(); err != nil {
		return "", fmt.Errorf("redis: failed to write shadow key: %w", err)
	}

	return id, nil
}

// Get returns the session stored under id.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.JSONGet(ctx, sessionKey(s.prefix, id), ".").Result()
	if err == redis.Nil || raw == "" {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("redis: failed to decode session: %w", err)
	}
	return &session, nil
}

// SetExpiry updates only the shadow key's TTL. A zero ttl makes the
// session persistent.
func (s *RedisSessionStore) SetExpiry(ctx context.Context, id string, ttl time.Duration) error {
	n, err := s.client.Exists(ctx, sessionKey(s.prefix, id)).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to check session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}

	if ttl > 0 {
		err = s.client.Expire(ctx, shadowKey(s.prefix, id), ttl).Err()
	} else {
		err = s.client.Persist(ctx, shadowKey(s.prefix, id)).Err()
	}
	if err != nil {
		return fmt.Errorf("redis: failed to update shadow key expiry: %w", err)
	}
	return nil
}

// SetState updates the session's state field in place.
func (s *RedisSessionStore) SetState(ctx context.Context, id string, state State) error {
	err := s.client.JSONSet(ctx, sessionKey(s.prefix, id), ".state", int(state)).Err()
	if err != nil {
		n, existsErr := s.client.Exists(ctx, sessionKey(s.prefix, id)).Result()
		if existsErr == nil && n == 0 {
			return ErrSessionNotFound
		}
		return fmt.Errorf("redis: failed to set session state: %w", err)
	}
	return nil
}

// UserAccepted transactionally removes userID from the pending list
// and returns the users still pending.
func (s *RedisSessionStore) UserAccepted(ctx context.Context, id, userID string) ([]string, error) {
	key := sessionKey(s.prefix, id)
	var remaining []string

	err := RunTx(ctx, s.client, key, s.maxRetries, ErrSessionNotFound, func(tx *redis.Tx) error {
		raw, err := tx.JSONGet(ctx, key, ".").Result()
		if err != nil {
			return fmt.Errorf("redis: failed to read session: %w", err)
		}
		var session Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return fmt.Errorf("redis: failed to decode session: %w", err)
		}

		idx := indexOf(session.PendingUsers, userID)
		if idx < 0 {
			return ErrUserNotFound
		}

		var getCmd *redis.JSONCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONArrPop(ctx, key, ".pending_users", idx)
			getCmd = pipe.JSONGet(ctx, key, ".pending_users")
			return nil
		})
		if err != nil {
			return err
		}

		rawPending, err := getCmd.Result()
		if err != nil {
			return fmt.Errorf("redis: failed to read pending users: %w", err)
		}
		remaining = remaining[:0]
		if err := json.Unmarshal([]byte(rawPending), &remaining); err != nil {
			return fmt.Errorf("redis: failed to decode pending users: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return remaining, nil
}

// Delete removes the session and its shadow key. Deleting a session
// that is already gone is a no-op, which keeps expiry callbacks
// idempotent.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(s.prefix, id), shadowKey(s.prefix, id)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete session: %w", err)
	}
	return nil
}

// OnExpire registers a named expiry callback with the dispatcher.
func (s *RedisSessionStore) OnExpire(name string, cb ExpireCallback) error {
	return s.dispatcher.register(name, cb)
}

// RemoveExpireCallback unregisters a named expiry callback.
func (s *RedisSessionStore) RemoveExpireCallback(name string) error {
	return s.dispatcher.remove(name)
}

// Close stops the expiry listener. The shared Redis client is owned by
// the caller and stays open.
func (s *RedisSessionStore) Close() error {
	s.dispatcher.close()
	return nil
}
