package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisUserStore implements UserStore on Redis JSON documents, one per
// user at <prefix>user:<id>.
type RedisUserStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	maxActive  int
	maxQueued  int
	logger     *slog.Logger
}

// NewRedisUserStore creates a membership store sharing the given client.
func NewRedisUserStore(client *redis.Client, opts Options) *RedisUserStore {
	opts.applyDefaults()
	return &RedisUserStore{
		client:     client,
		prefix:     opts.KeyPrefix,
		maxRetries: opts.MaxRetries,
		maxActive:  opts.MaxActiveGames,
		maxQueued:  opts.MaxQueuedGames,
		logger:     opts.Logger,
	}
}

// Get returns the user's record, or (nil, nil) when no record exists.
func (s *RedisUserStore) Get(ctx context.Context, userID string) (*User, error) {
	raw, err := s.client.JSONGet(ctx, userKey(s.prefix, userID), ".").Result()
	if err == redis.Nil || raw == "" {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read user: %w", err)
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("redis: failed to decode user: %w", err)
	}
	return &user, nil
}

// JoinGame adds sessionID to the user's games, creating the record on
// first join. Returns false without mutating anything when the user
// has no room left in either list.
func (s *RedisUserStore) JoinGame(ctx context.Context, userID, sessionID string) (bool, error) {
	key := userKey(s.prefix, userID)

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to check user: %w", err)
	}

	if n == 0 {
		// First game for this user: the record is created with the
		// session active. NX guards against a concurrent first join
		// clobbering the record; on a lost race we fall through to
		// the existing-user path.
		fresh := User{
			ActiveGames:   []string{sessionID},
			QueuedGames:   []string{},
			Notifications: []string{},
		}
		err := s.client.JSONSetMode(ctx, key, "$", fresh, "NX").Err()
		if err == nil {
			return true, nil
		}
		if err != redis.Nil {
			return false, fmt.Errorf("redis: failed to create user: %w", err)
		}
	}

	return s.joinExisting(ctx, userID, sessionID)
}

func (s *RedisUserStore) joinExisting(ctx context.Context, userID, sessionID string) (bool, error) {
	key := userKey(s.prefix, userID)
	joined := true

	err := RunTx(ctx, s.client, key, s.maxRetries, ErrUserNotFound, func(tx *redis.Tx) error {
		user, err := readUser(ctx, tx, key)
		if err != nil {
			return err
		}

		if contains(user.ActiveGames, sessionID) || contains(user.QueuedGames, sessionID) {
			joined = true
			return nil
		}

		var path string
		switch {
		case len(user.ActiveGames) < s.maxActive:
			path = ".active_games"
		case len(user.QueuedGames) < s.maxQueued:
			path = ".queued_games"
		default:
			// Full on both lists. Nothing is written.
			joined = false
			return nil
		}

		joined = true
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// go-redis passes string values to JSON commands as-is, so
			// they must already be encoded.
			pipe.JSONArrAppend(ctx, key, path, strconv.Quote(sessionID))
			return nil
		})
		return err
	})
	if err != nil {
		return false, err
	}
	return joined, nil
}

// CheckAllReady reports whether every listed user has sessionID among
// their active games.
func (s *RedisUserStore) CheckAllReady(ctx context.Context, userIDs []string, sessionID string) (bool, error) {
	for _, userID := range userIDs {
		user, err := s.Get(ctx, userID)
		if err != nil {
			return false, err
		}
		if user == nil {
			return false, fmt.Errorf("checking user %s: %w", userID, ErrUserNotFound)
		}
		if !contains(user.ActiveGames, sessionID) {
			return false, nil
		}
	}
	return true, nil
}

// RemoveGame clears sessionID from every listed user, best-effort.
// Each user's update commits independently: a user whose record or
// game entry is already gone is logged and skipped so the rest of the
// batch still makes progress. Any other error aborts the batch.
func (s *RedisUserStore) RemoveGame(ctx context.Context, userIDs []string, sessionID string) (map[string]struct{}, []string, error) {
	promoted := make(map[string]struct{})
	var notified []string

	for _, userID := range userIDs {
		moved, notifRemoved, err := s.removeGame(ctx, userID, sessionID)
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrGameNotFound) {
			s.logger.Warn("skipping user while clearing game",
				"user_id", userID, "session_id", sessionID, "error", err)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		for _, id := range moved {
			promoted[id] = struct{}{}
		}
		if notifRemoved {
			notified = append(notified, userID)
		}
	}

	return promoted, notified, nil
}

// removeGame removes sessionID from one user, deleting the record when
// it held their last game and otherwise promoting queued games into
// the freed active capacity.
func (s *RedisUserStore) removeGame(ctx context.Context, userID, sessionID string) ([]string, bool, error) {
	key := userKey(s.prefix, userID)

	var (
		deleted      bool
		notifRemoved bool
	)

	err := RunTx(ctx, s.client, key, s.maxRetries, ErrUserNotFound, func(tx *redis.Tx) error {
		user, err := readUser(ctx, tx, key)
		if err != nil {
			return err
		}

		var path string
		var idx int
		switch {
		case indexOf(user.ActiveGames, sessionID) >= 0:
			path, idx = ".active_games", indexOf(user.ActiveGames, sessionID)
		case indexOf(user.QueuedGames, sessionID) >= 0:
			path, idx = ".queued_games", indexOf(user.QueuedGames, sessionID)
		default:
			return fmt.Errorf("session %s for user %s: %w", sessionID, userID, ErrGameNotFound)
		}

		notifIdx := indexOf(user.Notifications, sessionID)
		notifRemoved = notifIdx >= 0
		deleted = user.TotalGames() == 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONArrPop(ctx, key, path, idx)
			if notifIdx >= 0 {
				pipe.JSONArrPop(ctx, key, ".notifications", notifIdx)
			}
			if deleted {
				// Last game: the whole record goes away.
				pipe.Del(ctx, key)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}

	var moved []string
	if !deleted {
		moved, err = s.promote(ctx, userID)
		if err != nil {
			return nil, false, err
		}
	}
	return moved, notifRemoved, nil
}

// promote moves queued games into active capacity, strictly FIFO,
// until the active list is full or the queue is empty. Returns the
// promoted session ids in order.
func (s *RedisUserStore) promote(ctx context.Context, userID string) ([]string, error) {
	key := userKey(s.prefix, userID)
	var moved []string

	err := RunTx(ctx, s.client, key, s.maxRetries, ErrUserNotFound, func(tx *redis.Tx) error {
		user, err := readUser(ctx, tx, key)
		if err != nil {
			return err
		}

		room := s.maxActive - len(user.ActiveGames)
		if room > len(user.QueuedGames) {
			room = len(user.QueuedGames)
		}
		if room <= 0 {
			moved = nil
			return nil
		}

		moved = append([]string(nil), user.QueuedGames[:room]...)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range moved {
				pipe.JSONArrPop(ctx, key, ".queued_games", 0)
				pipe.JSONArrAppend(ctx, key, ".active_games", strconv.Quote(id))
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// AddNotification records sessionID as awaiting the user's reply.
// Adding a notification that already exists is a no-op.
func (s *RedisUserStore) AddNotification(ctx context.Context, userID, sessionID string) error {
	key := userKey(s.prefix, userID)

	return RunTx(ctx, s.client, key, s.maxRetries, ErrUserNotFound, func(tx *redis.Tx) error {
		user, err := readUser(ctx, tx, key)
		if err != nil {
			return err
		}
		if contains(user.Notifications, sessionID) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONArrAppend(ctx, key, ".notifications", strconv.Quote(sessionID))
			return nil
		})
		return err
	})
}

// RemoveNotification removes the notification entry for sessionID and
// reports whether one existed.
func (s *RedisUserStore) RemoveNotification(ctx context.Context, userID, sessionID string) (bool, error) {
	key := userKey(s.prefix, userID)
	removed := false

	err := RunTx(ctx, s.client, key, s.maxRetries, ErrUserNotFound, func(tx *redis.Tx) error {
		user, err := readUser(ctx, tx, key)
		if err != nil {
			return err
		}

		idx := indexOf(user.Notifications, sessionID)
		if idx < 0 {
			removed = false
			return nil
		}
		removed = true

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONArrPop(ctx, key, ".notifications", idx)
			return nil
		})
		return err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// SetNotificationMessageID stores the latest notification prompt handle.
func (s *RedisUserStore) SetNotificationMessageID(ctx context.Context, userID, messageID string) error {
	return s.setMessageID(ctx, userID, messageID)
}

// ClearNotificationMessageID clears the stored prompt handle.
func (s *RedisUserStore) ClearNotificationMessageID(ctx context.Context, userID string) error {
	return s.setMessageID(ctx, userID, "")
}

func (s *RedisUserStore) setMessageID(ctx context.Context, userID, messageID string) error {
	key := userKey(s.prefix, userID)

	return RunTx(ctx, s.client, key, s.maxRetries, ErrUserNotFound, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONSet(ctx, key, ".notification_message_id", strconv.Quote(messageID))
			return nil
		})
		return err
	})
}

// Close releases nothing; the shared client is owned by the caller.
func (s *RedisUserStore) Close() error {
	return nil
}

// readUser fetches and decodes the user document inside a transaction.
func readUser(ctx context.Context, tx *redis.Tx, key string) (*User, error) {
	raw, err := tx.JSONGet(ctx, key, ".").Result()
	if err == redis.Nil || raw == "" {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read user: %w", err)
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("redis: failed to decode user: %w", err)
	}
	return &user, nil
}
