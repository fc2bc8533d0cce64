package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfirmMessageStore implements ConfirmMessageStore on Redis
// lists at <prefix>confirm:<id>. The list expires with the invite
// window it belongs to.
type RedisConfirmMessageStore struct {
	client *redis.Client
	prefix string
}

// NewRedisConfirmMessageStore creates a confirm-message store sharing
// the given client.
func NewRedisConfirmMessageStore(client *redis.Client, opts Options) *RedisConfirmMessageStore {
	opts.applyDefaults()
	return &RedisConfirmMessageStore{client: client, prefix: opts.KeyPrefix}
}

// SetMessages records the confirmation message ids for a session and
// sets the list to expire after ttl.
func (s *RedisConfirmMessageStore) SetMessages(ctx context.Context, sessionID string, messageIDs []string, ttl time.Duration) error {
	key := confirmKey(s.prefix, sessionID)

	pipe := s.client.Pipeline()
	for _, id := range messageIDs {
		pipe.RPush(ctx, key, id)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to store confirm messages: %w", err)
	}
	return nil
}

// GetMessages returns the recorded message ids in insertion order.
func (s *RedisConfirmMessageStore) GetMessages(ctx context.Context, sessionID string) ([]string, error) {
	ids, err := s.client.LRange(ctx, confirmKey(s.prefix, sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read confirm messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrSessionNotFound
	}
	return ids, nil
}

// DeleteMessages removes the recorded ids. No-op when absent.
func (s *RedisConfirmMessageStore) DeleteMessages(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, confirmKey(s.prefix, sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete confirm messages: %w", err)
	}
	return nil
}
