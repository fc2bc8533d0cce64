package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisGameDataStore implements GameDataStore on Redis JSON documents
// at <prefix>data:<id>.
//
// Game data is written by at most one module turn at a time by
// construction upstream, so no watch transaction is needed here.
type RedisGameDataStore struct {
	client *redis.Client
	prefix string
}

// NewRedisGameDataStore creates a game-data store sharing the given client.
func NewRedisGameDataStore(client *redis.Client, opts Options) *RedisGameDataStore {
	opts.applyDefaults()
	return &RedisGameDataStore{client: client, prefix: opts.KeyPrefix}
}

// Store replaces the session's game data with v.
func (s *RedisGameDataStore) Store(ctx context.Context, sessionID string, v any) error {
	if err := s.client.JSONSet(ctx, dataKey(s.prefix, sessionID), "$", v).Err(); err != nil {
		return fmt.Errorf("redis: failed to write game data: %w", err)
	}
	return nil
}

// Get returns the session's game data as raw JSON.
func (s *RedisGameDataStore) Get(ctx context.Context, sessionID string) (json.RawMessage, error) {
	raw, err := s.client.JSONGet(ctx, dataKey(s.prefix, sessionID), ".").Result()
	if err == redis.Nil || raw == "" {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read game data: %w", err)
	}
	return json.RawMessage(raw), nil
}

// Delete removes the session's game data. No-op when absent.
func (s *RedisGameDataStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, dataKey(s.prefix, sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete game data: %w", err)
	}
	return nil
}
