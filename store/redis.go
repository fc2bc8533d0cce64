package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains connection options for the Redis backends.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string

	// Password is the Redis password (empty for no auth)
	Password string

	// DB is the Redis database number (0-15)
	DB int
}

// Options configures the store backends. The Redis-backed stores
// share one client; the memory backends use only the bounds and the
// logger.
type Options struct {
	// KeyPrefix is prepended to every key (default: "gamekeeper:").
	// Typically ends with a colon.
	KeyPrefix string

	// MaxRetries bounds the watch-transaction retry loop.
	// Default: DefaultTxRetries.
	MaxRetries int

	// MaxActiveGames caps a user's concurrently played games.
	// Default: 6.
	MaxActiveGames int

	// MaxQueuedGames caps a user's queued games. Default: 6.
	MaxQueuedGames int

	// Primary marks this process as the one instance that owns shared
	// singleton listeners (expiry dispatch). Non-primary instances
	// register callbacks as no-ops.
	Primary bool

	// Logger receives dispatcher and best-effort-batch diagnostics.
	// Default: slog.Default().
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "gamekeeper:"
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultTxRetries
	}
	if o.MaxActiveGames <= 0 {
		o.MaxActiveGames = 6
	}
	if o.MaxQueuedGames <= 0 {
		o.MaxQueuedGames = 6
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}

	return client, nil
}

// Key layout: every record kind gets its own namespace under the
// configured prefix. The shadow key is the only key carrying a TTL.
func sessionKey(prefix, id string) string { return prefix + "session:" + id }
func shadowKey(prefix, id string) string  { return prefix + "shadow:" + id }
func userKey(prefix, id string) string    { return prefix + "user:" + id }
func dataKey(prefix, id string) string    { return prefix + "data:" + id }
func confirmKey(prefix, id string) string { return prefix + "confirm:" + id }
