package gamekeeper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/gamekeeper-go/gamekeeper/store"
)

// Config contains configuration options for GameKeeper.
type Config struct {
	// RedisAddr is the Redis server address used for the default
	// store backends.
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// RedisPassword is the Redis password (empty for no auth).
	RedisPassword string `env:"REDIS_PASSWORD"`

	// RedisDB is the Redis database number.
	RedisDB int `env:"REDIS_DB" envDefault:"0"`

	// KeyPrefix is prepended to every Redis key.
	// Default: "gamekeeper:".
	KeyPrefix string `env:"KEY_PREFIX"`

	// Primary marks this process as the one instance owning shared
	// singleton listeners. When several processes share a Redis, set
	// it to false on all but one of them so expiry callbacks fire
	// once. A pointer so that leaving it unset defaults to true.
	Primary *bool `env:"MAIN_INSTANCE"`

	// MaxActiveGames caps a user's concurrently played games.
	// Default: 6.
	MaxActiveGames int `env:"MAX_ACTIVE_GAMES"`

	// MaxQueuedGames caps a user's queued games. Default: 6.
	MaxQueuedGames int `env:"MAX_QUEUED_GAMES"`

	// TxRetries bounds the per-operation watch-transaction retry
	// loop. Default: 5.
	TxRetries int `env:"TX_RETRIES"`

	// ModuleIdleTimeout is how long a loaded game module may sit
	// unused before ClearIdleModules unloads it. Default: 15 minutes.
	ModuleIdleTimeout time.Duration `env:"MODULE_IDLE_TIMEOUT"`

	// Logger receives store diagnostics. Default: slog.Default().
	Logger *slog.Logger `env:"-"`

	// SessionStore overrides the default Redis-backed session store.
	SessionStore store.SessionStore `env:"-"`

	// UserStore overrides the default Redis-backed membership store.
	UserStore store.UserStore `env:"-"`

	// GameDataStore overrides the default Redis-backed game-data store.
	GameDataStore store.GameDataStore `env:"-"`

	// ConfirmMessageStore overrides the default Redis-backed
	// confirm-message store.
	ConfirmMessageStore store.ConfirmMessageStore `env:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	primary := true
	return Config{
		RedisAddr:         "localhost:6379",
		KeyPrefix:         "gamekeeper:",
		Primary:           &primary,
		MaxActiveGames:    6,
		MaxQueuedGames:    6,
		TxRetries:         store.DefaultTxRetries,
		ModuleIdleTimeout: 15 * time.Minute,
	}
}

// ConfigFromEnv builds a Config from environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("gamekeeper: failed to parse environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills in default values for zero-value fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.RedisAddr == "" {
		c.RedisAddr = defaults.RedisAddr
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaults.KeyPrefix
	}
	if c.Primary == nil {
		c.Primary = defaults.Primary
	}
	if c.MaxActiveGames <= 0 {
		c.MaxActiveGames = defaults.MaxActiveGames
	}
	if c.MaxQueuedGames <= 0 {
		c.MaxQueuedGames = defaults.MaxQueuedGames
	}
	if c.TxRetries <= 0 {
		c.TxRetries = defaults.TxRetries
	}
	if c.ModuleIdleTimeout <= 0 {
		c.ModuleIdleTimeout = defaults.ModuleIdleTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// storeOptions converts the Config into per-store options.
func (c *Config) storeOptions() store.Options {
	return store.Options{
		KeyPrefix:      c.KeyPrefix,
		MaxRetries:     c.TxRetries,
		MaxActiveGames: c.MaxActiveGames,
		MaxQueuedGames: c.MaxQueuedGames,
		Primary:        c.Primary != nil && *c.Primary,
		Logger:         c.Logger,
	}
}
