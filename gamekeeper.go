// Package gamekeeper coordinates concurrent, multi-party mutation of
// shared game-session state. It keeps session records, per-user game
// membership, and module game data in Redis, making every mutation
// safe against interleaved writers through per-key optimistic
// transactions, and observes session expiry through TTL-bearing
// shadow keys.
package gamekeeper

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gamekeeper-go/gamekeeper/store"
)

// GameKeeper is the main entry point. It owns the store backends, the
// shared Redis client behind the default backends, and the game-module
// registry.
type GameKeeper struct {
	config   Config
	client   *redis.Client
	sessions store.SessionStore
	users    store.UserStore
	data     store.GameDataStore
	confirms store.ConfirmMessageStore
	modules  *ModuleRegistry
}

// New creates a new GameKeeper with the given configuration. Store
// backends not provided in the config default to Redis implementations
// sharing one client built from the config's Redis settings.
func New(cfg Config) (*GameKeeper, error) {
	cfg.applyDefaults()

	g := &GameKeeper{
		config:  cfg,
		modules: NewModuleRegistry(),
	}

	needClient := cfg.SessionStore == nil || cfg.UserStore == nil ||
		cfg.GameDataStore == nil || cfg.ConfirmMessageStore == nil
	if needClient {
		client, err := store.NewClient(store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("gamekeeper: failed to connect to Redis: %w", err)
		}
		g.client = client
	}

	opts := cfg.storeOptions()

	if cfg.SessionStore != nil {
		g.sessions = cfg.SessionStore
	} else {
		g.sessions = store.NewRedisSessionStore(g.client, opts)
	}

	if cfg.UserStore != nil {
		g.users = cfg.UserStore
	} else {
		g.users = store.NewRedisUserStore(g.client, opts)
	}

	if cfg.GameDataStore != nil {
		g.data = cfg.GameDataStore
	} else {
		g.data = store.NewRedisGameDataStore(g.client, opts)
	}

	if cfg.ConfirmMessageStore != nil {
		g.confirms = cfg.ConfirmMessageStore
	} else {
		g.confirms = store.NewRedisConfirmMessageStore(g.client, opts)
	}

	return g, nil
}

// Sessions returns the session store.
func (g *GameKeeper) Sessions() store.SessionStore {
	return g.sessions
}

// Users returns the membership store.
func (g *GameKeeper) Users() store.UserStore {
	return g.users
}

// GameData returns the game-data store.
func (g *GameKeeper) GameData() store.GameDataStore {
	return g.data
}

// ConfirmMessages returns the confirm-message store.
func (g *GameKeeper) ConfirmMessages() store.ConfirmMessageStore {
	return g.confirms
}

// Modules returns the game-module registry.
func (g *GameKeeper) Modules() *ModuleRegistry {
	return g.modules
}

// ClearIdleModules unloads game modules idle for longer than the
// configured timeout and returns how many were unloaded.
func (g *GameKeeper) ClearIdleModules() int {
	return g.modules.ClearIdle(g.config.ModuleIdleTimeout)
}

// Close releases all resources held by GameKeeper.
// Should be called when the application shuts down.
func (g *GameKeeper) Close() error {
	var errs []error

	if g.sessions != nil {
		if err := g.sessions.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if g.users != nil {
		if err := g.users.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if g.client != nil {
		if err := g.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("gamekeeper: errors during close: %v", errs)
	}
	return nil
}
