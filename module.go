package gamekeeper

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ModuleDetails describes a playable game module.
type ModuleDetails struct {
	// MinUsers is the minimum number of users needed to play.
	MinUsers int

	// MaxUsers is the maximum number of users that can play.
	MaxUsers int

	// ThumbnailPath points at the module's thumbnail image.
	ThumbnailPath string
}

// ValidUserCount reports whether n users can play this module.
func (d ModuleDetails) ValidUserCount(n int) bool {
	return n >= d.MinUsers && n <= d.MaxUsers
}

// GameModule is the capability interface every game type implements.
// Modules are stateless from the registry's perspective; in-flight
// game state belongs in the game-data store.
type GameModule interface {
	// Details returns the module's static details.
	Details() ModuleDetails

	// StartGame is called once every participant has accepted and is
	// ready. The module should set up its game data and send the
	// opening notification.
	StartGame(ctx context.Context, sessionID string) error

	// Reply is called when a user responds to a game notification.
	Reply(ctx context.Context, sessionID, userID string) error
}

// ModuleFactory builds a game module instance on first use.
type ModuleFactory func() GameModule

type loadedModule struct {
	module   GameModule
	lastUsed time.Time
}

// ModuleRegistry holds the known game modules, instantiating them
// lazily and unloading the ones that sit idle.
type ModuleRegistry struct {
	mu        sync.Mutex
	factories map[string]ModuleFactory
	loaded    map[string]*loadedModule
	now       func() time.Time
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		factories: make(map[string]ModuleFactory),
		loaded:    make(map[string]*loadedModule),
		now:       time.Now,
	}
}

// Register makes a module available under name. Registering a name
// again replaces its factory and drops any loaded instance.
func (r *ModuleRegistry) Register(name string, factory ModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.loaded, name)
}

// Get returns the named module, instantiating it on first use.
func (r *ModuleRegistry) Get(name string) (GameModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lm, ok := r.loaded[name]; ok {
		lm.lastUsed = r.now()
		return lm.module, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, ErrModuleNotFound
	}

	lm := &loadedModule{module: factory(), lastUsed: r.now()}
	r.loaded[name] = lm
	return lm.module, nil
}

// Names returns all registered module names, sorted.
func (r *ModuleRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckUserCount reports whether the named module accepts n users.
func (r *ModuleRegistry) CheckUserCount(name string, n int) (bool, error) {
	module, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return module.Details().ValidUserCount(n), nil
}

// ClearIdle unloads module instances unused for longer than maxIdle
// and returns how many were unloaded. Their factories stay registered.
func (r *ModuleRegistry) ClearIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	cleared := 0
	for name, lm := range r.loaded {
		if lm.lastUsed.Before(cutoff) {
			delete(r.loaded, name)
			cleared++
		}
	}
	return cleared
}
