package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// expiryDispatcher listens to Redis key-expiration events and invokes
// registered callbacks with the session id embedded in each expiring
// shadow key.
//
// Only the primary process instance subscribes; on non-primary
// instances every method is a no-op so that multiple processes sharing
// one Redis never double-deliver expiry notifications. Keyspace
// notifications are enabled when the first callback is registered and
// disabled again when the last one is removed. The subscription
// goroutine is torn down and restarted whenever the callback set
// changes so it always reflects the current registrations.
type expiryDispatcher struct {
	client  *redis.Client
	primary bool
	logger  *slog.Logger

	// shadowPrefix is the key prefix identifying shadow keys; expiry
	// events for keys outside it are dropped.
	shadowPrefix string

	// channel is the keyevent pub/sub pattern for the client's DB.
	channel string

	mu        sync.Mutex
	callbacks map[string]ExpireCallback
	pubsub    *redis.PubSub
	done      chan struct{}

	// prevNotify holds the notify-keyspace-events value found before
	// the first registration, restored when the last callback goes.
	prevNotify string
}

// mergeNotifyFlags adds the keyevent ("E") and expired ("x") classes
// to an existing notify-keyspace-events value. "A" already covers the
// expired class.
func mergeNotifyFlags(current string) string {
	flags := current
	if !strings.ContainsRune(flags, 'E') {
		flags += "E"
	}
	if !strings.ContainsRune(flags, 'x') && !strings.ContainsRune(flags, 'A') {
		flags += "x"
	}
	return flags
}

func newExpiryDispatcher(client *redis.Client, keyPrefix string, primary bool, logger *slog.Logger) *expiryDispatcher {
	return &expiryDispatcher{
		client:       client,
		primary:      primary,
		logger:       logger,
		shadowPrefix: shadowKey(keyPrefix, ""),
		channel:      fmt.Sprintf("__keyevent@%d__:expired", client.Options().DB),
		callbacks:    make(map[string]ExpireCallback),
	}
}

// register adds a named callback and restarts the subscription.
// Registering a name twice is a no-op.
func (d *expiryDispatcher) register(name string, cb ExpireCallback) error {
	if !d.primary {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.callbacks[name]; ok {
		return nil
	}

	if len(d.callbacks) == 0 {
		// First listener: turn on expired-key events, keeping whatever
		// flags other consumers of this Redis already configured.
		ctx := context.Background()
		res, err := d.client.ConfigGet(ctx, "notify-keyspace-events").Result()
		if err != nil {
			return fmt.Errorf("store: failed to read keyspace notification flags: %w", err)
		}
		prev := res["notify-keyspace-events"]
		if err := d.client.ConfigSet(ctx, "notify-keyspace-events", mergeNotifyFlags(prev)).Err(); err != nil {
			return fmt.Errorf("store: failed to enable keyspace notifications: %w", err)
		}
		d.prevNotify = prev
	}

	d.callbacks[name] = cb
	d.restartLocked()
	return nil
}

// remove drops a named callback. When the last callback goes,
// the subscription stops and keyspace notifications are disabled.
func (d *expiryDispatcher) remove(name string) error {
	if !d.primary {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.callbacks[name]; !ok {
		return ErrCallbackNotFound
	}
	delete(d.callbacks, name)

	if len(d.callbacks) == 0 {
		d.stopLocked()
		if err := d.client.ConfigSet(context.Background(), "notify-keyspace-events", d.prevNotify).Err(); err != nil {
			return fmt.Errorf("store: failed to restore keyspace notification flags: %w", err)
		}
		return nil
	}

	d.restartLocked()
	return nil
}

func (d *expiryDispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// stopLocked cancels the listener goroutine and waits for it to exit.
// Caller must hold d.mu.
func (d *expiryDispatcher) stopLocked() {
	if d.pubsub == nil {
		return
	}
	d.pubsub.Close()
	<-d.done
	d.pubsub = nil
	d.done = nil
}

// restartLocked replaces any running subscription with a fresh one.
// Caller must hold d.mu.
func (d *expiryDispatcher) restartLocked() {
	d.stopLocked()

	pubsub := d.client.PSubscribe(context.Background(), d.channel)
	done := make(chan struct{})

	d.pubsub = pubsub
	d.done = done

	// The listener gets its own snapshot of the callback set: the
	// subscription is rebuilt on every registration change, so the
	// snapshot is always current and the goroutine never has to take
	// the dispatcher lock.
	callbacks := make([]ExpireCallback, 0, len(d.callbacks))
	for _, cb := range d.callbacks {
		callbacks = append(callbacks, cb)
	}

	go d.listen(pubsub, callbacks, done)
}

func (d *expiryDispatcher) listen(pubsub *redis.PubSub, callbacks []ExpireCallback, done chan<- struct{}) {
	defer close(done)

	for msg := range pubsub.Channel() {
		key := msg.Payload

		if !strings.HasPrefix(key, d.shadowPrefix) {
			// Some other key in this DB expired. Not ours.
			d.logger.Debug("ignoring expired key", "key", key)
			continue
		}
		sessionID := strings.TrimPrefix(key, d.shadowPrefix)

		for _, cb := range callbacks {
			// Detached from the subscription context: a restart of
			// the listener must not cancel an in-flight callback.
			go cb(context.Background(), sessionID)
		}
	}
}
