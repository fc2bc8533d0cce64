package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MemorySessionStore implements SessionStore using an in-memory map.
// Expiry is simulated with timers feeding the same callback contract
// as the Redis shadow keys. Useful for testing, not for production:
// nothing is shared across processes.
type MemorySessionStore struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	timers    map[string]*time.Timer
	callbacks map[string]ExpireCallback
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions:  make(map[string]*Session),
		timers:    make(map[string]*time.Timer),
		callbacks: make(map[string]ExpireCallback),
	}
}

// Create stores a copy of the session and schedules its expiry.
func (s *MemorySessionStore) Create(_ context.Context, session *Session, ttl time.Duration) (string, error) {
	id := newSessionID()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = copySession(session)
	if ttl > 0 {
		s.timers[id] = time.AfterFunc(ttl, func() { s.expire(id) })
	}
	return id, nil
}

// expire mimics a shadow key lapsing: callbacks fire but the session
// payload stays readable until something deletes it.
func (s *MemorySessionStore) expire(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	callbacks := make([]ExpireCallback, 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		callbacks = append(callbacks, cb)
	}
	s.mu.Unlock()

	for _, cb := range callbacks {
		go cb(context.Background(), id)
	}
}

// Get returns a copy of the stored session.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(session), nil
}

// SetExpiry reschedules (or, with a zero ttl, cancels) the session's
// expiry timer.
func (s *MemorySessionStore) SetExpiry(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if ttl > 0 {
		s.timers[id] = time.AfterFunc(ttl, func() { s.expire(id) })
	}
	return nil
}

// SetState updates the session's state.
func (s *MemorySessionStore) SetState(_ context.Context, id string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.State = state
	return nil
}

// UserAccepted removes userID from the pending list and returns the
// remaining pending users.
func (s *MemorySessionStore) UserAccepted(_ context.Context, id, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	idx := indexOf(session.PendingUsers, userID)
	if idx < 0 {
		return nil, ErrUserNotFound
	}
	session.PendingUsers = append(session.PendingUsers[:idx], session.PendingUsers[idx+1:]...)

	return append([]string(nil), session.PendingUsers...), nil
}

// Delete removes the session and cancels its timer. No-op if absent.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	delete(s.sessions, id)
	return nil
}

// OnExpire registers a named expiry callback. Duplicate names are
// no-ops.
func (s *MemorySessionStore) OnExpire(name string, cb ExpireCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.callbacks[name]; ok {
		return nil
	}
	s.callbacks[name] = cb
	return nil
}

// RemoveExpireCallback unregisters a callback by name.
func (s *MemorySessionStore) RemoveExpireCallback(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.callbacks[name]; !ok {
		return ErrCallbackNotFound
	}
	delete(s.callbacks, name)
	return nil
}

// Close cancels all pending expiry timers.
func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	return nil
}

func copySession(session *Session) *Session {
	out := &Session{
		State:        session.State,
		ModuleName:   session.ModuleName,
		StartingUser: session.StartingUser,
		AllUsers:     append([]string(nil), session.AllUsers...),
		PendingUsers: append([]string(nil), session.PendingUsers...),
		Usernames:    make(map[string]string, len(session.Usernames)),
	}
	for id, name := range session.Usernames {
		out.Usernames[id] = name
	}
	return out
}

// MemoryUserStore implements UserStore using an in-memory map,
// mirroring the Redis store's semantics including record deletion and
// FIFO promotion.
type MemoryUserStore struct {
	mu        sync.Mutex
	users     map[string]*User
	maxActive int
	maxQueued int
	logger    *slog.Logger
}

// NewMemoryUserStore creates a new in-memory membership store.
func NewMemoryUserStore(opts Options) *MemoryUserStore {
	opts.applyDefaults()
	return &MemoryUserStore{
		users:     make(map[string]*User),
		maxActive: opts.MaxActiveGames,
		maxQueued: opts.MaxQueuedGames,
		logger:    opts.Logger,
	}
}

// Get returns a copy of the user's record, or (nil, nil) when absent.
func (s *MemoryUserStore) Get(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return copyUser(user), nil
}

// JoinGame adds sessionID to the user's games, creating the record on
// first join. Returns false when both lists are full.
func (s *MemoryUserStore) JoinGame(_ context.Context, userID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		s.users[userID] = &User{
			ActiveGames:   []string{sessionID},
			QueuedGames:   []string{},
			Notifications: []string{},
		}
		return true, nil
	}

	if contains(user.ActiveGames, sessionID) || contains(user.QueuedGames, sessionID) {
		return true, nil
	}

	switch {
	case len(user.ActiveGames) < s.maxActive:
		user.ActiveGames = append(user.ActiveGames, sessionID)
	case len(user.QueuedGames) < s.maxQueued:
		user.QueuedGames = append(user.QueuedGames, sessionID)
	default:
		return false, nil
	}
	return true, nil
}

// CheckAllReady reports whether every listed user holds sessionID in
// their active games.
func (s *MemoryUserStore) CheckAllReady(_ context.Context, userIDs []string, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, userID := range userIDs {
		user, ok := s.users[userID]
		if !ok {
			return false, fmt.Errorf("checking user %s: %w", userID, ErrUserNotFound)
		}
		if !contains(user.ActiveGames, sessionID) {
			return false, nil
		}
	}
	return true, nil
}

// RemoveGame clears sessionID from every listed user, best-effort.
func (s *MemoryUserStore) RemoveGame(_ context.Context, userIDs []string, sessionID string) (map[string]struct{}, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promoted := make(map[string]struct{})
	var notified []string

	for _, userID := range userIDs {
		user, ok := s.users[userID]
		if !ok {
			s.logger.Warn("skipping user while clearing game",
				"user_id", userID, "session_id", sessionID, "error", ErrUserNotFound)
			continue
		}

		var idx int
		if idx = indexOf(user.ActiveGames, sessionID); idx >= 0 {
			user.ActiveGames = append(user.ActiveGames[:idx], user.ActiveGames[idx+1:]...)
		} else if idx = indexOf(user.QueuedGames, sessionID); idx >= 0 {
			user.QueuedGames = append(user.QueuedGames[:idx], user.QueuedGames[idx+1:]...)
		} else {
			s.logger.Warn("skipping user while clearing game",
				"user_id", userID, "session_id", sessionID, "error", ErrGameNotFound)
			continue
		}

		if nIdx := indexOf(user.Notifications, sessionID); nIdx >= 0 {
			user.Notifications = append(user.Notifications[:nIdx], user.Notifications[nIdx+1:]...)
			notified = append(notified, userID)
		}

		if user.TotalGames() == 0 {
			delete(s.users, userID)
			continue
		}

		for len(user.ActiveGames) < s.maxActive && len(user.QueuedGames) > 0 {
			id := user.QueuedGames[0]
			user.QueuedGames = user.QueuedGames[1:]
			user.ActiveGames = append(user.ActiveGames, id)
			promoted[id] = struct{}{}
		}
	}

	return promoted, notified, nil
}

// AddNotification records sessionID as awaiting the user's reply.
func (s *MemoryUserStore) AddNotification(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if !contains(user.Notifications, sessionID) {
		user.Notifications = append(user.Notifications, sessionID)
	}
	return nil
}

// RemoveNotification removes the notification entry and reports
// whether one existed.
func (s *MemoryUserStore) RemoveNotification(_ context.Context, userID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}

	idx := indexOf(user.Notifications, sessionID)
	if idx < 0 {
		return false, nil
	}
	user.Notifications = append(user.Notifications[:idx], user.Notifications[idx+1:]...)
	return true, nil
}

// SetNotificationMessageID stores the latest notification prompt handle.
func (s *MemoryUserStore) SetNotificationMessageID(_ context.Context, userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.NotificationMessageID = messageID
	return nil
}

// ClearNotificationMessageID clears the stored prompt handle.
func (s *MemoryUserStore) ClearNotificationMessageID(ctx context.Context, userID string) error {
	return s.SetNotificationMessageID(ctx, userID, "")
}

// Close is a no-op for the memory store.
func (s *MemoryUserStore) Close() error {
	return nil
}

// MemoryGameDataStore implements GameDataStore using an in-memory map.
type MemoryGameDataStore struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

// NewMemoryGameDataStore creates a new in-memory game-data store.
func NewMemoryGameDataStore() *MemoryGameDataStore {
	return &MemoryGameDataStore{data: make(map[string]json.RawMessage)}
}

// Store replaces the session's game data with v.
func (s *MemoryGameDataStore) Store(_ context.Context, sessionID string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("memory: failed to encode game data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = raw
	return nil
}

// Get returns the session's game data as raw JSON.
func (s *MemoryGameDataStore) Get(_ context.Context, sessionID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append(json.RawMessage(nil), raw...), nil
}

// Delete removes the session's game data. No-op when absent.
func (s *MemoryGameDataStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// MemoryConfirmMessageStore implements ConfirmMessageStore using an
// in-memory map with timer-driven expiry.
type MemoryConfirmMessageStore struct {
	mu       sync.Mutex
	messages map[string][]string
	timers   map[string]*time.Timer
}

// NewMemoryConfirmMessageStore creates a new in-memory confirm-message
// store.
func NewMemoryConfirmMessageStore() *MemoryConfirmMessageStore {
	return &MemoryConfirmMessageStore{
		messages: make(map[string][]string),
		timers:   make(map[string]*time.Timer),
	}
}

// SetMessages records the confirmation message ids, expiring after ttl.
func (s *MemoryConfirmMessageStore) SetMessages(_ context.Context, sessionID string, messageIDs []string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[sessionID] = append(s.messages[sessionID], messageIDs...)
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
	}
	if ttl > 0 {
		s.timers[sessionID] = time.AfterFunc(ttl, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.messages, sessionID)
			delete(s.timers, sessionID)
		})
	}
	return nil
}

// GetMessages returns the recorded ids in insertion order.
func (s *MemoryConfirmMessageStore) GetMessages(_ context.Context, sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.messages[sessionID]
	if !ok || len(ids) == 0 {
		return nil, ErrSessionNotFound
	}
	return append([]string(nil), ids...), nil
}

// DeleteMessages removes the recorded ids. No-op when absent.
func (s *MemoryConfirmMessageStore) DeleteMessages(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
	delete(s.messages, sessionID)
	return nil
}

func copyUser(user *User) *User {
	return &User{
		ActiveGames:           append([]string(nil), user.ActiveGames...),
		QueuedGames:           append([]string(nil), user.QueuedGames...),
		Notifications:         append([]string(nil), user.Notifications...),
		NotificationMessageID: user.NotificationMessageID,
	}
}
