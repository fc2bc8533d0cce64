package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func testSession() *Session {
	return &Session{
		State:        StatePending,
		ModuleName:   "tic-tac-toe",
		StartingUser: "u1",
		AllUsers:     []string{"u1", "u2", "u3"},
		PendingUsers: []string{"u2", "u3"},
		Usernames:    map[string]string{"u1": "Alice", "u2": "Bob", "u3": "Carol"},
	}
}

func checkSessionInvariants(t *testing.T, session *Session) {
	t.Helper()

	for _, pending := range session.PendingUsers {
		if !contains(session.AllUsers, pending) {
			t.Errorf("pending user %s not in all users %v", pending, session.AllUsers)
		}
		if pending == session.StartingUser {
			t.Errorf("starting user %s is pending", pending)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()
	ctx := context.Background()

	in := testSession()
	id, err := s.Create(ctx, in, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned an empty id")
	}

	out, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("Round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
	checkSessionInvariants(t, out)
}

func TestSessionGetMissing(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()

	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionSetState(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, testSession(), 0)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := s.SetState(ctx, id, StateInProgress); err != nil {
		t.Fatalf("Failed to set state: %v", err)
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if session.State != StateInProgress {
		t.Errorf("Expected state %v, got %v", StateInProgress, session.State)
	}

	if err := s.SetState(ctx, "nope", StateQueued); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestUserAccepted(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, testSession(), 0)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	remaining, err := s.UserAccepted(ctx, id, "u2")
	if err != nil {
		t.Fatalf("Failed to accept: %v", err)
	}
	if !reflect.DeepEqual(remaining, []string{"u3"}) {
		t.Errorf("Expected remaining [u3], got %v", remaining)
	}

	// Accepting twice is a user-not-found case, not a silent no-op.
	if _, err := s.UserAccepted(ctx, id, "u2"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	checkSessionInvariants(t, session)
}

func TestUserAcceptedConcurrent(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()
	ctx := context.Background()

	users := []string{"u2", "u3", "u4", "u5", "u6"}
	session := &Session{
		State:        StatePending,
		ModuleName:   "test",
		StartingUser: "u1",
		AllUsers:     append([]string{"u1"}, users...),
		PendingUsers: append([]string(nil), users...),
		Usernames:    map[string]string{},
	}

	id, err := s.Create(ctx, session, 0)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(users))
	for _, userID := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			if _, err := s.UserAccepted(ctx, id, userID); err != nil {
				errs <- err
			}
		}(userID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent accept failed: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if len(got.PendingUsers) != 0 {
		t.Errorf("Expected no pending users, got %v", got.PendingUsers)
	}
}

func TestSessionExpiryCallback(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()
	ctx := context.Background()

	fired := make(chan string, 2)
	err := s.OnExpire("cleanup", func(ctx context.Context, sessionID string) {
		// The payload must still be readable when expiry fires.
		if _, err := s.Get(ctx, sessionID); err != nil {
			t.Errorf("Session unreadable at expiry: %v", err)
		}
		s.Delete(ctx, sessionID)
		fired <- sessionID
	})
	if err != nil {
		t.Fatalf("Failed to register callback: %v", err)
	}

	// Registering the same name again is a no-op, so the callback
	// still fires exactly once.
	if err := s.OnExpire("cleanup", func(ctx context.Context, sessionID string) {
		fired <- sessionID
	}); err != nil {
		t.Fatalf("Duplicate register failed: %v", err)
	}

	id, err := s.Create(ctx, testSession(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	select {
	case got := <-fired:
		if got != id {
			t.Errorf("Expected callback for %s, got %s", id, got)
		}
	case <-time.After(time.Second):
		t.Fatal("Expiry callback never fired")
	}

	select {
	case <-fired:
		t.Error("Expiry callback fired more than once")
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := s.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected session deleted by callback, got %v", err)
	}
}

func TestSetExpiryReschedules(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()
	ctx := context.Background()

	fired := make(chan string, 1)
	if err := s.OnExpire("notice", func(ctx context.Context, sessionID string) {
		fired <- sessionID
	}); err != nil {
		t.Fatalf("Failed to register callback: %v", err)
	}

	id, err := s.Create(ctx, testSession(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Clearing the TTL makes the session persistent.
	if err := s.SetExpiry(ctx, id, 0); err != nil {
		t.Fatalf("Failed to clear expiry: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("Callback fired after expiry was cleared")
	case <-time.After(100 * time.Millisecond):
	}

	if err := s.SetExpiry(ctx, "nope", time.Minute); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestRemoveExpireCallback(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()

	if err := s.OnExpire("a", func(context.Context, string) {}); err != nil {
		t.Fatalf("Failed to register callback: %v", err)
	}
	if err := s.RemoveExpireCallback("a"); err != nil {
		t.Fatalf("Failed to remove callback: %v", err)
	}
	if err := s.RemoveExpireCallback("a"); !errors.Is(err, ErrCallbackNotFound) {
		t.Errorf("Expected ErrCallbackNotFound, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := NewMemorySessionStore()
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, testSession(), time.Hour)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("Second delete should be a no-op, got %v", err)
	}
}

func newTestUserStore(maxActive, maxQueued int) *MemoryUserStore {
	return NewMemoryUserStore(Options{
		MaxActiveGames: maxActive,
		MaxQueuedGames: maxQueued,
	})
}

func TestJoinGameCapacity(t *testing.T) {
	s := newTestUserStore(2, 1)
	defer s.Close()
	ctx := context.Background()

	for _, sessionID := range []string{"a", "b", "c"} {
		ok, err := s.JoinGame(ctx, "u1", sessionID)
		if err != nil {
			t.Fatalf("Failed to join %s: %v", sessionID, err)
		}
		if !ok {
			t.Fatalf("Join %s should succeed", sessionID)
		}
	}

	user, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if !reflect.DeepEqual(user.ActiveGames, []string{"a", "b"}) {
		t.Errorf("Expected active [a b], got %v", user.ActiveGames)
	}
	if !reflect.DeepEqual(user.QueuedGames, []string{"c"}) {
		t.Errorf("Expected queued [c], got %v", user.QueuedGames)
	}

	// Both lists full: join fails without mutating anything.
	ok, err := s.JoinGame(ctx, "u1", "d")
	if err != nil {
		t.Fatalf("Join d errored: %v", err)
	}
	if ok {
		t.Error("Join d should report no capacity")
	}

	after, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if !reflect.DeepEqual(user, after) {
		t.Errorf("Failed join mutated the record:\nbefore: %+v\nafter: %+v", user, after)
	}
}

func TestJoinGameIdempotent(t *testing.T) {
	s := newTestUserStore(6, 6)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := s.JoinGame(ctx, "u1", "a")
		if err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		if !ok {
			t.Fatal("Join should succeed")
		}
	}

	user, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.TotalGames() != 1 {
		t.Errorf("Expected 1 game total, got active=%v queued=%v", user.ActiveGames, user.QueuedGames)
	}
}

func TestJoinGameNeverExceedsBounds(t *testing.T) {
	s := newTestUserStore(2, 2)
	defer s.Close()
	ctx := context.Background()

	sessions := []string{"a", "b", "c", "d", "e", "f", "a", "c"}
	for _, sessionID := range sessions {
		if _, err := s.JoinGame(ctx, "u1", sessionID); err != nil {
			t.Fatalf("Join %s errored: %v", sessionID, err)
		}
	}

	user, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.TotalGames() > 4 {
		t.Errorf("Total games %d exceeds bounds", user.TotalGames())
	}

	seen := map[string]int{}
	for _, id := range append(append([]string(nil), user.ActiveGames...), user.QueuedGames...) {
		seen[id]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("Session %s appears %d times across active/queued", id, n)
		}
	}
}

func TestCheckAllReady(t *testing.T) {
	s := newTestUserStore(1, 6)
	defer s.Close()
	ctx := context.Background()

	s.JoinGame(ctx, "u1", "a")
	s.JoinGame(ctx, "u2", "a")
	s.JoinGame(ctx, "u3", "other")
	s.JoinGame(ctx, "u3", "a") // queued: u3's active list is full

	ready, err := s.CheckAllReady(ctx, []string{"u1", "u2"}, "a")
	if err != nil {
		t.Fatalf("CheckAllReady failed: %v", err)
	}
	if !ready {
		t.Error("u1 and u2 should be ready")
	}

	ready, err = s.CheckAllReady(ctx, []string{"u1", "u2", "u3"}, "a")
	if err != nil {
		t.Fatalf("CheckAllReady failed: %v", err)
	}
	if ready {
		t.Error("u3 has the game queued, should not be ready")
	}

	if _, err := s.CheckAllReady(ctx, []string{"u1", "ghost"}, "a"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestRemoveGameDeletesEmptyRecord(t *testing.T) {
	s := newTestUserStore(6, 6)
	defer s.Close()
	ctx := context.Background()

	s.JoinGame(ctx, "u1", "a")

	promoted, notified, err := s.RemoveGame(ctx, []string{"u1"}, "a")
	if err != nil {
		t.Fatalf("RemoveGame failed: %v", err)
	}
	if len(promoted) != 0 || len(notified) != 0 {
		t.Errorf("Expected no promotions/notifications, got %v %v", promoted, notified)
	}

	user, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if user != nil {
		t.Errorf("Record should be deleted when the last game goes, got %+v", user)
	}
}

func TestRemoveGamePromotesFIFO(t *testing.T) {
	s := newTestUserStore(2, 3)
	defer s.Close()
	ctx := context.Background()

	for _, sessionID := range []string{"a", "b", "q1", "q2", "q3"} {
		s.JoinGame(ctx, "u1", sessionID)
	}

	promoted, _, err := s.RemoveGame(ctx, []string{"u1"}, "a")
	if err != nil {
		t.Fatalf("RemoveGame failed: %v", err)
	}
	if _, ok := promoted["q1"]; !ok || len(promoted) != 1 {
		t.Errorf("Expected exactly q1 promoted, got %v", promoted)
	}

	user, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(user.ActiveGames, []string{"b", "q1"}) {
		t.Errorf("Expected active [b q1], got %v", user.ActiveGames)
	}
	if !reflect.DeepEqual(user.QueuedGames, []string{"q2", "q3"}) {
		t.Errorf("Expected queued [q2 q3], got %v", user.QueuedGames)
	}
	if len(user.ActiveGames) > 2 {
		t.Errorf("Promotion exceeded max active games: %v", user.ActiveGames)
	}
}

func TestRemoveGameBestEffortBatch(t *testing.T) {
	s := newTestUserStore(1, 2)
	defer s.Close()
	ctx := context.Background()

	// u1 has "x" queued behind "a", plus "y" queued after it.
	s.JoinGame(ctx, "u1", "a")
	s.JoinGame(ctx, "u1", "x")
	s.JoinGame(ctx, "u1", "y")
	// Removing "a" frees active room; "x" promotes. u2 has no record
	// at all and must not abort the batch.
	s.RemoveGame(ctx, []string{"u1"}, "a")

	promoted, notified, err := s.RemoveGame(ctx, []string{"u1", "u2"}, "x")
	if err != nil {
		t.Fatalf("RemoveGame should skip missing users, got %v", err)
	}
	if _, ok := promoted["y"]; !ok {
		t.Errorf("Expected y promoted, got %v", promoted)
	}
	if len(notified) != 0 {
		t.Errorf("Expected no notifications removed, got %v", notified)
	}
}

func TestRemoveGameSkipsUserWithoutGame(t *testing.T) {
	s := newTestUserStore(6, 6)
	defer s.Close()
	ctx := context.Background()

	s.JoinGame(ctx, "u1", "x")
	s.JoinGame(ctx, "u2", "other")

	if _, _, err := s.RemoveGame(ctx, []string{"u1", "u2"}, "x"); err != nil {
		t.Fatalf("RemoveGame should skip users without the game, got %v", err)
	}

	// u2 is untouched.
	user, err := s.Get(ctx, "u2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(user.ActiveGames, []string{"other"}) {
		t.Errorf("u2's games changed: %v", user.ActiveGames)
	}
}

func TestNotifications(t *testing.T) {
	s := newTestUserStore(6, 6)
	defer s.Close()
	ctx := context.Background()

	s.JoinGame(ctx, "u1", "a")

	if err := s.AddNotification(ctx, "u1", "a"); err != nil {
		t.Fatalf("AddNotification failed: %v", err)
	}
	// Duplicate adds are no-ops.
	if err := s.AddNotification(ctx, "u1", "a"); err != nil {
		t.Fatalf("Duplicate AddNotification failed: %v", err)
	}

	user, _ := s.Get(ctx, "u1")
	if !reflect.DeepEqual(user.Notifications, []string{"a"}) {
		t.Errorf("Expected notifications [a], got %v", user.Notifications)
	}

	removed, err := s.RemoveNotification(ctx, "u1", "a")
	if err != nil {
		t.Fatalf("RemoveNotification failed: %v", err)
	}
	if !removed {
		t.Error("Expected notification removed")
	}

	removed, err = s.RemoveNotification(ctx, "u1", "a")
	if err != nil {
		t.Fatalf("RemoveNotification failed: %v", err)
	}
	if removed {
		t.Error("Second remove should report nothing removed")
	}

	if err := s.AddNotification(ctx, "ghost", "a"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestRemoveGameClearsNotification(t *testing.T) {
	s := newTestUserStore(6, 6)
	defer s.Close()
	ctx := context.Background()

	s.JoinGame(ctx, "u1", "a")
	s.JoinGame(ctx, "u1", "b")
	s.AddNotification(ctx, "u1", "a")

	_, notified, err := s.RemoveGame(ctx, []string{"u1"}, "a")
	if err != nil {
		t.Fatalf("RemoveGame failed: %v", err)
	}
	if !reflect.DeepEqual(notified, []string{"u1"}) {
		t.Errorf("Expected notified [u1], got %v", notified)
	}

	user, _ := s.Get(ctx, "u1")
	if len(user.Notifications) != 0 {
		t.Errorf("Notification should be gone, got %v", user.Notifications)
	}
}

func TestNotificationMessageID(t *testing.T) {
	s := newTestUserStore(6, 6)
	defer s.Close()
	ctx := context.Background()

	s.JoinGame(ctx, "u1", "a")

	if err := s.SetNotificationMessageID(ctx, "u1", "msg-42"); err != nil {
		t.Fatalf("SetNotificationMessageID failed: %v", err)
	}
	user, _ := s.Get(ctx, "u1")
	if user.NotificationMessageID != "msg-42" {
		t.Errorf("Expected msg-42, got %q", user.NotificationMessageID)
	}

	if err := s.ClearNotificationMessageID(ctx, "u1"); err != nil {
		t.Fatalf("ClearNotificationMessageID failed: %v", err)
	}
	user, _ = s.Get(ctx, "u1")
	if user.NotificationMessageID != "" {
		t.Errorf("Expected cleared message id, got %q", user.NotificationMessageID)
	}

	if err := s.SetNotificationMessageID(ctx, "ghost", "m"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestGameDataStore(t *testing.T) {
	s := NewMemoryGameDataStore()
	ctx := context.Background()

	type boardData struct {
		Board []string `json:"board"`
		Turn  string   `json:"turn"`
	}

	if err := s.Store(ctx, "g1", boardData{Board: []string{"x", "", "o"}, Turn: "u1"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	raw, err := s.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var got boardData
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Failed to decode game data: %v", err)
	}
	if got.Turn != "u1" {
		t.Errorf("Expected turn u1, got %q", got.Turn)
	}

	if err := s.Delete(ctx, "g1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "g1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestConfirmMessageStore(t *testing.T) {
	s := NewMemoryConfirmMessageStore()
	ctx := context.Background()

	if err := s.SetMessages(ctx, "g1", []string{"m1", "m2"}, time.Hour); err != nil {
		t.Fatalf("SetMessages failed: %v", err)
	}

	ids, err := s.GetMessages(ctx, "g1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"m1", "m2"}) {
		t.Errorf("Expected [m1 m2], got %v", ids)
	}

	if err := s.DeleteMessages(ctx, "g1"); err != nil {
		t.Fatalf("DeleteMessages failed: %v", err)
	}
	if _, err := s.GetMessages(ctx, "g1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestConfirmMessagesExpire(t *testing.T) {
	s := NewMemoryConfirmMessageStore()
	ctx := context.Background()

	if err := s.SetMessages(ctx, "g1", []string{"m1"}, 20*time.Millisecond); err != nil {
		t.Fatalf("SetMessages failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := s.GetMessages(ctx, "g1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected messages to expire, got %v", err)
	}
}
