package store

// State is the lifecycle state of a game session.
type State int

const (
	// StatePending means invites are still outstanding.
	StatePending State = iota

	// StateQueued means every invitee accepted but at least one
	// participant has no active capacity yet.
	StateQueued

	// StateInProgress means the game is running.
	StateInProgress
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateQueued:
		return "queued"
	case StateInProgress:
		return "in progress"
	default:
		return "unknown"
	}
}

// Session is the stored status of one game instance.
//
// The session document itself never expires. Expiry is carried by a
// companion shadow key so the payload is still readable at the moment
// its expiry is observed.
type Session struct {
	// State of the session.
	State State `json:"state"`

	// ModuleName identifies the game module being played.
	ModuleName string `json:"module_name"`

	// StartingUser is the id of the user who started the session.
	StartingUser string `json:"starting_user"`

	// AllUsers lists every participant id, starting user included.
	AllUsers []string `json:"all_users"`

	// PendingUsers lists participants who have not yet accepted.
	// Always a subset of AllUsers, never containing StartingUser.
	PendingUsers []string `json:"pending_users"`

	// Usernames maps participant ids to display names.
	Usernames map[string]string `json:"usernames"`
}

// AcceptedUsers returns the participants who have accepted their invite.
func (s *Session) AcceptedUsers() []string {
	accepted := make([]string, 0, len(s.AllUsers))
	for _, id := range s.AllUsers {
		if !contains(s.PendingUsers, id) {
			accepted = append(accepted, id)
		}
	}
	return accepted
}

// User is the stored game load of one user.
type User struct {
	// ActiveGames lists sessions the user is currently playing,
	// bounded by the store's max active games.
	ActiveGames []string `json:"active_games"`

	// QueuedGames lists sessions the user is waiting on, FIFO,
	// bounded by the store's max queued games.
	QueuedGames []string `json:"queued_games"`

	// Notifications lists sessions awaiting the user's reply.
	Notifications []string `json:"notifications"`

	// NotificationMessageID is a handle to the latest notification
	// prompt shown to the user. Owned by the presentation layer;
	// empty when cleared.
	NotificationMessageID string `json:"notification_message_id"`
}

// TotalGames returns the combined active and queued game count.
func (u *User) TotalGames() int {
	return len(u.ActiveGames) + len(u.QueuedGames)
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}
