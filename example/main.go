package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gamekeeper-go/gamekeeper"
	"github.com/gamekeeper-go/gamekeeper/store"
)

// ticTacToe is a minimal game module for the demo. A real module
// would render boards and handle moves; this one only keeps track of
// whose turn it is.
type ticTacToe struct{}

type ticTacToeData struct {
	Board [9]string `json:"board"`
	Turn  string    `json:"turn"`
}

func (ticTacToe) Details() gamekeeper.ModuleDetails {
	return gamekeeper.ModuleDetails{MinUsers: 2, MaxUsers: 2, ThumbnailPath: "assets/tic-tac-toe.png"}
}

func (ticTacToe) StartGame(ctx context.Context, sessionID string) error {
	fmt.Printf("tic-tac-toe started for session %s\n", sessionID)
	return nil
}

func (ticTacToe) Reply(ctx context.Context, sessionID, userID string) error {
	fmt.Printf("user %s replied to session %s\n", userID, sessionID)
	return nil
}

func main() {
	ctx := context.Background()

	cfg, err := gamekeeper.ConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	g, err := gamekeeper.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize GameKeeper: %v", err)
	}
	defer g.Close()

	g.Modules().Register("tic-tac-toe", func() gamekeeper.GameModule { return ticTacToe{} })

	// Expired invites get cleaned up the moment their shadow key
	// lapses. The callback must tolerate the session already being
	// gone: delete is a no-op then.
	err = g.Sessions().OnExpire("cleanup", func(ctx context.Context, sessionID string) {
		session, err := g.Sessions().Get(ctx, sessionID)
		if err != nil {
			return
		}
		if _, _, err := g.Users().RemoveGame(ctx, session.AllUsers, sessionID); err != nil {
			log.Printf("cleanup of session %s: %v", sessionID, err)
		}
		g.Sessions().Delete(ctx, sessionID)
		fmt.Printf("session %s expired and was cleaned up\n", sessionID)
	})
	if err != nil {
		log.Fatalf("Failed to register expiry callback: %v", err)
	}

	// Alice invites Bob to a game of tic-tac-toe.
	sessionID, err := g.Sessions().Create(ctx, &store.Session{
		State:        store.StatePending,
		ModuleName:   "tic-tac-toe",
		StartingUser: "alice",
		AllUsers:     []string{"alice", "bob"},
		PendingUsers: []string{"bob"},
		Usernames:    map[string]string{"alice": "Alice", "bob": "Bob"},
	}, 10*time.Minute)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	fmt.Printf("created session %s\n", sessionID)

	// Bob accepts the invite.
	remaining, err := g.Sessions().UserAccepted(ctx, sessionID, "bob")
	if err != nil {
		log.Fatalf("Failed to accept invite: %v", err)
	}

	if len(remaining) == 0 {
		// Everyone accepted: register the game with both users and
		// start it if neither is capacity-blocked.
		for _, userID := range []string{"alice", "bob"} {
			ok, err := g.Users().JoinGame(ctx, userID, sessionID)
			if err != nil {
				log.Fatalf("Failed to join game: %v", err)
			}
			if !ok {
				log.Fatalf("User %s has no room for another game", userID)
			}
		}

		ready, err := g.Users().CheckAllReady(ctx, []string{"alice", "bob"}, sessionID)
		if err != nil {
			log.Fatalf("Failed to check readiness: %v", err)
		}

		if ready {
			if err := g.Sessions().SetState(ctx, sessionID, store.StateInProgress); err != nil {
				log.Fatalf("Failed to set state: %v", err)
			}
			module, err := g.Modules().Get("tic-tac-toe")
			if err != nil {
				log.Fatalf("Failed to load module: %v", err)
			}
			if err := g.GameData().Store(ctx, sessionID, ticTacToeData{Turn: "alice"}); err != nil {
				log.Fatalf("Failed to store game data: %v", err)
			}
			if err := module.StartGame(ctx, sessionID); err != nil {
				log.Fatalf("Failed to start game: %v", err)
			}
		} else {
			if err := g.Sessions().SetState(ctx, sessionID, store.StateQueued); err != nil {
				log.Fatalf("Failed to set state: %v", err)
			}
			fmt.Println("game queued until capacity frees up")
		}
	}

	// The game ends: clear it everywhere and start anything that got
	// promoted out of a queue.
	promoted, _, err := g.Users().RemoveGame(ctx, []string{"alice", "bob"}, sessionID)
	if err != nil {
		log.Fatalf("Failed to clear game: %v", err)
	}
	for promotedID := range promoted {
		session, err := g.Sessions().Get(ctx, promotedID)
		if err != nil {
			continue
		}
		ready, err := g.Users().CheckAllReady(ctx, session.AllUsers, promotedID)
		if err == nil && ready {
			g.Sessions().SetState(ctx, promotedID, store.StateInProgress)
		}
	}

	g.GameData().Delete(ctx, sessionID)
	if err := g.Sessions().Delete(ctx, sessionID); err != nil {
		log.Fatalf("Failed to delete session: %v", err)
	}
	fmt.Println("done")
}
