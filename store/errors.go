package store

import "errors"

var (
	// ErrSessionNotFound is returned when a session does not exist.
	ErrSessionNotFound = errors.New("store: session not found")

	// ErrUserNotFound is returned when a user record does not exist,
	// or when a user is missing from a session's pending list.
	ErrUserNotFound = errors.New("store: user not found")

	// ErrGameNotFound is returned when a session id is not present in
	// a user's active or queued games.
	ErrGameNotFound = errors.New("store: game not found in user's games")

	// ErrConcurrencyExhausted is returned when a transactional operation
	// lost the watch race more times than the configured retry bound.
	// It is transient: callers may retry the whole operation.
	ErrConcurrencyExhausted = errors.New("store: transaction retries exhausted")

	// ErrCallbackNotFound is returned when removing an expiry callback
	// that was never registered.
	ErrCallbackNotFound = errors.New("store: expire callback not found")
)
