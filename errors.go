package gamekeeper

import "errors"

var (
	// ErrModuleNotFound is returned when a game module name is not
	// registered.
	ErrModuleNotFound = errors.New("gamekeeper: game module not found")
)
