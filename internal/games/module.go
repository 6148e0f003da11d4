// Package games defines the contract between a room and a pluggable game
// module, and a registry of the modules a server offers.
package games

import (
	"context"
	"encoding/json"
	"errors"

	"jkbox/internal/models"
)

var (
	ErrUnknownGame = errors.New("unknown game")
	ErrPaused      = errors.New("game is paused")
)

// Setup is handed to a module when a round starts.
type Setup struct {
	RoomID  string
	Players []models.Player
	Config  models.RoomConfig
}

// Host is the room side of a running module. Complete is called by the
// module, once, when the game is over.
type Host interface {
	IsPaused() bool
	Complete(results models.GameResults)
}

// Module is one game's rules. State is opaque to the room and is stored as
// the playing phase's gameState.
type Module interface {
	Initialize(ctx context.Context, setup Setup, host Host) (json.RawMessage, error)
	HandleAction(ctx context.Context, playerID string, action json.RawMessage, state json.RawMessage) (json.RawMessage, error)
	Cleanup()
}

// LateJoiner is implemented by modules that accept players mid-game.
type LateJoiner interface {
	AddPlayer(ctx context.Context, player models.Player, state json.RawMessage) (json.RawMessage, error)
}

// PlayerRemover is implemented by modules that track their own roster.
type PlayerRemover interface {
	RemovePlayer(playerID string, state json.RawMessage) (json.RawMessage, error)
}

// Restorer is implemented by modules whose whole state is the gameState
// value, so a round can resume after a process restart.
type Restorer interface {
	Restore(ctx context.Context, setup Setup, host Host, state json.RawMessage) error
}
