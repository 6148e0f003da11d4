package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"jkbox/internal/games"
	"jkbox/internal/models"
)

var (
	ErrGameOver            = errors.New("game is no longer running")
	ErrLateJoinUnsupported = errors.New("game does not accept late joins")
	ErrRestoreUnsupported  = errors.New("game cannot be restored")
)

// GameAdapter binds one running module to one room's playing phase. The
// module sees it as its games.Host.
type GameAdapter struct {
	RoomID string
	GameID string

	module games.Module
	rooms  *RoomManager

	// guard runs fn serialized with every other mutation of the room.
	guard      func(fn func())
	onComplete func(a *GameAdapter, room *models.Room)

	// actionMu keeps read-modify-write of the game state in order.
	actionMu  sync.Mutex
	completed atomic.Bool
	retired   atomic.Bool
	cleaned   atomic.Bool
}

// GameAdapterOptions connects an adapter to its orchestrator. Both fields
// are optional.
type GameAdapterOptions struct {
	Guard      func(fn func())
	OnComplete func(a *GameAdapter, room *models.Room)
}

// NewGameAdapter binds module to roomID. Nothing is called on the module
// until Initialize or Restore.
func NewGameAdapter(roomID, gameID string, module games.Module, rooms *RoomManager, opts GameAdapterOptions) *GameAdapter {
	guard := opts.Guard
	if guard == nil {
		guard = func(fn func()) { fn() }
	}
	return &GameAdapter{
		RoomID:     roomID,
		GameID:     gameID,
		module:     module,
		rooms:      rooms,
		guard:      guard,
		onComplete: opts.OnComplete,
	}
}

func (a *GameAdapter) setup(room *models.Room) games.Setup {
	return games.Setup{
		RoomID:  room.RoomID,
		Players: append([]models.Player(nil), room.Players...),
		Config:  room.Config,
	}
}

// Initialize starts the module for the room's current roster and returns
// its first game state.
func (a *GameAdapter) Initialize(ctx context.Context) (json.RawMessage, error) {
	room := a.rooms.GetRoom(a.RoomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	state, err := a.module.Initialize(ctx, a.setup(room), a)
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %w", a.GameID, err)
	}
	return state, nil
}

// Restore resumes the module from a persisted playing state.
func (a *GameAdapter) Restore(ctx context.Context) error {
	r, ok := a.module.(games.Restorer)
	if !ok {
		return ErrRestoreUnsupported
	}
	room := a.rooms.GetRoom(a.RoomID)
	if room == nil {
		return ErrRoomNotFound
	}
	ps, ok := room.State.(models.PlayingState)
	if !ok || ps.GameID != a.GameID {
		return ErrGameOver
	}
	return r.Restore(ctx, a.setup(room), a, ps.GameState)
}

// IsPaused reads the room's flag at call time.
func (a *GameAdapter) IsPaused() bool {
	room := a.rooms.GetRoom(a.RoomID)
	return room != nil && room.Paused
}

// Complete is called by the module when the game is over. Only the first
// call has any effect.
func (a *GameAdapter) Complete(results models.GameResults) {
	if !a.completed.CompareAndSwap(false, true) {
		log.Warn().Str("room", a.RoomID).Str("game", a.GameID).Msg("game completed twice, ignoring")
		return
	}
	a.guard(func() {
		if a.retired.Load() {
			log.Debug().Str("room", a.RoomID).Str("game", a.GameID).Msg("completion after game was stopped")
			return
		}
		room := a.rooms.TransitionToResults(a.RoomID, results)
		if room == nil {
			return
		}
		a.retired.Store(true)
		if a.onComplete != nil {
			a.onComplete(a, room)
		}
	})
}

// Completed reports whether the module has reported its results.
func (a *GameAdapter) Completed() bool {
	return a.completed.Load()
}

// Retire detaches the adapter from the room. A later Complete is ignored.
// Callers run inside the guard.
func (a *GameAdapter) Retire() bool {
	return a.retired.CompareAndSwap(false, true)
}

// Cleanup releases the module once. It must not be called from inside the
// guard.
func (a *GameAdapter) Cleanup() {
	if a.cleaned.CompareAndSwap(false, true) {
		a.module.Cleanup()
	}
}

// HandleAction forwards one player action and stores the resulting state.
// The returned room is nil when the game ended during the action.
func (a *GameAdapter) HandleAction(ctx context.Context, playerID string, action json.RawMessage) (*models.Room, error) {
	if a.IsPaused() {
		return nil, games.ErrPaused
	}
	return a.apply(ctx, func(state json.RawMessage) (json.RawMessage, error) {
		return a.module.HandleAction(ctx, playerID, action, state)
	}, nil)
}

// AddPlayer hands a late joiner to the module and adds them to the room in
// the same step.
func (a *GameAdapter) AddPlayer(ctx context.Context, player models.Player) (*models.Room, error) {
	lj, ok := a.module.(games.LateJoiner)
	if !ok {
		return nil, ErrLateJoinUnsupported
	}
	return a.apply(ctx, func(state json.RawMessage) (json.RawMessage, error) {
		return lj.AddPlayer(ctx, player, state)
	}, func() error {
		_, err := a.rooms.AddPlayer(a.RoomID, player)
		return err
	})
}

// RemovePlayer tells the module a player left. Modules without their own
// roster are left untouched.
func (a *GameAdapter) RemovePlayer(ctx context.Context, playerID string) (*models.Room, error) {
	pr, ok := a.module.(games.PlayerRemover)
	if !ok {
		return nil, nil
	}
	return a.apply(ctx, func(state json.RawMessage) (json.RawMessage, error) {
		return pr.RemovePlayer(playerID, state)
	}, nil)
}

func (a *GameAdapter) apply(ctx context.Context, step func(json.RawMessage) (json.RawMessage, error), before func() error) (*models.Room, error) {
	a.actionMu.Lock()
	defer a.actionMu.Unlock()

	if a.retired.Load() || a.Completed() {
		return nil, ErrGameOver
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	room := a.rooms.GetRoom(a.RoomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	ps, ok := room.State.(models.PlayingState)
	if !ok || ps.GameID != a.GameID {
		return nil, ErrGameOver
	}

	next, err := step(ps.GameState)
	if err != nil {
		return nil, err
	}

	var updated *models.Room
	a.guard(func() {
		if a.retired.Load() {
			return
		}
		if before != nil {
			if err = before(); err != nil {
				return
			}
		}
		updated, err = a.rooms.SetGameState(a.RoomID, a.GameID, next)
	})
	return updated, err
}
