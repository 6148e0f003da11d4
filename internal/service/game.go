package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"jkbox/internal/games"
	"jkbox/internal/models"
)

type resultsHandle struct {
	timer *time.Timer
}

func (s *SessionService) newAdapter(roomID, gameID string, module games.Module) *GameAdapter {
	return NewGameAdapter(roomID, gameID, module, s.rooms, GameAdapterOptions{
		Guard:      s.withLock,
		OnComplete: s.onGameCompleteLocked,
	})
}

// startGame runs when the countdown reaches zero. The module is initialized
// without holding the lock, so the countdown may be cancelled meanwhile.
func (s *SessionService) startGame(roomID, gameID string, h *countdownHandle) {
	module, err := s.registry.New(gameID)
	if err != nil {
		s.withLock(func() {
			if s.countdowns[roomID] == h {
				delete(s.countdowns, roomID)
				s.countdownToLobbyLocked(roomID, "game-unavailable")
			}
		})
		return
	}

	adapter := s.newAdapter(roomID, gameID, module)
	state, initErr := adapter.Initialize(s.ctx)

	s.lock()
	defer s.unlock()

	if s.countdowns[roomID] != h {
		adapter.Retire()
		s.after(adapter.Cleanup)
		log.Info().Str("room", roomID).Str("game", gameID).Msg("countdown cancelled while game was starting")
		return
	}
	delete(s.countdowns, roomID)

	if initErr != nil {
		log.Error().Err(initErr).Str("room", roomID).Str("game", gameID).Msg("game failed to start")
		adapter.Retire()
		s.after(adapter.Cleanup)
		s.countdownToLobbyLocked(roomID, "game-failed")
		return
	}

	room, err := s.rooms.StartGame(roomID, gameID, state)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Str("game", gameID).Msg("enter playing")
		adapter.Retire()
		s.after(adapter.Cleanup)
		return
	}
	s.games[roomID] = adapter
	s.votingLocked(roomID).Reset()
	log.Info().Str("room", roomID).Str("game", gameID).Msg("game started")

	ps, _ := stateOf[models.PlayingState](room)
	s.hub.BroadcastToRoom(roomID, models.OutboundMessage{
		Type:    models.MsgGameStart,
		Payload: models.GameStartPayload{GameID: gameID, GameState: ps.GameState},
	})
	s.broadcastRoomLocked(roomID)
}

// restoreGame resumes a recovered playing room, or sends it back to the
// lobby when its module cannot pick up from the stored state.
func (s *SessionService) restoreGame(roomID, gameID string) {
	module, err := s.registry.New(gameID)
	var adapter *GameAdapter
	if err == nil {
		adapter = s.newAdapter(roomID, gameID, module)
		err = adapter.Restore(s.ctx)
	}

	s.lock()
	defer s.unlock()

	room := s.rooms.GetRoom(roomID)
	ps, playing := stateOf[models.PlayingState](room)
	if err == nil && playing && ps.GameID == gameID && s.games[roomID] == nil {
		s.games[roomID] = adapter
		log.Info().Str("room", roomID).Str("game", gameID).Msg("game restored")
		return
	}
	if adapter != nil {
		adapter.Retire()
		s.after(adapter.Cleanup)
	}
	if !playing {
		return
	}
	log.Warn().Err(err).Str("room", roomID).Str("game", gameID).Msg("game not restorable, back to lobby")
	if _, err := s.rooms.ForceLobby(roomID); err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("reconcile playing")
		return
	}
	s.syncLobbyLocked(roomID)
	s.broadcastRoomLocked(roomID)
}

func (s *SessionService) handleGameAction(ctx context.Context, connID string, raw json.RawMessage) *models.ProtocolError {
	s.lock()
	b, room, _, perr := s.resolveLocked(connID)
	if perr != nil {
		s.unlock()
		return perr
	}
	adapter, ok := s.games[b.RoomID]
	if room.Phase() != models.PhasePlaying || !ok {
		s.unlock()
		return wrongPhase(models.PhasePlaying)
	}
	s.unlock()

	updated, err := adapter.HandleAction(ctx, b.PlayerID, raw)
	if err != nil {
		return gameError(err)
	}
	if updated != nil {
		s.withLock(func() {
			if s.games[b.RoomID] == adapter {
				s.broadcastRoomLocked(b.RoomID)
			}
		})
	}
	return nil
}

// gameError reports a module failure. Known orchestration errors keep
// their own codes.
func gameError(err error) *models.ProtocolError {
	switch {
	case errors.Is(err, ErrGameOver), errors.Is(err, ErrRoomNotFound), errors.Is(err, games.ErrPaused):
		return protocolError(err)
	default:
		return models.NewProtocolError(models.CodeGameError, err.Error())
	}
}

// onGameCompleteLocked runs inside the adapter's guard once the room has
// entered results.
func (s *SessionService) onGameCompleteLocked(a *GameAdapter, room *models.Room) {
	if s.games[a.RoomID] == a {
		delete(s.games, a.RoomID)
	}
	s.after(a.Cleanup)
	log.Info().Str("room", a.RoomID).Str("game", a.GameID).Msg("game complete")

	rs, _ := stateOf[models.ResultsState](room)
	s.hub.BroadcastToRoom(a.RoomID, models.OutboundMessage{Type: models.MsgGameComplete, Payload: rs})
	s.broadcastRoomLocked(a.RoomID)
	s.scheduleResultsLocked(a.RoomID)
}

// scheduleResultsLocked returns the room to the lobby after the results
// screen has been shown.
func (s *SessionService) scheduleResultsLocked(roomID string) {
	s.stopResultsTimerLocked(roomID)
	h := &resultsHandle{}
	s.results[roomID] = h
	h.timer = time.AfterFunc(s.cfg.ResultsDuration, func() {
		s.finishResults(roomID, h)
	})
}

func (s *SessionService) finishResults(roomID string, h *resultsHandle) {
	s.lock()
	defer s.unlock()

	if s.results[roomID] != h {
		return
	}
	delete(s.results, roomID)
	if s.ctx.Err() != nil {
		return
	}
	room := s.rooms.GetRoom(roomID)
	if room == nil || room.Phase() != models.PhaseResults {
		return
	}
	if _, err := s.rooms.TransitionResultsToLobby(roomID); err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("results to lobby")
		return
	}
	s.votingLocked(roomID).Reset()
	s.syncLobbyLocked(roomID)
	s.broadcastRoomLocked(roomID)
	s.broadcastVotingLocked(roomID)
}

func (s *SessionService) stopResultsTimerLocked(roomID string) {
	if h, ok := s.results[roomID]; ok {
		if h.timer != nil {
			h.timer.Stop()
		}
		delete(s.results, roomID)
	}
}

// retireGameLocked detaches the running module; its cleanup runs after the
// lock is released.
func (s *SessionService) retireGameLocked(roomID string) {
	a, ok := s.games[roomID]
	if !ok {
		return
	}
	delete(s.games, roomID)
	a.Retire()
	s.after(a.Cleanup)
}
