package service

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"jkbox/internal/models"
)

type countdownHandle struct {
	done chan struct{}
}

func (s *SessionService) handleVote(connID string, raw json.RawMessage) *models.ProtocolError {
	var req models.VotePayload
	if perr := decodePayload(raw, &req); perr != nil {
		return perr
	}

	s.lock()
	defer s.unlock()

	b, room, _, perr := s.resolveLocked(connID)
	if perr != nil {
		return perr
	}
	if room.Phase() != models.PhaseLobby && room.Phase() != models.PhaseCountdown {
		return wrongPhase(models.PhaseLobby)
	}
	if !s.registry.Has(req.GameID) {
		return models.NewProtocolError(models.CodeUnknownGame, "unknown game "+req.GameID)
	}

	v := s.votingLocked(b.RoomID)
	before := v.State().SelectedGame
	v.SubmitVote(b.PlayerID, req.GameID)
	log.Debug().Str("room", b.RoomID).Str("player", b.PlayerID).Str("game", req.GameID).Msg("vote")

	if room.Phase() == models.PhaseCountdown && v.State().SelectedGame != before {
		s.cancelCountdownLocked(b.RoomID, "vote-changed")
		s.maybeStartCountdownLocked(b.RoomID)
		return nil
	}
	s.syncLobbyLocked(b.RoomID)
	s.broadcastVotingLocked(b.RoomID)
	s.broadcastRoomLocked(b.RoomID)
	s.maybeStartCountdownLocked(b.RoomID)
	return nil
}

// handleReady sets readiness to the requested value; an empty payload
// toggles it.
func (s *SessionService) handleReady(connID string, raw json.RawMessage) *models.ProtocolError {
	s.lock()
	defer s.unlock()

	b, room, _, perr := s.resolveLocked(connID)
	if perr != nil {
		return perr
	}
	if room.Phase() != models.PhaseLobby && room.Phase() != models.PhaseCountdown {
		return wrongPhase(models.PhaseLobby)
	}

	v := s.votingLocked(b.RoomID)
	var (
		ready bool
		err   error
	)
	if len(raw) == 0 {
		ready, err = v.ToggleReady(b.PlayerID)
	} else {
		var req models.ReadyPayload
		if perr := decodePayload(raw, &req); perr != nil {
			return perr
		}
		ready = req.IsReady
		err = v.SetReady(b.PlayerID, ready)
	}
	if err != nil {
		return protocolError(err)
	}

	if room.Phase() == models.PhaseCountdown && !ready {
		s.cancelCountdownLocked(b.RoomID, "player-unready")
		return nil
	}
	s.syncLobbyLocked(b.RoomID)
	s.broadcastVotingLocked(b.RoomID)
	s.broadcastRoomLocked(b.RoomID)
	s.maybeStartCountdownLocked(b.RoomID)
	return nil
}

// maybeStartCountdownLocked starts the countdown once every human is ready
// and one game is selected.
func (s *SessionService) maybeStartCountdownLocked(roomID string) {
	if _, running := s.countdowns[roomID]; running {
		return
	}
	room := s.rooms.GetRoom(roomID)
	if room == nil || room.Phase() != models.PhaseLobby {
		return
	}
	state := s.votingLocked(roomID).State()
	if !state.AllReady || state.SelectedGame == "" {
		return
	}

	if _, err := s.rooms.StartCountdown(roomID, state.SelectedGame, s.cfg.CountdownSeconds); err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("start countdown")
		return
	}
	h := &countdownHandle{done: make(chan struct{})}
	s.countdowns[roomID] = h
	log.Info().Str("room", roomID).Str("game", state.SelectedGame).Int("seconds", s.cfg.CountdownSeconds).Msg("countdown started")

	s.broadcastRoomLocked(roomID)
	s.hub.BroadcastToRoom(roomID, models.OutboundMessage{
		Type:    models.MsgCountdown,
		Payload: models.CountdownPayload{Countdown: s.cfg.CountdownSeconds, SelectedGame: state.SelectedGame},
	})

	s.wg.Add(1)
	go s.runCountdown(roomID, h)
}

func (s *SessionService) runCountdown(roomID string, h *countdownHandle) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.countdownTick(roomID, h) {
			return
		}
	}
}

// countdownTick re-reads the room before doing anything: a countdown that
// was cancelled while the ticker waited must stay cancelled.
func (s *SessionService) countdownTick(roomID string, h *countdownHandle) bool {
	s.lock()
	if s.countdowns[roomID] != h {
		s.unlock()
		return false
	}
	room := s.rooms.GetRoom(roomID)
	cd, ok := stateOf[models.CountdownState](room)
	if !ok {
		delete(s.countdowns, roomID)
		s.unlock()
		return false
	}

	remaining := cd.SecondsRemaining - 1
	if remaining > 0 {
		if _, err := s.rooms.SetCountdownRemaining(roomID, remaining); err != nil {
			log.Error().Err(err).Str("room", roomID).Msg("countdown tick")
		}
		s.hub.BroadcastToRoom(roomID, models.OutboundMessage{
			Type:    models.MsgCountdown,
			Payload: models.CountdownPayload{Countdown: remaining, SelectedGame: cd.SelectedGame},
		})
		s.unlock()
		return true
	}
	s.unlock()

	s.startGame(roomID, cd.SelectedGame, h)
	return false
}

// cancelCountdownLocked stops the ticker and puts the room back in the
// lobby, keeping whatever game the tally currently selects.
func (s *SessionService) cancelCountdownLocked(roomID, reason string) {
	s.stopCountdownLocked(roomID)
	s.countdownToLobbyLocked(roomID, reason)
}

func (s *SessionService) countdownToLobbyLocked(roomID, reason string) {
	room := s.rooms.GetRoom(roomID)
	if room == nil || room.Phase() != models.PhaseCountdown {
		return
	}
	if _, err := s.rooms.CancelCountdown(roomID, s.votingLocked(roomID).State()); err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("cancel countdown")
		return
	}
	log.Info().Str("room", roomID).Str("reason", reason).Msg("countdown cancelled")

	s.hub.BroadcastToRoom(roomID, models.OutboundMessage{
		Type:    models.MsgCountdownCancelled,
		Payload: models.CountdownCancelledPayload{Reason: reason},
	})
	s.broadcastRoomLocked(roomID)
	s.broadcastVotingLocked(roomID)
}

func (s *SessionService) stopCountdownLocked(roomID string) {
	if h, ok := s.countdowns[roomID]; ok {
		close(h.done)
		delete(s.countdowns, roomID)
	}
}

// stateOf returns the room's phase variant when it is of type T.
func stateOf[T models.PhaseState](room *models.Room) (T, bool) {
	var zero T
	if room == nil {
		return zero, false
	}
	st, ok := room.State.(T)
	return st, ok
}
