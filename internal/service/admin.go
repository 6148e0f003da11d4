package service

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"jkbox/internal/models"
)

// requireAdminLocked resolves the caller and checks the admin flag.
func (s *SessionService) requireAdminLocked(connID string) (binding, *models.Room, *models.ProtocolError) {
	b, room, player, perr := s.resolveLocked(connID)
	if perr != nil {
		return binding{}, nil, perr
	}
	if !player.IsAdmin {
		return binding{}, nil, models.NewProtocolError(models.CodeUnauthorized, "admin only")
	}
	return b, room, nil
}

func (s *SessionService) handleAdminBoot(connID string, raw json.RawMessage) *models.ProtocolError {
	var req models.BootPayload
	if perr := decodePayload(raw, &req); perr != nil {
		return perr
	}

	s.lock()
	defer s.unlock()

	b, room, perr := s.requireAdminLocked(connID)
	if perr != nil {
		return perr
	}
	target, ok := room.Player(req.PlayerID)
	if !ok {
		return models.NewProtocolError(models.CodePlayerNotFound, "player not found")
	}
	if target.IsAI {
		return models.NewProtocolError(models.CodePlayerNotFound, "AI players are managed through the room config")
	}
	log.Info().Str("room", b.RoomID).Str("admin", b.PlayerID).Str("player", target.ID).Msg("admin boot")
	s.bootLocked(b.RoomID, target.ID, "admin")
	return nil
}

// handleAdminLobby abandons whatever is running and returns to a fresh lobby.
func (s *SessionService) handleAdminLobby(connID string) *models.ProtocolError {
	s.lock()
	defer s.unlock()

	b, _, perr := s.requireAdminLocked(connID)
	if perr != nil {
		return perr
	}

	s.stopCountdownLocked(b.RoomID)
	s.stopResultsTimerLocked(b.RoomID)
	s.retireGameLocked(b.RoomID)
	if _, err := s.rooms.ForceLobby(b.RoomID); err != nil {
		return protocolError(err)
	}
	s.votingLocked(b.RoomID).Reset()
	log.Info().Str("room", b.RoomID).Str("admin", b.PlayerID).Msg("forced back to lobby")

	s.syncLobbyLocked(b.RoomID)
	s.broadcastRoomLocked(b.RoomID)
	s.broadcastVotingLocked(b.RoomID)
	return nil
}

// handleAdminHardReset drops every player, every connection and the boot
// cache of the room and returns it to the title screen. Watchers stay.
func (s *SessionService) handleAdminHardReset(connID string) *models.ProtocolError {
	s.lock()
	defer s.unlock()

	b, _, perr := s.requireAdminLocked(connID)
	if perr != nil {
		return perr
	}
	roomID := b.RoomID

	s.stopCountdownLocked(roomID)
	s.stopResultsTimerLocked(roomID)
	s.retireGameLocked(roomID)
	room, err := s.rooms.HardReset(roomID)
	if err != nil {
		return protocolError(err)
	}

	s.hub.BroadcastToRoom(roomID, models.OutboundMessage{Type: models.MsgRoomReset, Payload: room.Public()})
	for cid, cb := range s.conns {
		if cb.RoomID == roomID {
			s.unbindLocked(cid)
		}
	}
	delete(s.voting, roomID)
	for key := range s.bootCache {
		if key.roomID == roomID {
			delete(s.bootCache, key)
		}
	}
	log.Warn().Str("room", roomID).Str("admin", b.PlayerID).Msg("hard reset")

	s.broadcastRoomLocked(roomID)
	return nil
}

func (s *SessionService) handleAdminConfig(connID string, raw json.RawMessage) *models.ProtocolError {
	var req models.UpdateConfigPayload
	if perr := decodePayload(raw, &req); perr != nil {
		return perr
	}

	s.lock()
	defer s.unlock()

	b, room, perr := s.requireAdminLocked(connID)
	if perr != nil {
		return perr
	}
	switch room.Phase() {
	case models.PhaseTitle, models.PhaseLobby, models.PhaseResults:
	default:
		return wrongPhase(models.PhaseTitle, models.PhaseLobby, models.PhaseResults)
	}

	cfg := room.Config
	if req.AIPlayers != nil {
		cfg.AIPlayers = *req.AIPlayers
	}
	if req.Rounds != nil {
		cfg.Rounds = *req.Rounds
	}
	if cfg.AIPlayers < 0 || cfg.Rounds < 0 {
		return models.NewProtocolError(models.CodeInvalidMessage, "config values must not be negative")
	}

	updated, err := s.rooms.UpdateConfig(b.RoomID, cfg)
	if err != nil {
		return protocolError(err)
	}
	s.syncAIVotersLocked(room, updated)
	log.Info().Str("room", b.RoomID).Int("ai", updated.Config.AIPlayers).Int("rounds", updated.Config.Rounds).Msg("config updated")

	s.syncLobbyLocked(b.RoomID)
	s.broadcastRoomLocked(b.RoomID)
	s.broadcastVotingLocked(b.RoomID)
	s.maybeStartCountdownLocked(b.RoomID)
	return nil
}

// syncAIVotersLocked mirrors AI roster changes into the tally.
func (s *SessionService) syncAIVotersLocked(before, after *models.Room) {
	v := s.votingLocked(after.RoomID)
	for _, p := range before.Players {
		if _, still := after.Player(p.ID); p.IsAI && !still {
			v.RemovePlayer(p.ID)
		}
	}
	for _, p := range after.Players {
		if p.IsAI {
			v.AddPlayer(p.ID, true)
		}
	}
}

func (s *SessionService) handleAdminPause(connID string, paused bool) *models.ProtocolError {
	s.lock()
	defer s.unlock()

	b, _, perr := s.requireAdminLocked(connID)
	if perr != nil {
		return perr
	}
	if _, err := s.rooms.SetPaused(b.RoomID, paused); err != nil {
		return protocolError(err)
	}
	log.Info().Str("room", b.RoomID).Bool("paused", paused).Msg("pause toggled")
	s.broadcastRoomLocked(b.RoomID)
	return nil
}
