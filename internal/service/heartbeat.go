package service

import (
	"time"

	"github.com/rs/zerolog/log"

	"jkbox/internal/models"
)

// handleHeartbeat refreshes the caller's liveness. Watchers have no player
// record and only get the ack.
func (s *SessionService) handleHeartbeat(connID string) *models.ProtocolError {
	s.lock()
	defer s.unlock()

	now := s.now()
	if _, bound := s.conns[connID]; !bound {
		if _, watching := s.watchers[connID]; watching {
			s.sendHeartbeatAck(connID, now)
			return nil
		}
	}

	b, _, before, perr := s.resolveLocked(connID)
	if perr != nil {
		return perr
	}
	if _, err := s.rooms.UpdatePlayer(b.RoomID, b.PlayerID, func(p *models.Player) {
		p.LastSeenAt = now.UnixMilli()
		p.IsConnected = true
	}); err != nil {
		return protocolError(err)
	}
	s.sendHeartbeatAck(connID, now)

	if !before.IsConnected {
		s.votingLocked(b.RoomID).AddPlayer(b.PlayerID, false)
		log.Info().Str("room", b.RoomID).Str("player", b.PlayerID).Msg("player back after silence")
		s.syncLobbyLocked(b.RoomID)
		s.broadcastRoomLocked(b.RoomID)
		s.broadcastVotingLocked(b.RoomID)
	}
	return nil
}

func (s *SessionService) sendHeartbeatAck(connID string, now time.Time) {
	s.hub.SendTo(connID, models.OutboundMessage{
		Type:    models.MsgHeartbeatAck,
		Payload: map[string]int64{"serverTime": now.UnixMilli()},
	})
}

func (s *SessionService) runHeartbeatMonitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.CheckHeartbeats()
		}
	}
}

// CheckHeartbeats runs one pass of the liveness monitor over every room.
// Players silent past DisconnectAfter are marked disconnected; players
// silent past BootAfter are removed and their score cached. Rooms left
// empty and unwatched for IdleRoomTTL are deleted.
func (s *SessionService) CheckHeartbeats() {
	s.lock()
	defer s.unlock()

	now := s.now().UnixMilli()
	disconnectAfter := s.cfg.DisconnectAfter.Milliseconds()
	bootAfter := s.cfg.BootAfter.Milliseconds()

	for _, room := range s.rooms.Rooms() {
		for _, p := range room.Players {
			if p.IsAI {
				continue
			}
			silent := now - p.LastSeenAt
			switch {
			case silent >= bootAfter:
				s.bootLocked(room.RoomID, p.ID, "timeout")
			case silent >= disconnectAfter && p.IsConnected:
				s.markDisconnectedLocked(room.RoomID, p.ID, "heartbeat-timeout")
			}
		}
	}
	s.reapIdleRoomsLocked()
}

func (s *SessionService) reapIdleRoomsLocked() {
	watched := make(map[string]bool, len(s.watchers))
	for _, roomID := range s.watchers {
		watched[roomID] = true
	}

	for _, roomID := range s.rooms.IdleRooms(s.cfg.IdleRoomTTL) {
		if watched[roomID] {
			continue
		}
		s.stopCountdownLocked(roomID)
		s.stopResultsTimerLocked(roomID)
		s.retireGameLocked(roomID)
		if err := s.rooms.DeleteRoom(roomID); err != nil {
			log.Error().Err(err).Str("room", roomID).Msg("remove idle room")
			continue
		}
		delete(s.voting, roomID)
		for key := range s.bootCache {
			if key.roomID == roomID {
				delete(s.bootCache, key)
			}
		}
		log.Info().Str("room", roomID).Dur("idle", s.cfg.IdleRoomTTL).Msg("idle room removed")
	}
}
