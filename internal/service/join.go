package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"jkbox/internal/models"
	"jkbox/internal/utils"
)

// parseNickname trims the name and strips the admin suffix.
func (s *SessionService) parseNickname(raw string) (string, bool, *models.ProtocolError) {
	name := strings.TrimSpace(raw)
	isAdmin := false
	if strings.HasSuffix(name, s.cfg.AdminSuffix) {
		isAdmin = true
		name = strings.TrimSpace(strings.TrimSuffix(name, s.cfg.AdminSuffix))
	}
	if name == "" {
		return "", false, models.NewProtocolError(models.CodeInvalidNickname, "nickname is required")
	}
	if utf8.RuneCountInString(name) > maxNicknameLength {
		return "", false, models.NewProtocolError(models.CodeInvalidNickname, "nickname is too long")
	}
	return name, isAdmin, nil
}

// newPlayerLocked builds a fresh player carrying the cached score of a booted
// player with the same nickname. The cache entry stays until the join lands;
// see forgetBootScoreLocked.
func (s *SessionService) newPlayerLocked(roomID, nickname, deviceID string, isAdmin bool) (models.Player, error) {
	id := utils.RandomID()
	token, err := s.tokens.Generate(id, roomID)
	if err != nil {
		return models.Player{}, err
	}
	now := s.now().UnixMilli()
	player := models.Player{
		ID:           id,
		Nickname:     nickname,
		SessionToken: token,
		DeviceID:     deviceID,
		IsAdmin:      isAdmin,
		ConnectedAt:  now,
		LastSeenAt:   now,
		IsConnected:  true,
	}
	key := bootKey{roomID: roomID, nickname: strings.ToLower(nickname)}
	if score, ok := s.bootCache[key]; ok {
		player.Score = score
	}
	return player, nil
}

func (s *SessionService) forgetBootScoreLocked(roomID string, player models.Player) {
	key := bootKey{roomID: roomID, nickname: strings.ToLower(player.Nickname)}
	if _, ok := s.bootCache[key]; !ok {
		return
	}
	delete(s.bootCache, key)
	log.Info().Str("room", roomID).Str("nickname", player.Nickname).Int("score", player.Score).Msg("restored score of booted player")
}

func (s *SessionService) deviceIDLocked(connID, supplied string) string {
	if d := strings.TrimSpace(supplied); d != "" {
		return d
	}
	return s.devices[connID]
}

// duplicatesLocked lists players that the joining connection replaces:
// the same device, or whoever this connection was already bound to.
func (s *SessionService) duplicatesLocked(room *models.Room, connID, deviceID string) []string {
	var ids []string
	prev, bound := s.conns[connID]
	for _, p := range room.Players {
		if p.IsAI {
			continue
		}
		if (deviceID != "" && p.DeviceID == deviceID) || (bound && prev.RoomID == room.RoomID && prev.PlayerID == p.ID) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (s *SessionService) handleJoin(connID string, raw json.RawMessage) *models.ProtocolError {
	var req models.JoinPayload
	if perr := decodePayload(raw, &req); perr != nil {
		return perr
	}

	s.lock()
	defer s.unlock()

	nickname, isAdmin, perr := s.parseNickname(req.Nickname)
	if perr != nil {
		return perr
	}
	roomID := utils.NormalizeRoomCode(req.RoomID)
	room := s.rooms.GetRoom(roomID)
	if room == nil {
		return models.NewProtocolError(models.CodeRoomNotFound, "room "+roomID+" does not exist")
	}
	if room.Phase() == models.PhasePlaying {
		return models.NewProtocolError(models.CodeGameInProgress, "a game is in progress")
	}

	deviceID := s.deviceIDLocked(connID, req.DeviceID)
	dupes := s.duplicatesLocked(room, connID, deviceID)
	if len(room.Players)-len(dupes) >= s.cfg.MaxPlayers {
		return models.NewProtocolError(models.CodeRoomFull, "room is full")
	}

	player, err := s.newPlayerLocked(roomID, nickname, deviceID, isAdmin)
	if err != nil {
		return protocolError(err)
	}

	// The first duplicate hands its seat, host flag and score to the
	// newcomer. Any other duplicate is dropped.
	var seat string
	if len(dupes) > 0 {
		seat, dupes = dupes[0], dupes[1:]
	}
	for _, id := range dupes {
		if _, err := s.removePlayerLocked(roomID, id); err != nil {
			return protocolError(err)
		}
		log.Info().Str("room", roomID).Str("player", id).Str("device", deviceID).Msg("dropped duplicate device")
	}

	switch room.Phase() {
	case models.PhaseTitle:
		if _, err := s.rooms.TransitionTitleToLobby(roomID); err != nil {
			return protocolError(err)
		}
	case models.PhaseCountdown:
		s.cancelCountdownLocked(roomID, "player-joined")
	}

	if seat != "" {
		room, err = s.rooms.ReplacePlayer(roomID, seat, player)
		if err != nil {
			return protocolError(err)
		}
		s.votingLocked(roomID).RemovePlayer(seat)
		s.unbindPlayerLocked(seat)
		log.Info().Str("room", roomID).Str("player", seat).Str("device", deviceID).Msg("replaced duplicate device")
	} else {
		room, err = s.rooms.AddPlayer(roomID, player)
		if err != nil {
			return protocolError(err)
		}
		s.forgetBootScoreLocked(roomID, player)
	}
	player, _ = room.Player(player.ID)

	s.votingLocked(roomID).AddPlayer(player.ID, false)
	s.bindLocked(connID, roomID, player.ID)
	log.Info().Str("room", roomID).Str("player", player.ID).Str("nickname", nickname).Bool("admin", isAdmin).Msg("player joined")

	s.hub.SendTo(connID, models.OutboundMessage{
		Type:    models.MsgJoinSuccess,
		Payload: models.JoinSuccessPayload{Player: player, RoomState: room.Public()},
	})
	s.syncLobbyLocked(roomID)
	s.broadcastRoomLocked(roomID)
	s.broadcastVotingLocked(roomID)
	return nil
}

// handleJoinMidGame adds a player to a running game whose module accepts
// late joins.
func (s *SessionService) handleJoinMidGame(ctx context.Context, connID string, raw json.RawMessage) *models.ProtocolError {
	var req models.JoinPayload
	if perr := decodePayload(raw, &req); perr != nil {
		return perr
	}

	s.lock()
	nickname, isAdmin, perr := s.parseNickname(req.Nickname)
	if perr != nil {
		s.unlock()
		return perr
	}
	roomID := utils.NormalizeRoomCode(req.RoomID)
	room := s.rooms.GetRoom(roomID)
	if room == nil {
		s.unlock()
		return models.NewProtocolError(models.CodeRoomNotFound, "room "+roomID+" does not exist")
	}
	adapter, ok := s.games[roomID]
	if room.Phase() != models.PhasePlaying || !ok {
		s.unlock()
		return wrongPhase(models.PhasePlaying)
	}
	if len(room.Players) >= s.cfg.MaxPlayers {
		s.unlock()
		return models.NewProtocolError(models.CodeRoomFull, "room is full")
	}
	deviceID := s.deviceIDLocked(connID, req.DeviceID)
	if len(s.duplicatesLocked(room, connID, deviceID)) > 0 {
		s.unlock()
		return models.NewProtocolError(models.CodeGameInProgress, "this device is already playing; restore your session instead")
	}
	player, err := s.newPlayerLocked(roomID, nickname, deviceID, isAdmin)
	s.unlock()
	if err != nil {
		return protocolError(err)
	}

	room, err = adapter.AddPlayer(ctx, player)
	if err != nil {
		return protocolError(err)
	}
	if room == nil {
		return wrongPhase(models.PhasePlaying)
	}

	s.lock()
	defer s.unlock()
	player, _ = room.Player(player.ID)
	s.forgetBootScoreLocked(roomID, player)
	s.votingLocked(roomID).AddPlayer(player.ID, false)
	s.bindLocked(connID, roomID, player.ID)
	log.Info().Str("room", roomID).Str("player", player.ID).Str("nickname", nickname).Msg("player joined mid-game")

	s.hub.SendTo(connID, models.OutboundMessage{
		Type:    models.MsgJoinSuccess,
		Payload: models.JoinSuccessPayload{Player: player, RoomState: room.Public()},
	})
	s.broadcastRoomLocked(roomID)
	return nil
}

// handleRestoreSession lets a client reclaim its player with the token it
// was handed at join time.
func (s *SessionService) handleRestoreSession(connID string, raw json.RawMessage) *models.ProtocolError {
	var req models.RestoreSessionPayload
	if perr := decodePayload(raw, &req); perr != nil {
		return perr
	}

	s.lock()
	defer s.unlock()

	roomID := utils.NormalizeRoomCode(req.RoomID)
	room := s.rooms.GetRoom(roomID)
	if room == nil {
		return models.NewProtocolError(models.CodeRoomNotFound, "room "+roomID+" does not exist")
	}
	player, ok := room.Player(req.PlayerID)
	if !ok {
		return models.NewProtocolError(models.CodePlayerNotFound, "player not found")
	}
	if err := s.tokens.Verify(req.SessionToken, player.SessionToken, player.ID, roomID); err != nil {
		return models.NewProtocolError(models.CodeSessionInvalid, "session token rejected")
	}

	s.bindLocked(connID, roomID, player.ID)
	return s.reconnectLocked(connID, binding{PlayerID: player.ID, RoomID: roomID})
}

// handleWatch subscribes a display that observes the room without playing.
func (s *SessionService) handleWatch(connID string, raw json.RawMessage) *models.ProtocolError {
	var req models.WatchPayload
	if perr := decodePayload(raw, &req); perr != nil {
		return perr
	}

	s.lock()
	defer s.unlock()

	roomID := utils.NormalizeRoomCode(req.RoomID)
	room := s.rooms.GetRoom(roomID)
	if room == nil {
		return models.NewProtocolError(models.CodeRoomNotFound, "room "+roomID+" does not exist")
	}
	if _, bound := s.conns[connID]; bound {
		s.unbindLocked(connID)
	}
	s.watchers[connID] = roomID
	s.hub.Subscribe(connID, roomID)
	s.hub.SendTo(connID, models.OutboundMessage{Type: models.MsgRoomState, Payload: room.Public()})
	if room.Phase() == models.PhaseLobby || room.Phase() == models.PhaseCountdown {
		s.hub.SendTo(connID, models.OutboundMessage{
			Type:    models.MsgVotingUpdate,
			Payload: s.votingLocked(roomID).State(),
		})
	}
	log.Debug().Str("room", roomID).Str("conn", connID).Msg("watcher joined")
	return nil
}

// handleQuit removes the player for good. Their score is not kept.
func (s *SessionService) handleQuit(connID string) *models.ProtocolError {
	s.lock()
	defer s.unlock()

	b, _, _, perr := s.resolveLocked(connID)
	if perr != nil {
		return perr
	}
	room, err := s.removePlayerLocked(b.RoomID, b.PlayerID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return models.NewProtocolError(models.CodeNotInRoom, "you are not in this room")
		}
		return protocolError(err)
	}
	log.Info().Str("room", b.RoomID).Str("player", b.PlayerID).Msg("player quit")
	s.afterPlayerLeftLocked(room, b.PlayerID, "player-quit")
	return nil
}
