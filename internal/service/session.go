package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"jkbox/internal/games"
	"jkbox/internal/models"
	"jkbox/internal/utils"
)

// Broadcaster is the message channel as seen by the orchestrator. Sends
// never block.
type Broadcaster interface {
	Subscribe(connID, roomID string)
	Unsubscribe(connID string)
	SendTo(connID string, msg models.OutboundMessage)
	BroadcastToRoom(roomID string, msg models.OutboundMessage)
}

// SessionConfig holds the orchestrator's timings and limits. Zero values
// pick the defaults.
type SessionConfig struct {
	CountdownSeconds  int
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	DisconnectAfter   time.Duration
	BootAfter         time.Duration
	ResultsDuration   time.Duration
	IdleRoomTTL       time.Duration // how long a room without players or watchers is kept
	AdminSuffix       string
	MaxPlayers        int
}

func (c *SessionConfig) applyDefaults() {
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = 5
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.DisconnectAfter <= 0 {
		c.DisconnectAfter = 5 * time.Second
	}
	if c.BootAfter <= 0 {
		c.BootAfter = 60 * time.Second
	}
	if c.ResultsDuration <= 0 {
		c.ResultsDuration = 15 * time.Second
	}
	if c.IdleRoomTTL <= 0 {
		c.IdleRoomTTL = 30 * time.Minute
	}
	if c.AdminSuffix == "" {
		c.AdminSuffix = "~"
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = DefaultMaxPlayers
	}
}

const maxNicknameLength = 20

type binding struct {
	PlayerID string
	RoomID   string
}

type bootKey struct {
	roomID   string
	nickname string
}

// SessionService maps connections to players and drives every room's
// lobby, countdown, heartbeat and game lifecycle. All of its maps are
// guarded by mu.
type SessionService struct {
	mu       sync.Mutex
	deferred []func()

	rooms    *RoomManager
	registry *games.Registry
	tokens   *utils.SessionTokens
	hub      Broadcaster
	cfg      SessionConfig
	now      func() time.Time

	conns       map[string]binding
	playerConns map[string]string
	watchers    map[string]string
	devices     map[string]string
	voting      map[string]*VotingAggregator
	countdowns  map[string]*countdownHandle
	results     map[string]*resultsHandle
	games       map[string]*GameAdapter
	bootCache   map[bootKey]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionService builds the orchestrator. Call Start once the rooms are
// recovered and Close on shutdown.
func NewSessionService(rooms *RoomManager, registry *games.Registry, tokens *utils.SessionTokens, hub Broadcaster, cfg SessionConfig) *SessionService {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		rooms:       rooms,
		registry:    registry,
		tokens:      tokens,
		hub:         hub,
		cfg:         cfg,
		now:         time.Now,
		conns:       make(map[string]binding),
		playerConns: make(map[string]string),
		watchers:    make(map[string]string),
		devices:     make(map[string]string),
		voting:      make(map[string]*VotingAggregator),
		countdowns:  make(map[string]*countdownHandle),
		results:     make(map[string]*resultsHandle),
		games:       make(map[string]*GameAdapter),
		bootCache:   make(map[bootKey]int),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetClock replaces the wall clock, for tests.
func (s *SessionService) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *SessionService) lock() {
	s.mu.Lock()
}

// unlock releases mu and then runs work queued with after. Module calls are
// only ever made from there.
func (s *SessionService) unlock() {
	pending := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (s *SessionService) after(fn func()) {
	s.deferred = append(s.deferred, fn)
}

func (s *SessionService) withLock(fn func()) {
	s.lock()
	defer s.unlock()
	fn()
}

// Start reconciles recovered rooms and launches the heartbeat monitor.
func (s *SessionService) Start(ctx context.Context) {
	s.lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, room := range s.rooms.Rooms() {
		s.reconcileLocked(room)
	}
	s.unlock()

	s.wg.Add(1)
	go s.runHeartbeatMonitor()
}

// Close stops every timer the orchestrator owns.
func (s *SessionService) Close() {
	s.lock()
	s.cancel()
	for roomID := range s.countdowns {
		s.stopCountdownLocked(roomID)
	}
	for roomID := range s.results {
		s.stopResultsTimerLocked(roomID)
	}
	for roomID := range s.games {
		s.retireGameLocked(roomID)
	}
	s.unlock()
	s.wg.Wait()
}

// reconcileLocked settles a room loaded from the store. No connection
// survived the restart, so every human starts disconnected with a fresh
// grace window.
func (s *SessionService) reconcileLocked(room *models.Room) {
	now := s.now().UnixMilli()
	for _, p := range room.Players {
		if p.IsAI {
			continue
		}
		if _, err := s.rooms.UpdatePlayer(room.RoomID, p.ID, func(p *models.Player) {
			p.IsConnected = false
			p.LastSeenAt = now
		}); err != nil {
			log.Error().Err(err).Str("room", room.RoomID).Msg("reset recovered player")
		}
	}

	v := s.votingLocked(room.RoomID)
	for _, p := range room.Players {
		if p.IsAI {
			v.AddPlayer(p.ID, true)
		}
	}

	switch st := room.State.(type) {
	case models.CountdownState:
		if _, err := s.rooms.CancelCountdown(room.RoomID, v.State()); err != nil {
			log.Error().Err(err).Str("room", room.RoomID).Msg("reconcile countdown")
		}
	case models.PlayingState:
		roomID, gameID := room.RoomID, st.GameID
		s.after(func() { s.restoreGame(roomID, gameID) })
	case models.ResultsState:
		s.scheduleResultsLocked(room.RoomID)
	}
}

// HandleConnect records what the transport knows about a new connection.
// deviceHint is used when the client does not send its own device id.
func (s *SessionService) HandleConnect(connID, deviceHint string) {
	s.lock()
	defer s.unlock()
	s.devices[connID] = deviceHint
}

// IsBound reports whether connID still maps to a player.
func (s *SessionService) IsBound(connID string) bool {
	s.lock()
	defer s.unlock()
	_, ok := s.conns[connID]
	return ok
}

// HandleMessage decodes and dispatches one client message. Protocol errors
// go back to the sender only.
func (s *SessionService) HandleMessage(ctx context.Context, connID string, raw []byte) {
	var msg models.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		s.sendError(connID, models.NewProtocolError(models.CodeInvalidMessage, "malformed message"))
		return
	}

	var perr *models.ProtocolError
	switch msg.Type {
	case models.MsgJoin:
		perr = s.handleJoin(connID, msg.Payload)
	case models.MsgJoinMidGame:
		perr = s.handleJoinMidGame(ctx, connID, msg.Payload)
	case models.MsgRestoreSession:
		perr = s.handleRestoreSession(connID, msg.Payload)
	case models.MsgWatch:
		perr = s.handleWatch(connID, msg.Payload)
	case models.MsgHeartbeat:
		perr = s.handleHeartbeat(connID)
	case models.MsgVoteGame:
		perr = s.handleVote(connID, msg.Payload)
	case models.MsgReadyToggle:
		perr = s.handleReady(connID, msg.Payload)
	case models.MsgGameAction:
		perr = s.handleGameAction(ctx, connID, msg.Payload)
	case models.MsgGameQuit:
		perr = s.handleQuit(connID)
	case models.MsgAdminBoot:
		perr = s.handleAdminBoot(connID, msg.Payload)
	case models.MsgAdminLobby:
		perr = s.handleAdminLobby(connID)
	case models.MsgAdminHardReset:
		perr = s.handleAdminHardReset(connID)
	case models.MsgAdminConfig:
		perr = s.handleAdminConfig(connID, msg.Payload)
	case models.MsgAdminPause:
		perr = s.handleAdminPause(connID, true)
	case models.MsgAdminUnpause:
		perr = s.handleAdminPause(connID, false)
	default:
		perr = models.NewProtocolError(models.CodeInvalidMessage, "unknown message type "+msg.Type)
	}

	if perr != nil {
		log.Debug().Str("conn", connID).Str("type", msg.Type).Str("code", perr.Code).Msg(perr.Message)
		s.sendError(connID, perr)
	}
}

// HandleDisconnect marks the connection's player as disconnected without
// removing them. The connection mapping is kept so the transport can
// recover the session.
func (s *SessionService) HandleDisconnect(connID string) {
	s.lock()
	defer s.unlock()

	delete(s.devices, connID)
	if roomID, ok := s.watchers[connID]; ok {
		delete(s.watchers, connID)
		log.Debug().Str("conn", connID).Str("room", roomID).Msg("watcher left")
	}

	b, ok := s.conns[connID]
	if !ok {
		return
	}
	s.markDisconnectedLocked(b.RoomID, b.PlayerID, "player-disconnected")
}

func (s *SessionService) markDisconnectedLocked(roomID, playerID, reason string) {
	room, err := s.rooms.UpdatePlayer(roomID, playerID, func(p *models.Player) {
		p.IsConnected = false
	})
	if err != nil {
		log.Debug().Err(err).Str("room", roomID).Str("player", playerID).Msg("disconnect of unknown player")
		return
	}
	s.votingLocked(roomID).RemovePlayer(playerID)
	log.Info().Str("room", roomID).Str("player", playerID).Str("reason", reason).Msg("player disconnected")

	if room.Phase() == models.PhaseCountdown {
		s.cancelCountdownLocked(roomID, reason)
		return
	}
	s.syncLobbyLocked(roomID)
	s.broadcastRoomLocked(roomID)
	s.broadcastVotingLocked(roomID)
}

// Reconnect re-attaches a transport connection that still maps to a player.
func (s *SessionService) Reconnect(connID string) bool {
	s.lock()
	defer s.unlock()

	b, ok := s.conns[connID]
	if !ok {
		return false
	}
	return s.reconnectLocked(connID, b) == nil
}

func (s *SessionService) reconnectLocked(connID string, b binding) *models.ProtocolError {
	now := s.now().UnixMilli()
	room, err := s.rooms.UpdatePlayer(b.RoomID, b.PlayerID, func(p *models.Player) {
		p.IsConnected = true
		p.LastSeenAt = now
	})
	if err != nil {
		s.unbindLocked(connID)
		return protocolError(err)
	}
	player, _ := room.Player(b.PlayerID)
	s.votingLocked(b.RoomID).AddPlayer(b.PlayerID, player.IsAI)
	s.hub.Subscribe(connID, b.RoomID)

	s.hub.SendTo(connID, models.OutboundMessage{
		Type:    models.MsgSessionRestored,
		Payload: models.JoinSuccessPayload{Player: player, RoomState: room.Public()},
	})
	log.Info().Str("room", b.RoomID).Str("player", b.PlayerID).Str("conn", connID).Msg("player reconnected")

	s.syncLobbyLocked(b.RoomID)
	s.broadcastRoomLocked(b.RoomID)
	s.broadcastVotingLocked(b.RoomID)
	return nil
}

func (s *SessionService) bindLocked(connID, roomID, playerID string) {
	if old, ok := s.playerConns[playerID]; ok && old != connID {
		delete(s.conns, old)
		s.hub.Unsubscribe(old)
	}
	if prev, ok := s.conns[connID]; ok && prev.PlayerID != playerID {
		delete(s.playerConns, prev.PlayerID)
	}
	delete(s.watchers, connID)
	s.conns[connID] = binding{PlayerID: playerID, RoomID: roomID}
	s.playerConns[playerID] = connID
	s.hub.Subscribe(connID, roomID)
}

func (s *SessionService) unbindLocked(connID string) {
	b, ok := s.conns[connID]
	if !ok {
		return
	}
	delete(s.conns, connID)
	if s.playerConns[b.PlayerID] == connID {
		delete(s.playerConns, b.PlayerID)
	}
	s.hub.Unsubscribe(connID)
}

func (s *SessionService) unbindPlayerLocked(playerID string) {
	if connID, ok := s.playerConns[playerID]; ok {
		s.unbindLocked(connID)
	}
}

// resolveLocked returns the caller's binding and current player record.
func (s *SessionService) resolveLocked(connID string) (binding, *models.Room, models.Player, *models.ProtocolError) {
	b, ok := s.conns[connID]
	if !ok {
		return binding{}, nil, models.Player{}, models.NewProtocolError(models.CodeNotInRoom, "join a room first")
	}
	room := s.rooms.GetRoom(b.RoomID)
	if room == nil {
		s.unbindLocked(connID)
		return binding{}, nil, models.Player{}, models.NewProtocolError(models.CodeRoomNotFound, "room no longer exists")
	}
	player, ok := room.Player(b.PlayerID)
	if !ok {
		s.unbindLocked(connID)
		return binding{}, nil, models.Player{}, models.NewProtocolError(models.CodeNotInRoom, "you are no longer in this room")
	}
	return b, room, player, nil
}

// removePlayerLocked takes a player out of the room, the tally and the
// connection map.
func (s *SessionService) removePlayerLocked(roomID, playerID string) (*models.Room, error) {
	room, err := s.rooms.RemovePlayer(roomID, playerID)
	if err != nil {
		return nil, err
	}
	s.votingLocked(roomID).RemovePlayer(playerID)
	s.unbindPlayerLocked(playerID)
	return room, nil
}

// bootLocked removes a player and remembers their score for a rejoin under
// the same nickname.
func (s *SessionService) bootLocked(roomID, playerID, reason string) *models.Room {
	room := s.rooms.GetRoom(roomID)
	if room == nil {
		return nil
	}
	player, ok := room.Player(playerID)
	if !ok {
		return nil
	}
	s.bootCache[bootKey{roomID: roomID, nickname: strings.ToLower(player.Nickname)}] = player.Score

	if connID, ok := s.playerConns[playerID]; ok {
		s.hub.SendTo(connID, models.OutboundMessage{
			Type:    models.MsgBooted,
			Payload: models.BootedPayload{PlayerID: playerID, Reason: reason},
		})
	}
	room, err := s.removePlayerLocked(roomID, playerID)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Str("player", playerID).Msg("boot player")
		return nil
	}
	log.Info().Str("room", roomID).Str("player", playerID).Str("reason", reason).Msg("player booted")

	s.hub.BroadcastToRoom(roomID, models.OutboundMessage{
		Type:    models.MsgBooted,
		Payload: models.BootedPayload{PlayerID: playerID, Reason: reason},
	})
	s.afterPlayerLeftLocked(room, playerID, reason)
	return room
}

// afterPlayerLeftLocked keeps the lobby and the running game consistent
// with a roster that just shrank.
func (s *SessionService) afterPlayerLeftLocked(room *models.Room, playerID, reason string) {
	roomID := room.RoomID
	switch room.Phase() {
	case models.PhaseCountdown:
		s.cancelCountdownLocked(roomID, reason)
		return
	case models.PhasePlaying:
		if adapter, ok := s.games[roomID]; ok {
			ctx := s.ctx
			s.after(func() {
				updated, err := adapter.RemovePlayer(ctx, playerID)
				if err != nil {
					log.Debug().Err(err).Str("room", roomID).Str("player", playerID).Msg("module remove player")
					return
				}
				if updated != nil {
					s.withLock(func() { s.broadcastRoomLocked(roomID) })
				}
			})
		}
	}
	s.syncLobbyLocked(roomID)
	s.broadcastRoomLocked(roomID)
	s.broadcastVotingLocked(roomID)
	s.maybeStartCountdownLocked(roomID)
}

func (s *SessionService) votingLocked(roomID string) *VotingAggregator {
	v, ok := s.voting[roomID]
	if !ok {
		v = NewVotingAggregator(func() time.Time { return s.now() })
		s.voting[roomID] = v
	}
	return v
}

func (s *SessionService) syncLobbyLocked(roomID string) {
	v := s.votingLocked(roomID)
	if _, err := s.rooms.SyncLobby(roomID, v.State()); err != nil && !errors.Is(err, ErrRoomNotFound) {
		log.Error().Err(err).Str("room", roomID).Msg("sync lobby")
	}
}

func (s *SessionService) broadcastRoomLocked(roomID string) {
	room := s.rooms.GetRoom(roomID)
	if room == nil {
		return
	}
	s.hub.BroadcastToRoom(roomID, models.OutboundMessage{Type: models.MsgRoomState, Payload: room.Public()})
}

func (s *SessionService) broadcastVotingLocked(roomID string) {
	room := s.rooms.GetRoom(roomID)
	if room == nil || (room.Phase() != models.PhaseLobby && room.Phase() != models.PhaseCountdown) {
		return
	}
	s.hub.BroadcastToRoom(roomID, models.OutboundMessage{
		Type:    models.MsgVotingUpdate,
		Payload: s.votingLocked(roomID).State(),
	})
}

func (s *SessionService) sendError(connID string, perr *models.ProtocolError) {
	s.hub.SendTo(connID, models.OutboundMessage{Type: models.MsgError, Payload: perr})
}

// protocolError maps internal failures onto client-facing codes.
func protocolError(err error) *models.ProtocolError {
	var perr *models.ProtocolError
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, ErrRoomNotFound):
		return models.NewProtocolError(models.CodeRoomNotFound, "room not found")
	case errors.Is(err, ErrRoomFull):
		return models.NewProtocolError(models.CodeRoomFull, "room is full")
	case errors.Is(err, ErrPlayerNotFound):
		return models.NewProtocolError(models.CodePlayerNotFound, "player not found")
	case errors.Is(err, ErrInvalidTransition):
		return models.NewProtocolError(models.CodeWrongPhase, "not allowed in the current phase")
	case errors.Is(err, ErrMustVoteFirst):
		return models.NewProtocolError(models.CodeMustVoteFirst, "vote for a game first")
	case errors.Is(err, games.ErrUnknownGame):
		return models.NewProtocolError(models.CodeUnknownGame, "unknown game")
	case errors.Is(err, ErrLateJoinUnsupported):
		return models.NewProtocolError(models.CodeLateJoinUnsupported, "this game does not accept late joins")
	case errors.Is(err, games.ErrPaused):
		return models.NewProtocolError(models.CodeGameError, "game is paused")
	case errors.Is(err, ErrGameOver):
		return models.NewProtocolError(models.CodeWrongPhase, "game is over")
	default:
		log.Error().Err(err).Msg("internal error")
		return models.NewProtocolError(models.CodeInternal, "internal error")
	}
}

func wrongPhase(want ...models.Phase) *models.ProtocolError {
	names := make([]string, len(want))
	for i, p := range want {
		names[i] = string(p)
	}
	return models.NewProtocolError(models.CodeWrongPhase, "requires phase "+strings.Join(names, " or "))
}

func decodePayload(raw json.RawMessage, v any) *models.ProtocolError {
	if len(raw) == 0 {
		return models.NewProtocolError(models.CodeInvalidMessage, "missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return models.NewProtocolError(models.CodeInvalidMessage, "malformed payload")
	}
	return nil
}
