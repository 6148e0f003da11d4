package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"

	"jkbox/internal/models"
	"jkbox/internal/phase"
	"jkbox/internal/repository"
	"jkbox/internal/utils"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room full")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

const DefaultMaxPlayers = 12

// RoomManager owns the authoritative room map. Every mutation is written to
// the repository before it becomes visible in memory.
type RoomManager struct {
	mu         sync.RWMutex
	rooms      map[string]*models.Room
	updatedAt  map[string]time.Time
	repo       repository.RoomRepository
	maxPlayers int
	codeLength int
	now        func() time.Time
}

// RoomManagerOptions tunes a RoomManager. Zero values pick the defaults.
type RoomManagerOptions struct {
	MaxPlayers int
	CodeLength int
	Now        func() time.Time
}

// NewRoomManager returns an empty manager backed by repo. Call Recover to
// load persisted rooms.
func NewRoomManager(repo repository.RoomRepository, opts RoomManagerOptions) *RoomManager {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = DefaultMaxPlayers
	}
	if opts.CodeLength <= 0 {
		opts.CodeLength = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RoomManager{
		rooms:      make(map[string]*models.Room),
		updatedAt:  make(map[string]time.Time),
		repo:       repo,
		maxPlayers: opts.MaxPlayers,
		codeLength: opts.CodeLength,
		now:        opts.Now,
	}
}

// Recover loads persisted rooms when the newest write is younger than
// staleness; otherwise the store is wiped and the manager starts empty.
func (m *RoomManager) Recover(staleness time.Duration) (int, error) {
	last, ok, err := m.repo.LastUpdated()
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	if !ok {
		return 0, nil
	}

	age := m.now().Sub(last)
	if age > staleness {
		log.Warn().Dur("age", age).Dur("threshold", staleness).Msg("persisted rooms are stale, starting clean")
		if err := m.repo.DeleteAll(); err != nil {
			return 0, fmt.Errorf("wipe stale rooms: %w", err)
		}
		return 0, nil
	}

	records, err := m.repo.FindAll()
	if err != nil {
		return 0, fmt.Errorf("load rooms: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		var room models.Room
		if err := json.Unmarshal(rec.State, &room); err != nil {
			log.Error().Err(err).Str("room", rec.RoomID).Msg("skipping unreadable room")
			continue
		}
		m.rooms[room.RoomID] = &room
		m.updatedAt[room.RoomID] = rec.UpdatedAt
	}
	log.Info().Int("rooms", len(m.rooms)).Dur("age", age).Msg("recovered rooms")
	return len(m.rooms), nil
}

func (m *RoomManager) nowMillis() int64 {
	return m.now().UnixMilli()
}

// persistLocked writes the room then installs it. Callers hold m.mu.
func (m *RoomManager) persistLocked(room *models.Room) error {
	state, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.RoomID, err)
	}
	rec := &models.RoomRecord{
		RoomID:    room.RoomID,
		Phase:     string(room.Phase()),
		State:     datatypes.JSON(state),
		CreatedAt: time.UnixMilli(room.CreatedAt).UTC(),
		UpdatedAt: m.now().UTC(),
	}
	if err := m.repo.Save(rec); err != nil {
		return fmt.Errorf("persist room %s: %w", room.RoomID, err)
	}
	m.rooms[room.RoomID] = room
	m.updatedAt[room.RoomID] = rec.UpdatedAt
	return nil
}

// CreateRoom makes a new room in the title phase.
func (m *RoomManager) CreateRoom() (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var code string
	for {
		code = utils.RoomCode(m.codeLength)
		if _, exists := m.rooms[code]; !exists {
			break
		}
	}

	room := &models.Room{
		RoomID:    code,
		Players:   []models.Player{},
		CreatedAt: m.nowMillis(),
		State:     models.TitleState{},
	}
	if err := m.persistLocked(room); err != nil {
		return nil, err
	}
	log.Info().Str("room", code).Msg("room created")
	return room.Clone(), nil
}

// GetRoom returns a copy of the room or nil.
func (m *RoomManager) GetRoom(roomID string) *models.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID].Clone()
}

// GetRoomByPlayerID returns a copy of the room the player sits in, or nil.
func (m *RoomManager) GetRoomByPlayerID(playerID string) *models.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, room := range m.rooms {
		if room.FindPlayer(playerID) >= 0 {
			return room.Clone()
		}
	}
	return nil
}

// Rooms returns copies of every room.
func (m *RoomManager) Rooms() []*models.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]*models.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room.Clone())
	}
	return rooms
}

// UpdateRoomState replaces the whole room. Nothing is merged.
func (m *RoomManager) UpdateRoomState(roomID string, newRoom *models.Room) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return nil, ErrRoomNotFound
	}
	if newRoom.RoomID != roomID {
		return nil, fmt.Errorf("room id mismatch: %s != %s", newRoom.RoomID, roomID)
	}
	room := newRoom.Clone()
	if err := m.persistLocked(room); err != nil {
		return nil, err
	}
	return room.Clone(), nil
}

// mutate runs fn on a private copy and installs the result.
func (m *RoomManager) mutate(roomID string, fn func(room *models.Room) error) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room := current.Clone()
	if err := fn(room); err != nil {
		return nil, err
	}
	if err := m.persistLocked(room); err != nil {
		return nil, err
	}
	return room.Clone(), nil
}

// transition moves the room along the room phase table.
func (m *RoomManager) transition(roomID string, event phase.RoomEvent, build func(room *models.Room) models.PhaseState) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		res := phase.NextRoomPhase(room.Phase(), event)
		if !res.Valid {
			return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, room.Phase())
		}
		state := build(room)
		if state.Phase() != res.Next {
			return fmt.Errorf("%w: built %s, table says %s", ErrInvalidTransition, state.Phase(), res.Next)
		}
		room.State = state
		return nil
	})
}

// AddPlayer appends player unless the room is missing or full.
func (m *RoomManager) AddPlayer(roomID string, player models.Player) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		if len(room.Players) >= m.maxPlayers {
			return ErrRoomFull
		}
		if !player.IsAI {
			hasHost := false
			for _, p := range room.Players {
				if p.IsHost {
					hasHost = true
					break
				}
			}
			player.IsHost = !hasHost
		}
		room.Players = append(room.Players, player)
		return nil
	})
}

// RemovePlayer drops the player and promotes a new host when needed.
func (m *RoomManager) RemovePlayer(roomID, playerID string) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		i := room.FindPlayer(playerID)
		if i < 0 {
			return ErrPlayerNotFound
		}
		wasHost := room.Players[i].IsHost
		room.Players = append(room.Players[:i], room.Players[i+1:]...)
		if wasHost {
			for j := range room.Players {
				if !room.Players[j].IsAI {
					room.Players[j].IsHost = true
					break
				}
			}
		}
		return nil
	})
}

// ReplacePlayer puts player into oldID's seat. The newcomer inherits the
// seat's host flag and score.
func (m *RoomManager) ReplacePlayer(roomID, oldID string, player models.Player) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		i := room.FindPlayer(oldID)
		if i < 0 {
			return ErrPlayerNotFound
		}
		player.IsHost = room.Players[i].IsHost
		player.Score = room.Players[i].Score
		room.Players[i] = player
		return nil
	})
}

// UpdatePlayer applies fn to one player.
func (m *RoomManager) UpdatePlayer(roomID, playerID string, fn func(p *models.Player)) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		i := room.FindPlayer(playerID)
		if i < 0 {
			return ErrPlayerNotFound
		}
		fn(&room.Players[i])
		return nil
	})
}

// SetPaused sets the room's pause flag. Game modules read it live.
func (m *RoomManager) SetPaused(roomID string, paused bool) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		room.Paused = paused
		return nil
	})
}

// UpdateConfig replaces the config and adds or removes AI players to match
// cfg.AIPlayers, within capacity.
func (m *RoomManager) UpdateConfig(roomID string, cfg models.RoomConfig) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		if cfg.AIPlayers < 0 {
			cfg.AIPlayers = 0
		}
		ai := 0
		for _, p := range room.Players {
			if p.IsAI {
				ai++
			}
		}
		for ai > cfg.AIPlayers {
			for i := len(room.Players) - 1; i >= 0; i-- {
				if room.Players[i].IsAI {
					room.Players = append(room.Players[:i], room.Players[i+1:]...)
					break
				}
			}
			ai--
		}
		now := m.nowMillis()
		for ai < cfg.AIPlayers && len(room.Players) < m.maxPlayers {
			ai++
			room.Players = append(room.Players, models.Player{
				ID:          "ai-" + utils.RandomID(),
				Nickname:    fmt.Sprintf("AI %d", ai),
				IsAI:        true,
				IsConnected: true,
				ConnectedAt: now,
				LastSeenAt:  now,
			})
		}
		cfg.AIPlayers = ai
		room.Config = cfg
		return nil
	})
}

// SyncLobby mirrors the voting tally into the lobby variant. Other phases
// are left alone.
func (m *RoomManager) SyncLobby(roomID string, voting models.VotingState) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		if room.Phase() != models.PhaseLobby {
			return nil
		}
		room.State = models.LobbyState{
			GameVotes:    voting.GameVotes,
			ReadyStates:  voting.ReadyStates,
			SelectedGame: voting.SelectedGame,
		}
		return nil
	})
}

// TransitionTitleToLobby opens the lobby when the first player arrives.
func (m *RoomManager) TransitionTitleToLobby(roomID string) (*models.Room, error) {
	return m.transition(roomID, phase.PlayersArrived, func(*models.Room) models.PhaseState {
		return models.LobbyState{}
	})
}

// StartCountdown moves lobby → countdown for the selected game.
func (m *RoomManager) StartCountdown(roomID, selectedGame string, seconds int) (*models.Room, error) {
	return m.transition(roomID, phase.CountdownStarted, func(*models.Room) models.PhaseState {
		return models.CountdownState{SelectedGame: selectedGame, SecondsRemaining: seconds}
	})
}

// SetCountdownRemaining updates the tick value; it fails outside countdown.
func (m *RoomManager) SetCountdownRemaining(roomID string, seconds int) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		cd, ok := room.State.(models.CountdownState)
		if !ok {
			return fmt.Errorf("%w: countdown tick in %s", ErrInvalidTransition, room.Phase())
		}
		cd.SecondsRemaining = seconds
		room.State = cd
		return nil
	})
}

// CancelCountdown returns to the lobby, keeping the given tally.
func (m *RoomManager) CancelCountdown(roomID string, voting models.VotingState) (*models.Room, error) {
	return m.transition(roomID, phase.CountdownCanceled, func(*models.Room) models.PhaseState {
		return models.LobbyState{
			GameVotes:    voting.GameVotes,
			ReadyStates:  voting.ReadyStates,
			SelectedGame: voting.SelectedGame,
		}
	})
}

// StartGame moves countdown → playing with the module's initial state.
func (m *RoomManager) StartGame(roomID, gameID string, gameState json.RawMessage) (*models.Room, error) {
	return m.transition(roomID, phase.CountdownFinished, func(*models.Room) models.PhaseState {
		return models.PlayingState{GameID: gameID, GameState: compactJSON(gameState)}
	})
}

// SetGameState replaces the module state of a playing room.
func (m *RoomManager) SetGameState(roomID, gameID string, gameState json.RawMessage) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		ps, ok := room.State.(models.PlayingState)
		if !ok || ps.GameID != gameID {
			return fmt.Errorf("%w: game state for %s in %s", ErrInvalidTransition, gameID, room.Phase())
		}
		ps.GameState = compactJSON(gameState)
		room.State = ps
		return nil
	})
}

// TransitionToResults is called from a game module's completion. A room
// that is not playing is a precondition failure: it is logged and nil is
// returned.
func (m *RoomManager) TransitionToResults(roomID string, results models.GameResults) *models.Room {
	room, err := m.mutate(roomID, func(room *models.Room) error {
		ps, ok := room.State.(models.PlayingState)
		if !ok {
			return fmt.Errorf("%w: results from %s", ErrInvalidTransition, room.Phase())
		}
		res := phase.NextRoomPhase(room.Phase(), phase.GameCompleted)
		if !res.Valid {
			return ErrInvalidTransition
		}

		for i := range room.Players {
			room.Players[i].Score += results.Scores[room.Players[i].ID]
		}
		rs := models.ResultsState{
			GameID:  ps.GameID,
			Winners: results.Winners,
			Scores:  results.Scores,
		}
		if len(results.Achievements) > 0 {
			rs.Achievements = results.Achievements
		}
		if rs.Winners == nil {
			rs.Winners = []string{}
		}
		if rs.Scores == nil {
			rs.Scores = map[string]int{}
		}
		room.State = rs
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("transition to results rejected")
		return nil
	}
	return room
}

// TransitionResultsToLobby leaves the results screen for a fresh lobby.
func (m *RoomManager) TransitionResultsToLobby(roomID string) (*models.Room, error) {
	return m.transition(roomID, phase.ResultsFinished, func(*models.Room) models.PhaseState {
		return models.LobbyState{}
	})
}

// ForceLobby drops whatever phase the room is in and returns to an empty lobby.
func (m *RoomManager) ForceLobby(roomID string) (*models.Room, error) {
	return m.transition(roomID, phase.ForceLobby, func(*models.Room) models.PhaseState {
		return models.LobbyState{}
	})
}

// HardReset clears every player and returns the room to title.
func (m *RoomManager) HardReset(roomID string) (*models.Room, error) {
	return m.mutate(roomID, func(room *models.Room) error {
		res := phase.NextRoomPhase(room.Phase(), phase.HardReset)
		if !res.Valid {
			return ErrInvalidTransition
		}
		room.Players = []models.Player{}
		room.Paused = false
		room.Config.AIPlayers = 0
		room.State = models.TitleState{}
		return nil
	})
}

// IdleRooms lists rooms without human players that nothing has written to
// for at least idleFor.
func (m *RoomManager) IdleRooms(idleFor time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-idleFor)
	var ids []string
	for id, room := range m.rooms {
		if len(room.HumanPlayers()) == 0 && !m.updatedAt[id].After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// DeleteRoom forgets the room in memory and in the store.
func (m *RoomManager) DeleteRoom(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.repo.Delete(roomID); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	delete(m.rooms, roomID)
	delete(m.updatedAt, roomID)
	return nil
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}
