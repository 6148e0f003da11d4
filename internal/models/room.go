package models

import (
	"encoding/json"
	"fmt"
)

// Phase is the coarse state of a room.
type Phase string

const (
	PhaseTitle     Phase = "title"
	PhaseLobby     Phase = "lobby"
	PhaseCountdown Phase = "countdown"
	PhasePlaying   Phase = "playing"
	PhaseResults   Phase = "results"
)

// RoomConfig holds the admin-tunable knobs of a room.
type RoomConfig struct {
	AIPlayers int `json:"aiPlayers"`
	Rounds    int `json:"rounds"`
}

// Room is one party-game session. Everything phase specific lives in State,
// and a transition always installs a brand new Room value.
type Room struct {
	RoomID    string
	Players   []Player
	Config    RoomConfig
	Paused    bool
	CreatedAt int64
	State     PhaseState
}

// PhaseState is implemented by exactly the five phase variants below.
type PhaseState interface {
	Phase() Phase
	clone() PhaseState
}

type TitleState struct{}

type LobbyState struct {
	GameVotes    []GameVote         `json:"gameVotes"`
	ReadyStates  []PlayerReadyState `json:"readyStates"`
	SelectedGame string             `json:"selectedGame,omitempty"`
}

type CountdownState struct {
	SelectedGame     string `json:"selectedGame"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

type PlayingState struct {
	GameID    string          `json:"gameId"`
	GameState json.RawMessage `json:"gameState,omitempty"`
}

type ResultsState struct {
	GameID       string         `json:"gameId"`
	Winners      []string       `json:"winners"`
	Scores       map[string]int `json:"scores"`
	Achievements []Achievement  `json:"achievements,omitempty"`
}

func (TitleState) Phase() Phase     { return PhaseTitle }
func (LobbyState) Phase() Phase     { return PhaseLobby }
func (CountdownState) Phase() Phase { return PhaseCountdown }
func (PlayingState) Phase() Phase   { return PhasePlaying }
func (ResultsState) Phase() Phase   { return PhaseResults }

func (s TitleState) clone() PhaseState { return s }

func (s LobbyState) clone() PhaseState {
	if s.GameVotes != nil {
		s.GameVotes = append([]GameVote(nil), s.GameVotes...)
	}
	if s.ReadyStates != nil {
		s.ReadyStates = append([]PlayerReadyState(nil), s.ReadyStates...)
	}
	return s
}

func (s CountdownState) clone() PhaseState { return s }

func (s PlayingState) clone() PhaseState {
	if s.GameState != nil {
		s.GameState = append(json.RawMessage(nil), s.GameState...)
	}
	return s
}

func (s ResultsState) clone() PhaseState {
	if s.Winners != nil {
		s.Winners = append([]string(nil), s.Winners...)
	}
	if s.Scores != nil {
		scores := make(map[string]int, len(s.Scores))
		for k, v := range s.Scores {
			scores[k] = v
		}
		s.Scores = scores
	}
	if s.Achievements != nil {
		s.Achievements = append([]Achievement(nil), s.Achievements...)
	}
	return s
}

// Achievement is a named award handed out by a game module.
type Achievement struct {
	PlayerID string `json:"playerId"`
	Title    string `json:"title"`
}

// GameResults is what a game module reports when it completes.
type GameResults struct {
	Winners      []string       `json:"winners"`
	Scores       map[string]int `json:"scores"`
	Achievements []Achievement  `json:"achievements,omitempty"`
}

// Phase returns the phase of the room's current variant.
func (r *Room) Phase() Phase {
	if r.State == nil {
		return PhaseTitle
	}
	return r.State.Phase()
}

// Clone returns a deep copy; callers may mutate it freely.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.Players != nil {
		c.Players = append([]Player(nil), r.Players...)
	}
	if r.State != nil {
		c.State = r.State.clone()
	}
	return &c
}

// FindPlayer returns the index of the player or -1.
func (r *Room) FindPlayer(playerID string) int {
	for i := range r.Players {
		if r.Players[i].ID == playerID {
			return i
		}
	}
	return -1
}

// Player returns a copy of the player with the given id.
func (r *Room) Player(playerID string) (Player, bool) {
	if i := r.FindPlayer(playerID); i >= 0 {
		return r.Players[i], true
	}
	return Player{}, false
}

// HumanPlayers returns every non-AI player.
func (r *Room) HumanPlayers() []Player {
	humans := make([]Player, 0, len(r.Players))
	for _, p := range r.Players {
		if !p.IsAI {
			humans = append(humans, p)
		}
	}
	return humans
}

// Public returns a copy safe to broadcast: session tokens are removed.
func (r *Room) Public() *Room {
	c := r.Clone()
	for i := range c.Players {
		c.Players[i].SessionToken = ""
	}
	return c
}

type roomJSON struct {
	Phase     Phase           `json:"phase"`
	RoomID    string          `json:"roomId"`
	Players   []Player        `json:"players"`
	Config    RoomConfig      `json:"config"`
	Paused    bool            `json:"paused"`
	CreatedAt int64           `json:"createdAt"`
	State     json.RawMessage `json:"state"`
}

func (r Room) MarshalJSON() ([]byte, error) {
	state := r.State
	if state == nil {
		state = TitleState{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(roomJSON{
		Phase:     state.Phase(),
		RoomID:    r.RoomID,
		Players:   r.Players,
		Config:    r.Config,
		Paused:    r.Paused,
		CreatedAt: r.CreatedAt,
		State:     raw,
	})
}

func (r *Room) UnmarshalJSON(data []byte) error {
	var aux roomJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var state PhaseState
	switch aux.Phase {
	case PhaseTitle:
		state = TitleState{}
	case PhaseLobby:
		var s LobbyState
		if err := decodeState(aux.State, &s); err != nil {
			return err
		}
		state = s
	case PhaseCountdown:
		var s CountdownState
		if err := decodeState(aux.State, &s); err != nil {
			return err
		}
		state = s
	case PhasePlaying:
		var s PlayingState
		if err := decodeState(aux.State, &s); err != nil {
			return err
		}
		state = s
	case PhaseResults:
		var s ResultsState
		if err := decodeState(aux.State, &s); err != nil {
			return err
		}
		state = s
	default:
		return fmt.Errorf("unknown room phase %q", aux.Phase)
	}

	*r = Room{
		RoomID:    aux.RoomID,
		Players:   aux.Players,
		Config:    aux.Config,
		Paused:    aux.Paused,
		CreatedAt: aux.CreatedAt,
		State:     state,
	}
	return nil
}

func decodeState(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode room state: %w", err)
	}
	return nil
}
