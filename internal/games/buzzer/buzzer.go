// Package buzzer is a host-judged buzz-in quiz. The host reads a question
// aloud, players race to buzz, and the host marks the answer.
package buzzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"jkbox/internal/games"
	"jkbox/internal/models"
)

const (
	ID = "buzzer"

	defaultRounds = 5
	maxHints      = 2
)

var (
	ErrInvalidAction = errors.New("action not allowed now")
	ErrNotHost       = errors.New("only the host can do that")
)

var Info = games.Info{
	ID:          ID,
	Name:        "Buzzer",
	Description: "The host asks, the fastest finger answers.",
	MinPlayers:  2,
}

type State struct {
	Phase       Phase          `json:"phase"`
	Round       int            `json:"round"`
	TotalRounds int            `json:"totalRounds"`
	HostID      string         `json:"hostId"`
	Players     []string       `json:"players"`
	Scores      map[string]int `json:"scores"`
	BuzzedBy    string         `json:"buzzedBy,omitempty"`
	LockedOut   []string       `json:"lockedOut,omitempty"`
	HintsShown  int            `json:"hintsShown"`
}

type Action struct {
	Kind Event `json:"kind"`
}

type Module struct {
	mu   sync.Mutex
	host games.Host
	done bool
}

// New returns a module ready to Initialize or Restore.
func New() games.Module {
	return &Module{}
}

func (m *Module) Initialize(_ context.Context, setup games.Setup, host games.Host) (json.RawMessage, error) {
	m.mu.Lock()
	m.host = host
	m.mu.Unlock()

	rounds := setup.Config.Rounds
	if rounds <= 0 {
		rounds = defaultRounds
	}

	st := State{
		Phase:       PhaseIntro,
		TotalRounds: rounds,
		Scores:      make(map[string]int),
	}
	for _, p := range setup.Players {
		if p.IsAI {
			continue
		}
		if p.IsHost && st.HostID == "" {
			st.HostID = p.ID
			continue
		}
		st.Players = append(st.Players, p.ID)
		st.Scores[p.ID] = 0
	}
	if st.HostID == "" && len(st.Players) > 0 {
		st.HostID = st.Players[0]
		st.Players = st.Players[1:]
		delete(st.Scores, st.HostID)
	}
	return json.Marshal(st)
}

func (m *Module) Restore(_ context.Context, _ games.Setup, host games.Host, state json.RawMessage) error {
	var st State
	if err := json.Unmarshal(state, &st); err != nil {
		return fmt.Errorf("buzzer: restore: %w", err)
	}
	m.mu.Lock()
	m.host = host
	m.done = st.Phase == PhaseFinale
	m.mu.Unlock()
	return nil
}

func (m *Module) HandleAction(_ context.Context, playerID string, raw json.RawMessage, state json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	host := m.host
	if host != nil && host.IsPaused() {
		m.mu.Unlock()
		return state, games.ErrPaused
	}

	next, st, err := m.step(playerID, raw, state)
	if err != nil {
		m.mu.Unlock()
		return state, err
	}

	finished := st.Phase == PhaseFinale && !m.done && host != nil
	if finished {
		m.done = true
	}
	m.mu.Unlock()

	// Complete re-enters the room; it must not run under m.mu.
	if finished {
		host.Complete(results(st))
	}
	return next, nil
}

func (m *Module) step(playerID string, raw json.RawMessage, state json.RawMessage) (json.RawMessage, State, error) {
	var action Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return nil, State{}, fmt.Errorf("buzzer: bad action: %w", err)
	}
	var st State
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, State{}, fmt.Errorf("buzzer: bad state: %w", err)
	}
	if st.Scores == nil {
		st.Scores = make(map[string]int)
	}

	if err := m.apply(&st, playerID, action.Kind); err != nil {
		return nil, State{}, err
	}

	next, err := json.Marshal(st)
	if err != nil {
		return nil, State{}, err
	}
	return next, st, nil
}

func (m *Module) apply(st *State, playerID string, kind Event) error {
	isHost := playerID == st.HostID
	counters := Counters{
		Round:       st.Round,
		TotalRounds: st.TotalRounds,
		HintsShown:  st.HintsShown,
		MaxHints:    maxHints,
		Remaining:   st.remaining(),
	}

	switch kind {
	case EventBuzz:
		if isHost || !slices.Contains(st.Players, playerID) || slices.Contains(st.LockedOut, playerID) {
			return ErrInvalidAction
		}
	case EventStart, EventNext:
		if !isHost {
			return ErrNotHost
		}
		counters.Round++
	case EventHint:
		if !isHost {
			return ErrNotHost
		}
		counters.HintsShown++
	case EventWrong:
		if !isHost {
			return ErrNotHost
		}
		counters.Remaining = st.remainingWithout(st.BuzzedBy)
	case EventCorrect, EventSkip:
		if !isHost {
			return ErrNotHost
		}
	default:
		return ErrInvalidAction
	}

	res := Table.Transition(st.Phase, kind, counters)
	if !res.Valid {
		return ErrInvalidAction
	}

	switch kind {
	case EventBuzz:
		st.BuzzedBy = playerID
	case EventCorrect:
		st.Scores[st.BuzzedBy]++
		st.BuzzedBy = ""
	case EventWrong:
		st.LockedOut = append(st.LockedOut, st.BuzzedBy)
		st.BuzzedBy = ""
	case EventHint:
		st.HintsShown = counters.HintsShown
	}

	if res.Next == PhasePrompt && (kind == EventStart || kind == EventNext) {
		st.Round = counters.Round
		st.LockedOut = nil
		st.HintsShown = 0
	}
	st.Phase = res.Next
	return nil
}

func (m *Module) AddPlayer(_ context.Context, player models.Player, state json.RawMessage) (json.RawMessage, error) {
	var st State
	if err := json.Unmarshal(state, &st); err != nil {
		return state, fmt.Errorf("buzzer: bad state: %w", err)
	}
	if player.IsAI || slices.Contains(st.Players, player.ID) || player.ID == st.HostID {
		return state, nil
	}
	if st.Scores == nil {
		st.Scores = make(map[string]int)
	}
	st.Players = append(st.Players, player.ID)
	st.Scores[player.ID] = 0
	return json.Marshal(st)
}

func (m *Module) RemovePlayer(playerID string, state json.RawMessage) (json.RawMessage, error) {
	var st State
	if err := json.Unmarshal(state, &st); err != nil {
		return state, fmt.Errorf("buzzer: bad state: %w", err)
	}
	st.Players = slices.DeleteFunc(st.Players, func(id string) bool { return id == playerID })
	if st.BuzzedBy == playerID {
		res := Table.Transition(st.Phase, EventWrong, Counters{Remaining: st.remainingWithout(playerID)})
		if res.Valid {
			st.Phase = res.Next
		}
		st.BuzzedBy = ""
	}
	return json.Marshal(st)
}

func (m *Module) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = true
	m.host = nil
	log.Debug().Str("game", ID).Msg("module cleaned up")
}

func (st *State) remaining() int {
	n := 0
	for _, id := range st.Players {
		if !slices.Contains(st.LockedOut, id) {
			n++
		}
	}
	return n
}

func (st *State) remainingWithout(playerID string) int {
	n := 0
	for _, id := range st.Players {
		if id != playerID && !slices.Contains(st.LockedOut, id) {
			n++
		}
	}
	return n
}

func results(st State) models.GameResults {
	best := -1
	for _, s := range st.Scores {
		if s > best {
			best = s
		}
	}
	var winners []string
	for id, s := range st.Scores {
		if s == best && best > 0 {
			winners = append(winners, id)
		}
	}
	sort.Strings(winners)

	scores := make(map[string]int, len(st.Scores))
	for id, s := range st.Scores {
		scores[id] = s
	}
	return models.GameResults{Winners: winners, Scores: scores}
}
