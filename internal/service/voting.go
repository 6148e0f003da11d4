package service

import (
	"errors"
	"sync"
	"time"

	"jkbox/internal/models"
)

var ErrMustVoteFirst = errors.New("must vote before readying up")

type voter struct {
	isAI  bool
	vote  *models.GameVote
	ready bool
}

// VotingAggregator tallies lobby votes and readiness for one room. Players
// are kept in join order so snapshots are deterministic.
type VotingAggregator struct {
	mu      sync.Mutex
	order   []string
	players map[string]*voter
	now     func() time.Time
}

// NewVotingAggregator returns an empty tally. now stamps each vote.
func NewVotingAggregator(now func() time.Time) *VotingAggregator {
	if now == nil {
		now = time.Now
	}
	return &VotingAggregator{
		players: make(map[string]*voter),
		now:     now,
	}
}

// AddPlayer registers a player with no vote. Adding a known id is a no-op.
func (v *VotingAggregator) AddPlayer(playerID string, isAI bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.players[playerID]; ok {
		return
	}
	v.order = append(v.order, playerID)
	v.players[playerID] = &voter{isAI: isAI}
}

// RemovePlayer drops the player together with their vote.
func (v *VotingAggregator) RemovePlayer(playerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.players[playerID]; !ok {
		return
	}
	delete(v.players, playerID)
	for i, id := range v.order {
		if id == playerID {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

func (v *VotingAggregator) Has(playerID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.players[playerID]
	return ok
}

// SubmitVote records or replaces a vote. Unknown players are registered
// on the fly as humans.
func (v *VotingAggregator) SubmitVote(playerID, gameID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.players[playerID]
	if !ok {
		p = &voter{}
		v.order = append(v.order, playerID)
		v.players[playerID] = p
	}
	p.vote = &models.GameVote{
		PlayerID:  playerID,
		GameID:    gameID,
		Timestamp: v.now().UnixMilli(),
	}
}

// ToggleReady flips readiness. A player without a vote cannot become ready.
func (v *VotingAggregator) ToggleReady(playerID string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.players[playerID]
	if !ok || p.vote == nil {
		return false, ErrMustVoteFirst
	}
	p.ready = !p.ready
	return p.ready, nil
}

// SetReady forces readiness to a value, subject to the same vote rule.
func (v *VotingAggregator) SetReady(playerID string, ready bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.players[playerID]
	if !ok || (ready && p.vote == nil) {
		return ErrMustVoteFirst
	}
	p.ready = ready
	return nil
}

// Reset clears every vote and ready flag but keeps the roster.
func (v *VotingAggregator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range v.players {
		p.vote = nil
		p.ready = false
	}
}

// State returns a snapshot of the tally.
func (v *VotingAggregator) State() models.VotingState {
	v.mu.Lock()
	defer v.mu.Unlock()

	state := models.VotingState{
		GameVotes:   []models.GameVote{},
		ReadyStates: make([]models.PlayerReadyState, 0, len(v.order)),
		VoteCounts:  map[string]int{},
	}

	humans := 0
	allReady := true
	for _, id := range v.order {
		p := v.players[id]
		if p.vote != nil {
			state.GameVotes = append(state.GameVotes, *p.vote)
			state.VoteCounts[p.vote.GameID]++
		}
		state.ReadyStates = append(state.ReadyStates, models.PlayerReadyState{
			PlayerID: id,
			HasVoted: p.vote != nil,
			IsReady:  p.ready,
		})
		if p.isAI {
			continue
		}
		humans++
		if !p.ready {
			allReady = false
		}
	}

	state.SelectedGame = selectGame(state.VoteCounts)
	state.AllReady = humans > 0 && allReady
	return state
}

// selectGame returns the unique plurality winner, or "" on a tie or no votes.
func selectGame(counts map[string]int) string {
	best, bestCount, tied := "", 0, false
	for game, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tied = game, n, false
		case n == bestCount:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return best
}
