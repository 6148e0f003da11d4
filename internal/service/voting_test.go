package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jkbox/internal/models"
)

func TestSelectedGame(t *testing.T) {
	tests := []struct {
		name  string
		votes map[string]string
		want  string
	}{
		{"no votes", map[string]string{}, ""},
		{"single vote", map[string]string{"a": "A"}, "A"},
		{"clear winner", map[string]string{"a": "A", "b": "A", "c": "B"}, "A"},
		{"two way tie", map[string]string{"a": "A", "b": "B"}, ""},
		{"three way tie", map[string]string{"a": "A", "b": "B", "c": "C"}, ""},
		{"tie below the leader", map[string]string{"a": "A", "b": "A", "c": "B", "d": "C"}, "A"},
		{"tie at the top", map[string]string{"a": "A", "b": "A", "c": "B", "d": "B", "e": "C"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVotingAggregator(nil)
			for player, game := range tt.votes {
				v.AddPlayer(player, false)
				v.SubmitVote(player, game)
			}
			assert.Equal(t, tt.want, v.State().SelectedGame)
		})
	}
}

func TestReadyRequiresVote(t *testing.T) {
	v := NewVotingAggregator(nil)
	v.AddPlayer("a", false)

	_, err := v.ToggleReady("a")
	assert.ErrorIs(t, err, ErrMustVoteFirst)
	assert.ErrorIs(t, v.SetReady("a", true), ErrMustVoteFirst)
	assert.ErrorIs(t, v.SetReady("ghost", true), ErrMustVoteFirst)

	v.SubmitVote("a", "A")
	ready, err := v.ToggleReady("a")
	require.NoError(t, err)
	assert.True(t, ready)

	ready, err = v.ToggleReady("a")
	require.NoError(t, err)
	assert.False(t, ready)

	ready, err = v.ToggleReady("a")
	require.NoError(t, err)
	assert.True(t, ready)

	st := v.State()
	require.Len(t, st.GameVotes, 1)
	assert.Equal(t, "A", st.GameVotes[0].GameID)
}

func TestRevoteKeepsReadiness(t *testing.T) {
	v := NewVotingAggregator(nil)
	v.AddPlayer("a", false)
	v.SubmitVote("a", "A")
	require.NoError(t, v.SetReady("a", true))

	v.SubmitVote("a", "B")

	st := v.State()
	assert.Equal(t, "B", st.SelectedGame)
	assert.True(t, st.ReadyStates[0].IsReady)
	assert.True(t, st.AllReady)
}

func TestAllReadyIgnoresAI(t *testing.T) {
	v := NewVotingAggregator(nil)
	v.AddPlayer("bot1", true)
	v.AddPlayer("bot2", true)
	assert.False(t, v.State().AllReady, "no humans, never ready")

	v.AddPlayer("a", false)
	assert.False(t, v.State().AllReady)

	v.SubmitVote("a", "A")
	require.NoError(t, v.SetReady("a", true))
	assert.True(t, v.State().AllReady)

	v.AddPlayer("b", false)
	assert.False(t, v.State().AllReady)
}

func TestRemoveAndReset(t *testing.T) {
	v := NewVotingAggregator(nil)
	v.AddPlayer("a", false)
	v.AddPlayer("b", false)
	v.SubmitVote("a", "A")
	v.SubmitVote("b", "B")
	require.NoError(t, v.SetReady("a", true))

	v.RemovePlayer("b")
	st := v.State()
	assert.Equal(t, "A", st.SelectedGame)
	assert.Len(t, st.ReadyStates, 1)
	assert.False(t, v.Has("b"))

	v.Reset()
	st = v.State()
	assert.Empty(t, st.GameVotes)
	assert.Empty(t, st.SelectedGame)
	assert.Equal(t, []string{"a"}, readyIDs(st.ReadyStates))
	assert.False(t, st.ReadyStates[0].IsReady)
	assert.False(t, st.ReadyStates[0].HasVoted)
}

func TestVoteCountsAndOrder(t *testing.T) {
	v := NewVotingAggregator(nil)
	for _, id := range []string{"c", "a", "b"} {
		v.AddPlayer(id, false)
	}
	v.SubmitVote("b", "X")
	v.SubmitVote("c", "X")
	v.SubmitVote("a", "Y")

	st := v.State()
	assert.Equal(t, map[string]int{"X": 2, "Y": 1}, st.VoteCounts)
	assert.Equal(t, []string{"c", "a", "b"}, readyIDs(st.ReadyStates))
}

func readyIDs(states []models.PlayerReadyState) []string {
	ids := make([]string, 0, len(states))
	for _, s := range states {
		ids = append(ids, s.PlayerID)
	}
	return ids
}
