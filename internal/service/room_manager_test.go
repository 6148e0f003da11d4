package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jkbox/internal/models"
	"jkbox/internal/repository"
)

func newTestManager(t *testing.T) (*RoomManager, repository.RoomRepository, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	repo := repository.NewMemoryRoomRepository()
	return NewRoomManager(repo, RoomManagerOptions{Now: clock.Now}), repo, clock
}

func human(id string) models.Player {
	return models.Player{ID: id, Nickname: "nick-" + id, IsConnected: true}
}

func TestCreateRoom(t *testing.T) {
	rm, repo, _ := newTestManager(t)

	room, err := rm.CreateRoom()
	require.NoError(t, err)
	assert.Len(t, room.RoomID, 4)
	assert.Equal(t, models.PhaseTitle, room.Phase())
	assert.Empty(t, room.Players)

	rec, err := repo.FindByID(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, "title", rec.Phase)
}

func TestAddPlayerCapacity(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, err := rm.CreateRoom()
	require.NoError(t, err)

	for i := 0; i < DefaultMaxPlayers; i++ {
		_, err := rm.AddPlayer(room.RoomID, human(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	_, err = rm.AddPlayer(room.RoomID, human("late"))
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Len(t, rm.GetRoom(room.RoomID).Players, DefaultMaxPlayers)

	_, err = rm.AddPlayer("NOPE", human("x"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestFirstHumanIsHostAndHostIsPromoted(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, _ := rm.CreateRoom()

	_, err := rm.AddPlayer(room.RoomID, models.Player{ID: "bot", IsAI: true})
	require.NoError(t, err)
	_, err = rm.AddPlayer(room.RoomID, human("a"))
	require.NoError(t, err)
	got, err := rm.AddPlayer(room.RoomID, human("b"))
	require.NoError(t, err)

	a, _ := got.Player("a")
	b, _ := got.Player("b")
	assert.True(t, a.IsHost)
	assert.False(t, b.IsHost)

	got, err = rm.RemovePlayer(room.RoomID, "a")
	require.NoError(t, err)
	b, _ = got.Player("b")
	bot, _ := got.Player("bot")
	assert.True(t, b.IsHost)
	assert.False(t, bot.IsHost)
}

func TestGetRoomReturnsCopy(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, _ := rm.CreateRoom()
	_, err := rm.AddPlayer(room.RoomID, human("a"))
	require.NoError(t, err)

	copy1 := rm.GetRoom(room.RoomID)
	copy1.Players[0].Nickname = "changed"

	assert.Equal(t, "nick-a", rm.GetRoom(room.RoomID).Players[0].Nickname)
}

func TestGetRoomByPlayerID(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, _ := rm.CreateRoom()
	_, err := rm.AddPlayer(room.RoomID, human("a"))
	require.NoError(t, err)

	found := rm.GetRoomByPlayerID("a")
	require.NotNil(t, found)
	assert.Equal(t, room.RoomID, found.RoomID)
	assert.Nil(t, rm.GetRoomByPlayerID("ghost"))
}

func TestUpdateRoomStateReplacesWholeRoom(t *testing.T) {
	rm, repo, _ := newTestManager(t)
	room, _ := rm.CreateRoom()

	replacement := &models.Room{
		RoomID:    room.RoomID,
		Players:   []models.Player{human("z")},
		CreatedAt: room.CreatedAt,
		State:     models.CountdownState{SelectedGame: "buzzer", SecondsRemaining: 2},
	}
	got, err := rm.UpdateRoomState(room.RoomID, replacement)
	require.NoError(t, err)
	assert.Equal(t, replacement, got)

	rec, err := repo.FindByID(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, "countdown", rec.Phase)

	_, err = rm.UpdateRoomState("NOPE", replacement)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPhaseHelpersFollowRoomTable(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, _ := rm.CreateRoom()
	id := room.RoomID

	_, err := rm.StartGame(id, "buzzer", nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = rm.TransitionTitleToLobby(id)
	require.NoError(t, err)
	_, err = rm.StartCountdown(id, "buzzer", 5)
	require.NoError(t, err)

	got, err := rm.SetCountdownRemaining(id, 3)
	require.NoError(t, err)
	assert.Equal(t, models.CountdownState{SelectedGame: "buzzer", SecondsRemaining: 3}, got.State)

	got, err = rm.StartGame(id, "buzzer", json.RawMessage("{ \"round\": 1 }"))
	require.NoError(t, err)
	assert.Equal(t, models.PlayingState{GameID: "buzzer", GameState: json.RawMessage(`{"round":1}`)}, got.State)

	_, err = rm.TransitionResultsToLobby(id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionToResults(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, _ := rm.CreateRoom()
	id := room.RoomID
	_, err := rm.AddPlayer(id, human("a"))
	require.NoError(t, err)
	_, err = rm.UpdatePlayer(id, "a", func(p *models.Player) { p.Score = 2 })
	require.NoError(t, err)

	assert.Nil(t, rm.TransitionToResults(id, models.GameResults{}), "title room cannot enter results")
	assert.Equal(t, models.PhaseTitle, rm.GetRoom(id).Phase())

	_, err = rm.TransitionTitleToLobby(id)
	require.NoError(t, err)
	_, err = rm.StartCountdown(id, "buzzer", 1)
	require.NoError(t, err)
	_, err = rm.StartGame(id, "buzzer", json.RawMessage(`{}`))
	require.NoError(t, err)

	got := rm.TransitionToResults(id, models.GameResults{Winners: []string{"a"}, Scores: map[string]int{"a": 3}})
	require.NotNil(t, got)
	assert.Equal(t, models.ResultsState{
		GameID:  "buzzer",
		Winners: []string{"a"},
		Scores:  map[string]int{"a": 3},
	}, got.State)
	a, _ := got.Player("a")
	assert.Equal(t, 5, a.Score)

	got, err = rm.TransitionResultsToLobby(id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseLobby, got.Phase())
}

func TestHardResetAndForceLobby(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, _ := rm.CreateRoom()
	id := room.RoomID
	_, err := rm.AddPlayer(id, human("a"))
	require.NoError(t, err)
	_, err = rm.TransitionTitleToLobby(id)
	require.NoError(t, err)
	_, err = rm.StartCountdown(id, "buzzer", 3)
	require.NoError(t, err)
	_, err = rm.SetPaused(id, true)
	require.NoError(t, err)

	got, err := rm.ForceLobby(id)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyState{}, got.State)
	assert.Len(t, got.Players, 1)

	got, err = rm.HardReset(id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseTitle, got.Phase())
	assert.Empty(t, got.Players)
	assert.False(t, got.Paused)
}

func TestUpdateConfigManagesAIPlayers(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, _ := rm.CreateRoom()
	id := room.RoomID
	for i := 0; i < 10; i++ {
		_, err := rm.AddPlayer(id, human(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	got, err := rm.UpdateConfig(id, models.RoomConfig{AIPlayers: 5, Rounds: 3})
	require.NoError(t, err)
	assert.Len(t, got.Players, DefaultMaxPlayers)
	assert.Equal(t, 2, got.Config.AIPlayers, "capped by capacity")
	assert.Equal(t, 3, got.Config.Rounds)

	got, err = rm.UpdateConfig(id, models.RoomConfig{AIPlayers: 0})
	require.NoError(t, err)
	assert.Len(t, got.Players, 10)
	for _, p := range got.Players {
		assert.False(t, p.IsAI)
	}
}

func TestSyncLobbyOnlyTouchesLobby(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, _ := rm.CreateRoom()
	id := room.RoomID
	voting := models.VotingState{
		GameVotes:    []models.GameVote{{PlayerID: "a", GameID: "buzzer", Timestamp: 1}},
		ReadyStates:  []models.PlayerReadyState{{PlayerID: "a", HasVoted: true}},
		SelectedGame: "buzzer",
	}

	got, err := rm.SyncLobby(id, voting)
	require.NoError(t, err)
	assert.Equal(t, models.TitleState{}, got.State)

	_, err = rm.TransitionTitleToLobby(id)
	require.NoError(t, err)
	got, err = rm.SyncLobby(id, voting)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyState{
		GameVotes:    voting.GameVotes,
		ReadyStates:  voting.ReadyStates,
		SelectedGame: "buzzer",
	}, got.State)
}

func TestReplacePlayerKeepsSeat(t *testing.T) {
	rm, _, _ := newTestManager(t)
	room, err := rm.CreateRoom()
	require.NoError(t, err)
	for _, id := range []string{"a", "b"} {
		_, err := rm.AddPlayer(room.RoomID, human(id))
		require.NoError(t, err)
	}
	_, err = rm.UpdatePlayer(room.RoomID, "a", func(p *models.Player) { p.Score = 3 })
	require.NoError(t, err)

	updated, err := rm.ReplacePlayer(room.RoomID, "a", human("a2"))
	require.NoError(t, err)
	require.Len(t, updated.Players, 2)
	assert.Equal(t, "a2", updated.Players[0].ID)
	assert.True(t, updated.Players[0].IsHost)
	assert.Equal(t, 3, updated.Players[0].Score)
	assert.False(t, updated.Players[1].IsHost)

	_, err = rm.ReplacePlayer(room.RoomID, "ghost", human("x"))
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestIdleRoomsAndDeleteRoom(t *testing.T) {
	rm, repo, clock := newTestManager(t)
	empty, err := rm.CreateRoom()
	require.NoError(t, err)
	ai, err := rm.CreateRoom()
	require.NoError(t, err)
	_, err = rm.UpdateConfig(ai.RoomID, models.RoomConfig{AIPlayers: 2})
	require.NoError(t, err)
	busy, err := rm.CreateRoom()
	require.NoError(t, err)
	_, err = rm.AddPlayer(busy.RoomID, human("a"))
	require.NoError(t, err)

	assert.Empty(t, rm.IdleRooms(time.Minute))

	clock.Advance(time.Minute)
	assert.ElementsMatch(t, []string{empty.RoomID, ai.RoomID}, rm.IdleRooms(time.Minute))

	require.NoError(t, rm.DeleteRoom(empty.RoomID))
	assert.Nil(t, rm.GetRoom(empty.RoomID))
	_, err = repo.FindByID(empty.RoomID)
	assert.ErrorIs(t, err, repository.ErrRecordNotFound)
	assert.ElementsMatch(t, []string{ai.RoomID}, rm.IdleRooms(time.Minute))
}

type failingRepo struct {
	repository.RoomRepository
	fail bool
}

func (r *failingRepo) Save(rec *models.RoomRecord) error {
	if r.fail {
		return errors.New("disk full")
	}
	return r.RoomRepository.Save(rec)
}

func TestFailedPersistLeavesMemoryUntouched(t *testing.T) {
	repo := &failingRepo{RoomRepository: repository.NewMemoryRoomRepository()}
	rm := NewRoomManager(repo, RoomManagerOptions{})
	room, err := rm.CreateRoom()
	require.NoError(t, err)

	repo.fail = true
	_, err = rm.AddPlayer(room.RoomID, human("a"))
	require.Error(t, err)
	assert.Empty(t, rm.GetRoom(room.RoomID).Players)
}

func buildRecoverableRooms(t *testing.T, rm *RoomManager) []*models.Room {
	t.Helper()

	lobby, err := rm.CreateRoom()
	require.NoError(t, err)
	_, err = rm.AddPlayer(lobby.RoomID, models.Player{ID: "a", Nickname: "Ann", SessionToken: "tok", DeviceID: "d1", IsAdmin: true, ConnectedAt: 1, LastSeenAt: 2, IsConnected: true})
	require.NoError(t, err)
	_, err = rm.TransitionTitleToLobby(lobby.RoomID)
	require.NoError(t, err)
	_, err = rm.SyncLobby(lobby.RoomID, models.VotingState{
		GameVotes:   []models.GameVote{{PlayerID: "a", GameID: "buzzer", Timestamp: 5}},
		ReadyStates: []models.PlayerReadyState{{PlayerID: "a", HasVoted: true, IsReady: true}},
	})
	require.NoError(t, err)

	results, err := rm.CreateRoom()
	require.NoError(t, err)
	_, err = rm.AddPlayer(results.RoomID, human("b"))
	require.NoError(t, err)
	_, err = rm.UpdateConfig(results.RoomID, models.RoomConfig{Rounds: 2})
	require.NoError(t, err)
	_, err = rm.TransitionTitleToLobby(results.RoomID)
	require.NoError(t, err)
	_, err = rm.StartCountdown(results.RoomID, "buzzer", 5)
	require.NoError(t, err)
	_, err = rm.StartGame(results.RoomID, "buzzer", json.RawMessage(`{"round":2}`))
	require.NoError(t, err)
	require.NotNil(t, rm.TransitionToResults(results.RoomID, models.GameResults{
		Winners:      []string{"b"},
		Scores:       map[string]int{"b": 4},
		Achievements: []models.Achievement{{PlayerID: "b", Title: "Quick draw"}},
	}))

	return []*models.Room{rm.GetRoom(lobby.RoomID), rm.GetRoom(results.RoomID)}
}

func TestRecoverFreshStateIsIdentical(t *testing.T) {
	rm, repo, clock := newTestManager(t)
	before := buildRecoverableRooms(t, rm)

	clock.Advance(4 * time.Minute)
	restarted := NewRoomManager(repo, RoomManagerOptions{Now: clock.Now})
	n, err := restarted.Recover(5 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, room := range before {
		assert.Equal(t, room, restarted.GetRoom(room.RoomID))
	}
}

func TestRecoverStaleStateStartsClean(t *testing.T) {
	rm, repo, clock := newTestManager(t)
	buildRecoverableRooms(t, rm)

	clock.Advance(6 * time.Minute)
	restarted := NewRoomManager(repo, RoomManagerOptions{Now: clock.Now})
	n, err := restarted.Recover(5 * time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, restarted.Rooms())

	all, err := repo.FindAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecoverEmptyStore(t *testing.T) {
	rm, _, _ := newTestManager(t)
	n, err := rm.Recover(5 * time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}
