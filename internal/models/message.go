package models

import (
	"encoding/json"
)

// Client → server message types.
const (
	MsgJoin           = "join"
	MsgJoinMidGame    = "join-mid-game"
	MsgRestoreSession = "restore-session"
	MsgWatch          = "watch"
	MsgHeartbeat      = "heartbeat"
	MsgVoteGame       = "lobby:vote-game"
	MsgReadyToggle    = "lobby:ready-toggle"
	MsgGameAction     = "game:action"
	MsgGameQuit       = "game:quit"
	MsgAdminBoot      = "admin:boot-player"
	MsgAdminLobby     = "admin:back-to-lobby"
	MsgAdminHardReset = "admin:hard-reset"
	MsgAdminConfig    = "admin:update-config"
	MsgAdminPause     = "admin:pause"
	MsgAdminUnpause   = "admin:unpause"
)

// Server → client message types.
const (
	MsgConnectionAck      = "connection:ack"
	MsgJoinSuccess        = "join:success"
	MsgSessionRestored    = "session:restored"
	MsgRoomState          = "room:state"
	MsgVotingUpdate       = "lobby:voting-update"
	MsgCountdown          = "lobby:countdown"
	MsgCountdownCancelled = "lobby:countdown-cancelled"
	MsgGameStart          = "game:start"
	MsgGameComplete       = "game:complete"
	MsgHeartbeatAck       = "heartbeat:ack"
	MsgBooted             = "player:booted"
	MsgRoomReset          = "room:reset"
	MsgError              = "error"
)

// InboundMessage is the envelope every client message arrives in.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is the envelope every server message is sent in.
type OutboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type JoinPayload struct {
	RoomID   string `json:"roomId"`
	Nickname string `json:"nickname"`
	DeviceID string `json:"deviceId,omitempty"`
}

type RestoreSessionPayload struct {
	RoomID       string `json:"roomId"`
	PlayerID     string `json:"playerId"`
	SessionToken string `json:"sessionToken"`
}

type WatchPayload struct {
	RoomID string `json:"roomId"`
}

type VotePayload struct {
	GameID string `json:"gameId"`
}

type ReadyPayload struct {
	IsReady bool `json:"isReady"`
}

type BootPayload struct {
	PlayerID string `json:"playerId"`
}

// UpdateConfigPayload only changes the fields that are present.
type UpdateConfigPayload struct {
	AIPlayers *int `json:"aiPlayers,omitempty"`
	Rounds    *int `json:"rounds,omitempty"`
}

// ConnectionAckPayload tells a client which id to pass as ?cid= when its
// socket drops.
type ConnectionAckPayload struct {
	ConnectionID string `json:"connectionId"`
	Resumed      bool   `json:"resumed"`
}

type JoinSuccessPayload struct {
	Player    Player `json:"player"`
	RoomState *Room  `json:"roomState"`
}

type CountdownPayload struct {
	Countdown    int    `json:"countdown"`
	SelectedGame string `json:"selectedGame"`
}

type CountdownCancelledPayload struct {
	Reason string `json:"reason"`
}

type GameStartPayload struct {
	GameID    string          `json:"gameId"`
	GameState json.RawMessage `json:"gameState,omitempty"`
}

type BootedPayload struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason"`
}

// VotingState is the lobby tally as seen by clients.
type VotingState struct {
	GameVotes    []GameVote         `json:"gameVotes"`
	ReadyStates  []PlayerReadyState `json:"readyStates"`
	VoteCounts   map[string]int     `json:"voteCounts"`
	SelectedGame string             `json:"selectedGame,omitempty"`
	AllReady     bool               `json:"allReady"`
}
