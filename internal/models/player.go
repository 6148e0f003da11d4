package models

// Player is a participant of a room. Timestamps are Unix milliseconds.
type Player struct {
	ID           string `json:"id"`
	Nickname     string `json:"nickname"`
	SessionToken string `json:"sessionToken,omitempty"`
	DeviceID     string `json:"deviceId,omitempty"`
	IsAdmin      bool   `json:"isAdmin"`
	IsHost       bool   `json:"isHost"`
	IsAI         bool   `json:"isAI,omitempty"`
	Score        int    `json:"score"`
	ConnectedAt  int64  `json:"connectedAt"`
	LastSeenAt   int64  `json:"lastSeenAt"`
	IsConnected  bool   `json:"isConnected"`
}

// GameVote records which game a player wants to play next.
type GameVote struct {
	PlayerID  string `json:"playerId"`
	GameID    string `json:"gameId"`
	Timestamp int64  `json:"timestamp"`
}

// PlayerReadyState is a player's lobby progress. IsReady implies HasVoted.
type PlayerReadyState struct {
	PlayerID string `json:"playerId"`
	HasVoted bool   `json:"hasVoted"`
	IsReady  bool   `json:"isReady"`
}
