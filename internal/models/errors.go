package models

// Protocol error codes reported to the originating connection.
const (
	CodeRoomNotFound        = "ROOM_NOT_FOUND"
	CodeGameInProgress      = "GAME_IN_PROGRESS"
	CodeRoomFull            = "ROOM_FULL"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeWrongPhase          = "WRONG_PHASE"
	CodeNotInRoom           = "NOT_IN_ROOM"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeInvalidNickname     = "INVALID_NICKNAME"
	CodeUnknownGame         = "UNKNOWN_GAME"
	CodeMustVoteFirst       = "MUST_VOTE_FIRST"
	CodeSessionInvalid      = "SESSION_INVALID"
	CodePlayerNotFound      = "PLAYER_NOT_FOUND"
	CodeLateJoinUnsupported = "LATE_JOIN_UNSUPPORTED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeGameError           = "GAME_ERROR"
	CodeInternal            = "INTERNAL"
)

// ProtocolError is a client-facing failure. It never mutates room state
// and is only sent to the connection that caused it.
type ProtocolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return e.Code + ": " + e.Message
}

func NewProtocolError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}
