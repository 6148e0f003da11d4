package service

import (
	"jkbox/internal/games"
	"jkbox/internal/repository"
	"jkbox/internal/utils"
	"jkbox/pkg/config"
)

// Services is everything the HTTP layer talks to.
type Services struct {
	RoomManager      *RoomManager
	SessionService   *SessionService
	WebSocketManager *WebSocketManager
	Games            *games.Registry
}

// NewServices wires the room manager, the session orchestrator and the
// websocket hub together.
func NewServices(repos *repository.Repositories, registry *games.Registry, cfg *config.Config) *Services {
	wsManager := NewWebSocketManager()

	roomManager := NewRoomManager(repos.Room, RoomManagerOptions{
		MaxPlayers: cfg.Room.MaxPlayers,
		CodeLength: cfg.Room.CodeLength,
	})
	tokens := utils.NewSessionTokens(cfg.Session.Secret, cfg.Session.TokenTTL)
	sessionService := NewSessionService(roomManager, registry, tokens, wsManager, SessionConfig{
		CountdownSeconds:  cfg.Room.CountdownSeconds,
		HeartbeatInterval: cfg.Room.HeartbeatInterval,
		DisconnectAfter:   cfg.Room.DisconnectAfter,
		BootAfter:         cfg.Room.BootAfter,
		ResultsDuration:   cfg.Room.ResultsDuration,
		IdleRoomTTL:       cfg.Room.IdleRoomTTL,
		AdminSuffix:       cfg.Room.AdminSuffix,
		MaxPlayers:        cfg.Room.MaxPlayers,
	})
	wsManager.SetHandler(sessionService)

	return &Services{
		RoomManager:      roomManager,
		SessionService:   sessionService,
		WebSocketManager: wsManager,
		Games:            registry,
	}
}
