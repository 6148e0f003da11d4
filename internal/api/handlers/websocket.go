package handlers

import (
	"context"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"jkbox/internal/service"
	"jkbox/internal/utils"
)

// WebSocketHandler upgrades /ws requests and hands them to the manager.
type WebSocketHandler struct {
	wsManager *service.WebSocketManager
	sessions  *service.SessionService
	upgrader  websocket.Upgrader
	ctx       context.Context
}

// NewWebSocketHandler builds the /ws handler. allowedOrigins may contain "*".
func NewWebSocketHandler(ctx context.Context, wsManager *service.WebSocketManager, sessions *service.SessionService, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
		sessions:  sessions,
		ctx:       ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Phones on the LAN load the page from the server itself.
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin) ||
					origin == "http://"+r.Host || origin == "https://"+r.Host
			},
		},
	}
}

// HandleWebSocket serves one connection. Every connection is told its id in
// connection:ack; a client that lost its socket passes that id back as ?cid=
// to resume.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := utils.RandomID()
	resume := false
	if cid := c.Query("cid"); cid != "" && h.sessions.IsBound(cid) {
		clientID = cid
		resume = true
	}
	device := utils.DeviceFingerprint(c.ClientIP(), c.Request.UserAgent())

	log.Debug().Str("conn", clientID).Bool("resume", resume).Msg("websocket connected")
	h.wsManager.HandleConnection(h.ctx, conn, clientID, device, resume)
}
