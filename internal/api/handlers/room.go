package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"jkbox/internal/games"
	"jkbox/internal/service"
	"jkbox/internal/utils"
)

const qrSize = 320

// RoomHandler serves the small HTTP surface around rooms.
type RoomHandler struct {
	rooms     *service.RoomManager
	registry  *games.Registry
	publicURL string
}

// NewRoomHandler serves the room REST endpoints. publicURL is encoded into
// join QR codes.
func NewRoomHandler(rooms *service.RoomManager, registry *games.Registry, publicURL string) *RoomHandler {
	return &RoomHandler{
		rooms:     rooms,
		registry:  registry,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// CreateRoom makes a new room in the title phase.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	room, err := h.rooms.CreateRoom()
	if err != nil {
		log.Error().Err(err).Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, room.Public())
}

// GetRoom returns the room snapshot without session tokens.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room := h.rooms.GetRoom(utils.NormalizeRoomCode(c.Param("id")))
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, room.Public())
}

// JoinQR renders a PNG QR code pointing at the join page of the room.
func (h *RoomHandler) JoinQR(c *gin.Context) {
	roomID := utils.NormalizeRoomCode(c.Param("id"))
	if h.rooms.GetRoom(roomID) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	png, err := qrcode.Encode(h.joinURL(c, roomID), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("qr generation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (h *RoomHandler) joinURL(c *gin.Context, roomID string) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/join/" + roomID
}

// ListGames returns the game modules players can vote for.
func (h *RoomHandler) ListGames(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.List())
}
