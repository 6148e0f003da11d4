package api

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"jkbox/internal/api/handlers"
	"jkbox/internal/middleware"
	"jkbox/internal/service"
)

// SetupRoutes registers every HTTP and websocket route on r.
func SetupRoutes(ctx context.Context, r *gin.Engine, services *service.Services, allowedOrigins []string, publicURL string) {
	roomHandler := handlers.NewRoomHandler(services.RoomManager, services.Games, publicURL)
	wsHandler := handlers.NewWebSocketHandler(ctx, services.WebSocketManager, services.SessionService, allowedOrigins)

	r.Use(middleware.RequestLogger())
	corsConfig := cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin"},
	}
	if len(allowedOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		api.GET("/games", roomHandler.ListGames)

		rooms := api.Group("/rooms")
		{
			rooms.POST("", roomHandler.CreateRoom)
			rooms.GET("/:id", roomHandler.GetRoom)
			rooms.GET("/:id/qr.png", roomHandler.JoinQR)
		}
	}

	r.GET("/ws", wsHandler.HandleWebSocket)
}
