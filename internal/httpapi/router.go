// Package httpapi exposes the game service over HTTP.
package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RonakMehtaa/PlayChess/internal/game"
)

// NewRouter builds the HTTP router over a session manager.
func NewRouter(mgr *game.Manager, allowedOrigins []string, logger *zap.Logger) *gin.Engine {
	h := &handlers{mgr: mgr, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/", h.Root)
	router.GET("/health", h.Root)
	router.POST("/start_game", h.StartGame)
	router.POST("/player_move", h.PlayerMove)
	router.GET("/state/:gameId", h.GameState)
	router.DELETE("/game/:gameId", h.DeleteGame)
	router.GET("/games", h.ListGames)

	return router
}
