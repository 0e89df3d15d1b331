package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RonakMehtaa/PlayChess/internal/chess"
	"github.com/RonakMehtaa/PlayChess/internal/chess/uci"
	"github.com/RonakMehtaa/PlayChess/internal/game"
)

type handlers struct {
	mgr    *game.Manager
	logger *zap.Logger
}

type startGameRequest struct {
	PlayerColor string `json:"playerColor"`
	Strength    int    `json:"strength"`
}

type playerMoveRequest struct {
	GameID   string `json:"gameId"`
	MoveText string `json:"moveText"`
}

// Root doubles as the health endpoint.
func (h *handlers) Root(c *gin.Context) {
	count, err := h.mgr.Count(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := "ok"
	if !h.mgr.EngineReady() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "chess engine service",
		"status":          status,
		"engineReady":     h.mgr.EngineReady(),
		"activeGameCount": count,
	})
}

func (h *handlers) StartGame(c *gin.Context) {
	var req startGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s, botMove, err := h.mgr.Create(c.Request.Context(), req.PlayerColor, req.Strength)
	if err != nil {
		h.writeError(c, err)
		return
	}

	board, err := chess.Replay(s.MoveHistory)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"gameId":           s.ID,
		"positionNotation": s.FEN,
		"currentTurn":      chess.TurnOf(board),
		"playerColor":      s.PlayerColor,
		"strength":         s.Elo,
		"botMove":          nullable(botMove),
	})
}

func (h *handlers) PlayerMove(c *gin.Context) {
	var req playerMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.GameID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameId is required"})
		return
	}

	res, err := h.mgr.PlayMove(c.Request.Context(), req.GameID, req.MoveText)
	if err != nil {
		h.writeError(c, err)
		return
	}

	s := res.Session
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"positionNotation": s.FEN,
		"botMove":          nullable(res.BotMove),
		"status":           s.Status,
		"winner":           nullable(s.Winner),
		"evaluation":       s.LastEvaluation,
	})
}

func (h *handlers) GameState(c *gin.Context) {
	s, err := h.mgr.Get(c.Request.Context(), c.Param("gameId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	board, err := chess.Replay(s.MoveHistory)
	if err != nil {
		h.logger.Error("stored history no longer replays", zap.String("game_id", s.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "game state is corrupted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"gameId":           s.ID,
		"positionNotation": s.FEN,
		"playerColor":      s.PlayerColor,
		"strength":         s.Elo,
		"moveHistory":      s.MoveHistory,
		"status":           s.Status,
		"winner":           nullable(s.Winner),
		"currentTurn":      chess.TurnOf(board),
		"legalMoves":       chess.LegalMoves(board),
	})
}

func (h *handlers) DeleteGame(c *gin.Context) {
	id := c.Param("gameId")
	if err := h.mgr.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "gameId": id, "message": "game " + id + " deleted"})
}

func (h *handlers) ListGames(c *gin.Context) {
	summaries, err := h.mgr.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	games := make([]gin.H, 0, len(summaries))
	for _, s := range summaries {
		games = append(games, gin.H{
			"gameId":      s.ID,
			"status":      s.Status,
			"playerColor": s.PlayerColor,
			"strength":    s.Elo,
		})
	}
	c.JSON(http.StatusOK, gin.H{"games": games, "count": len(games)})
}

// writeError maps domain errors onto HTTP status codes. Engine failures
// surface as 503 so callers can tell service degradation from bad input.
func (h *handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrInvalidParameter),
		errors.Is(err, chess.ErrIllegalMove),
		errors.Is(err, chess.ErrStrengthRange),
		errors.Is(err, game.ErrWrongTurn),
		errors.Is(err, game.ErrGameOver):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, game.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
	case errors.Is(err, uci.ErrEngineFatal), errors.Is(err, uci.ErrEngineUnavailable):
		h.logger.Error("engine failure", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
	case errors.Is(err, game.ErrCorrupted):
		h.logger.Error("corrupted session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "game state is corrupted"})
	default:
		h.logger.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
