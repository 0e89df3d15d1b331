// Package game is the session layer: per-game state, the store that holds
// it, and the manager that drives moves through the shared engine handle.
package game

import (
	"errors"
	"time"

	"github.com/RonakMehtaa/PlayChess/internal/chess"
)

var (
	ErrNotFound         = errors.New("game session not found")
	ErrWrongTurn        = errors.New("not player's turn")
	ErrGameOver         = errors.New("game already finished")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrCorrupted        = errors.New("game session corrupted")
)

// Session is one game against the engine. MoveHistory is append-only UCI
// moves from the initial position; FEN is always their exact replay.
type Session struct {
	ID             string       `json:"id"`
	PlayerColor    string       `json:"player_color"`
	Elo            int          `json:"elo"`
	FEN            string       `json:"fen"`
	MoveHistory    []string     `json:"move_history"`
	Status         chess.Status `json:"status"`
	Winner         string       `json:"winner,omitempty"`
	LastEvaluation *int         `json:"last_evaluation,omitempty"`
	Corrupted      bool         `json:"corrupted,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Clone returns a deep copy so stored state never aliases caller state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.MoveHistory = append([]string(nil), s.MoveHistory...)
	if s.LastEvaluation != nil {
		v := *s.LastEvaluation
		out.LastEvaluation = &v
	}
	return &out
}

// Summary is the list-view projection of a session.
type Summary struct {
	ID          string       `json:"id"`
	Status      chess.Status `json:"status"`
	PlayerColor string       `json:"player_color"`
	Elo         int          `json:"elo"`
}

func (s *Session) Summary() Summary {
	return Summary{ID: s.ID, Status: s.Status, PlayerColor: s.PlayerColor, Elo: s.Elo}
}
