// Package chess adapts the rules library to the session layer: replaying
// recorded games, applying coordinate-notation moves, and deriving outcomes.
package chess

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Status is the lifecycle state of a game derived from its position.
type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusDraw      Status = "draw"
)

const (
	ColorWhite = "white"
	ColorBlack = "black"
)

var ErrIllegalMove = errors.New("illegal move")

var uciMoveRe = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// ValidMoveText reports whether s is syntactically valid coordinate notation
// (e.g. "e2e4", "e7e8q"). Only lowercase is accepted; legality against a
// position is checked separately.
func ValidMoveText(s string) bool {
	return uciMoveRe.MatchString(strings.TrimSpace(s))
}

// ValidColor reports whether s is "white" or "black".
func ValidColor(s string) bool {
	return s == ColorWhite || s == ColorBlack
}

// Replay rebuilds a game by applying the full UCI move list onto the initial
// position. Any failure means the recorded history is corrupted.
func Replay(moves []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for _, mv := range moves {
		text := strings.TrimSpace(mv)
		if err := game.PushNotationMove(text, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %s: %w", mv, err)
		}
	}
	return game, nil
}

// ApplyUCIMove validates moveText against the current position and pushes it.
// A bare pawn move to the last rank promotes to a queen. The normalized move
// text is returned so callers record exactly what was applied.
func ApplyUCIMove(game *nchess.Game, moveText string) (string, error) {
	mv := strings.TrimSpace(moveText)
	if !uciMoveRe.MatchString(mv) {
		return "", fmt.Errorf("%w: malformed move %q", ErrIllegalMove, moveText)
	}
	mv = withDefaultPromotion(game, mv)
	if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
		return "", fmt.Errorf("%w: %s in position %s", ErrIllegalMove, mv, game.FEN())
	}
	return mv, nil
}

func withDefaultPromotion(game *nchess.Game, mv string) string {
	if len(mv) != 4 {
		return mv
	}
	toRank := mv[3]
	if toRank != '1' && toRank != '8' {
		return mv
	}
	from := nchess.NewSquare(nchess.File(mv[0]-'a'), nchess.Rank(mv[1]-'1'))
	if game.Position().Board().Piece(from).Type() == nchess.Pawn {
		return mv + "q"
	}
	return mv
}

// StatusOf derives the game status. Claimable draws (threefold repetition,
// fifty-move rule) end the game immediately rather than waiting for a claim.
func StatusOf(game *nchess.Game) Status {
	switch game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		return StatusCheckmate
	case nchess.Draw:
		if game.Method() == nchess.Stalemate {
			return StatusStalemate
		}
		return StatusDraw
	}
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			return StatusDraw
		}
	}
	return StatusOngoing
}

// WinnerOf returns "white" or "black" for a decided game, "" otherwise.
func WinnerOf(game *nchess.Game) string {
	switch game.Outcome() {
	case nchess.WhiteWon:
		return ColorWhite
	case nchess.BlackWon:
		return ColorBlack
	}
	return ""
}

// TurnOf returns the color to move.
func TurnOf(game *nchess.Game) string {
	if game.Position().Turn() == nchess.White {
		return ColorWhite
	}
	return ColorBlack
}

// LegalMoves lists every legal move in the current position in UCI notation.
func LegalMoves(game *nchess.Game) []string {
	valid := game.ValidMoves()
	notation := nchess.UCINotation{}
	out := make([]string, 0, len(valid))
	for i := range valid {
		out = append(out, strings.ToLower(notation.Encode(game.Position(), &valid[i])))
	}
	return out
}
