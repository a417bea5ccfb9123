// Package rules wraps the move legality library used to advance a board
package rules

import (
	"errors"

	"github.com/tecu23/match-server/pkg/chess"
)

// ErrIllegalMove is returned when a move cannot be applied to the board
var ErrIllegalMove = errors.New("illegal move")

// Termination names why a position ended the match
type Termination string

// Terminal positions reported by the validator
const (
	TerminationNone                 Termination = ""
	TerminationCheckmate            Termination = "checkmate"
	TerminationStalemate            Termination = "stalemate"
	TerminationInsufficientMaterial Termination = "insufficient_material"
	TerminationRepetition           Termination = "repetition"
	TerminationMoveRule             Termination = "seventy_five_move_rule"
)

// Result is the outcome of applying one move
type Result struct {
	Board    string      // Position after the move
	Move     string      // Canonical UCI form of the move
	SAN      string      // Standard algebraic form, for move logs
	Terminal Termination // Non-empty when the position ends the match
	Winner   chess.Color // Set for decisive terminations only
}

// IsTerminal reports whether the move ended the match
func (r Result) IsTerminal() bool {
	return r.Terminal != TerminationNone
}

// Validator applies moves to an encoded board. Implementations must be pure.
type Validator interface {
	InitialBoard() string
	SideToMove(board string) (chess.Color, error)
	Apply(board, move string) (Result, error)
}
