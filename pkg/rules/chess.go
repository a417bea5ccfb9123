package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/tecu23/match-server/pkg/chess"
)

// ChessValidator validates standard chess moves on FEN encoded boards.
// Moves are accepted in UCI notation with a SAN fallback.
type ChessValidator struct{}

// NewChessValidator creates a validator for standard chess
func NewChessValidator() *ChessValidator {
	return &ChessValidator{}
}

// InitialBoard returns the standard starting position
func (v *ChessValidator) InitialBoard() string {
	return nchess.NewGame().FEN()
}

// SideToMove returns the color to move in board
func (v *ChessValidator) SideToMove(board string) (chess.Color, error) {
	game, err := v.load(board)
	if err != nil {
		return chess.NoColor, err
	}

	return fromColor(game.Position().Turn()), nil
}

// Apply plays move on board and reports the resulting position
func (v *ChessValidator) Apply(board, move string) (Result, error) {
	game, err := v.load(board)
	if err != nil {
		return Result{}, err
	}

	move = strings.TrimSpace(move)
	if move == "" {
		return Result{}, fmt.Errorf("%w: empty move", ErrIllegalMove)
	}

	pos := game.Position()
	legal, ok := decodeMove(pos, move)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, move)
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, legal)
	if err := game.PushMove(san, nil); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, move, err)
	}

	result := Result{
		Board: game.FEN(),
		Move:  nchess.UCINotation{}.Encode(pos, legal),
		SAN:   san,
	}

	switch game.Outcome() {
	case nchess.WhiteWon:
		result.Terminal = TerminationCheckmate
		result.Winner = chess.White
	case nchess.BlackWon:
		result.Terminal = TerminationCheckmate
		result.Winner = chess.Black
	case nchess.Draw:
		result.Terminal = drawTermination(game.Method())
	}

	return result, nil
}

// decodeMove resolves a UCI or SAN move against the legal moves of pos
func decodeMove(pos *nchess.Position, move string) (*nchess.Move, bool) {
	uci := strings.ToLower(move)
	legal := pos.ValidMoves()
	for i := range legal {
		if (nchess.UCINotation{}).Encode(pos, &legal[i]) == uci {
			return &legal[i], true
		}
	}

	m, err := nchess.AlgebraicNotation{}.Decode(pos, move)
	if err != nil {
		return nil, false
	}

	return m, true
}

func (v *ChessValidator) load(board string) (*nchess.Game, error) {
	if board == "" || board == "startpos" {
		return nchess.NewGame(), nil
	}

	option, err := nchess.FEN(board)
	if err != nil {
		return nil, fmt.Errorf("invalid board %q: %w", board, err)
	}

	return nchess.NewGame(option), nil
}

func drawTermination(method nchess.Method) Termination {
	switch method {
	case nchess.Stalemate:
		return TerminationStalemate
	case nchess.InsufficientMaterial:
		return TerminationInsufficientMaterial
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return TerminationRepetition
	default:
		return TerminationMoveRule
	}
}

func fromColor(c nchess.Color) chess.Color {
	if c == nchess.White {
		return chess.White
	}

	return chess.Black
}
