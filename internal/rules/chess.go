package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ChessOracle implements Oracle on top of corentings/chess.
type ChessOracle struct{}

func NewChessOracle() *ChessOracle { return &ChessOracle{} }

func (o *ChessOracle) NewGame() Game {
	return &chessGame{game: nchess.NewGame()}
}

type chessGame struct {
	game *nchess.Game
}

func (g *chessGame) Apply(from, to, promotion string) (string, Outcome, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promotion = strings.ToLower(strings.TrimSpace(promotion))
	if len(from) != 2 || len(to) != 2 {
		return "", Ongoing, fmt.Errorf("%w: %q-%q", ErrBadSquare, from, to)
	}

	uci := from + to + promotion
	pos := g.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return "", Ongoing, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	// SAN must be encoded against the pre-move position.
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := g.game.Move(mv, nil); err != nil {
		return "", Ongoing, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	return san, g.outcome(), nil
}

func (g *chessGame) FEN() string { return g.game.FEN() }

func (g *chessGame) outcome() Outcome {
	switch g.game.Outcome() {
	case nchess.WhiteWon:
		return WhiteWon
	case nchess.BlackWon:
		return BlackWon
	case nchess.Draw:
		return Draw
	default:
		return Ongoing
	}
}
