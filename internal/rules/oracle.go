// Package rules wraps the chess rules library behind an oracle interface.
// The room treats it as opaque: given a move it answers legality, the SAN
// encoding, and whether the position became terminal.
package rules

import "errors"

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadSquare   = errors.New("malformed move coordinates")
)

// Outcome is the oracle's verdict after a move is applied.
type Outcome int

const (
	Ongoing Outcome = iota
	WhiteWon
	BlackWon
	Draw
)

// Game is one match's rule state. Implementations are not safe for
// concurrent use; the owning room serializes access.
type Game interface {
	// Apply validates and plays the move given in coordinate form.
	// On success it returns the SAN encoding and the resulting outcome;
	// on failure the position is unchanged.
	Apply(from, to, promotion string) (san string, out Outcome, err error)
	// FEN returns the current position.
	FEN() string
}

// Oracle creates fresh rule states.
type Oracle interface {
	NewGame() Game
}
