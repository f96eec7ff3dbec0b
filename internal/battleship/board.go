// internal/battleship/board.go
package battleship

import (
	"fmt"

	"github.com/jason-s-yu/salvo/internal/apperr"
)

// Size is the width and height of every board.
const Size = 10

// Cell is the state of a single square. The numeric values are part of the
// wire format.
type Cell uint8

const (
	Empty Cell = iota
	Ship
	Hit
	Miss
)

// Board is indexed board[x][y].
type Board [Size][Size]Cell

// Outcome is the result of a resolved shot.
type Outcome string

const (
	OutcomeHit  Outcome = "hit"
	OutcomeMiss Outcome = "miss"
)

// NewBoard returns an empty board.
func NewBoard() Board {
	return Board{}
}

// InBounds reports whether (x, y) lies on the board.
func InBounds(x, y int) bool {
	return x >= 0 && x < Size && y >= 0 && y < Size
}

// Targeted reports whether the cell at (x, y) has already been shot.
func (b *Board) Targeted(x, y int) bool {
	c := b[x][y]
	return c == Hit || c == Miss
}

// ApplyShot resolves a shot at (x, y), turning Ship into Hit and Empty into Miss.
// The board is left untouched on error.
func ApplyShot(b *Board, x, y int) (Outcome, error) {
	if !InBounds(x, y) {
		return "", fmt.Errorf("(%d,%d): %w", x, y, apperr.ErrInvalidCoordinate)
	}
	if b.Targeted(x, y) {
		return "", fmt.Errorf("(%d,%d): %w", x, y, apperr.ErrAlreadyTargeted)
	}
	if b[x][y] == Ship {
		b[x][y] = Hit
		return OutcomeHit, nil
	}
	b[x][y] = Miss
	return OutcomeMiss, nil
}

// Mask returns the board as seen by a viewer. Non-owners never see intact Ship
// cells; hits and misses are always visible.
func Mask(b Board, ownerView bool) Board {
	if ownerView {
		return b
	}
	var out Board
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if b.Targeted(x, y) {
				out[x][y] = b[x][y]
			}
		}
	}
	return out
}

// IsAlive reports whether any Ship cell is still intact.
func IsAlive(b Board) bool {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if b[x][y] == Ship {
				return true
			}
		}
	}
	return false
}

// IsBlank reports whether no cell on the board is set.
func (b *Board) IsBlank() bool {
	return *b == Board{}
}
