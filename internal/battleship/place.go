// internal/battleship/place.go
package battleship

import (
	"fmt"
	"math/rand/v2"

	"github.com/jason-s-yu/salvo/internal/apperr"
)

// maxPlacementAttempts bounds the random search for each ship.
const maxPlacementAttempts = 200

// AutoPlace lays out the canonical fleet at random. Each ship gets a bounded
// number of attempts; if any ship cannot be placed, a blank board is returned
// and the caller must retry. A nil rng uses the package-level source.
func AutoPlace(rng *rand.Rand) Board {
	intn := rand.IntN
	if rng != nil {
		intn = rng.IntN
	}

	b := NewBoard()
	for _, size := range FleetSizes {
		placed := false
		for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
			horizontal := intn(2) == 0
			x, y := intn(Size), intn(Size)
			if horizontal {
				y = intn(Size - size + 1)
			} else {
				x = intn(Size - size + 1)
			}
			if !fits(&b, x, y, size, horizontal) {
				continue
			}
			for i := 0; i < size; i++ {
				if horizontal {
					b[x][y+i] = Ship
				} else {
					b[x+i][y] = Ship
				}
			}
			placed = true
			break
		}
		if !placed {
			return NewBoard()
		}
	}
	return b
}

// fits reports whether a ship of the given size can start at (x, y) without
// overlapping or touching any ship already on b.
func fits(b *Board, x, y, size int, horizontal bool) bool {
	for i := 0; i < size; i++ {
		cx, cy := x, y+i
		if !horizontal {
			cx, cy = x+i, y
		}
		if !InBounds(cx, cy) || b[cx][cy] != Empty {
			return false
		}
		for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := cx+d[0], cy+d[1]
			if InBounds(nx, ny) && b[nx][ny] == Ship {
				return false
			}
		}
	}
	return true
}

// ShipPlacement is one entry of a fleet_array payload: the [x, y] pairs
// covered by a single ship.
type ShipPlacement struct {
	Coords [][]int `json:"coords"`
}

// FleetFromShips builds a layout from ship coordinates. Malformed and
// out-of-range pairs are skipped; the result still has to pass ValidateBoard.
func FleetFromShips(ships []ShipPlacement) Board {
	b := NewBoard()
	for _, s := range ships {
		for _, c := range s.Coords {
			if len(c) < 2 || !InBounds(c[0], c[1]) {
				continue
			}
			b[c[0]][c[1]] = Ship
		}
	}
	return b
}

// FleetFromRows converts a raw grid into a layout. The grid must be 10x10 and
// hold only Empty or Ship values.
func FleetFromRows(rows [][]int) (Board, error) {
	var b Board
	if len(rows) != Size {
		return b, fmt.Errorf("expected %d rows, got %d: %w", Size, len(rows), apperr.ErrInvalidBoard)
	}
	for x, row := range rows {
		if len(row) != Size {
			return b, fmt.Errorf("row %d has %d cells: %w", x, len(row), apperr.ErrInvalidBoard)
		}
		for y, v := range row {
			if v != int(Empty) && v != int(Ship) {
				return b, fmt.Errorf("cell (%d,%d)=%d: %w", x, y, v, apperr.ErrInvalidBoard)
			}
			b[x][y] = Cell(v)
		}
	}
	return b, nil
}
