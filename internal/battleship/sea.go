// internal/battleship/sea.go
package battleship

import "math/rand/v2"

// Shot is one resolved entry of a shot log.
type Shot struct {
	X   int  `json:"x"`
	Y   int  `json:"y"`
	Hit bool `json:"hit"`
}

// Sea is one side of a match: the fleet layout, fixed once play starts, and
// the append-only log of shots it has received. The visible board is always
// derived from the two.
type Sea struct {
	Fleet Board  `json:"fleet"`
	Shots []Shot `json:"shots,omitempty"`
}

// NewSea keeps only the Ship cells of layout.
func NewSea(layout Board) *Sea {
	s := &Sea{}
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if layout[x][y] == Ship {
				s.Fleet[x][y] = Ship
			}
		}
	}
	return s
}

// Board derives the current board from the fleet and the shot log.
func (s *Sea) Board() Board {
	b := s.Fleet
	for _, sh := range s.Shots {
		if sh.Hit {
			b[sh.X][sh.Y] = Hit
		} else {
			b[sh.X][sh.Y] = Miss
		}
	}
	return b
}

// Alive reports whether any ship cell has not been hit yet.
func (s *Sea) Alive() bool {
	return IsAlive(s.Board())
}

// Fire resolves a shot against the derived board and appends it to the log.
// Rejected shots leave the log unchanged.
func (s *Sea) Fire(x, y int) (Outcome, error) {
	b := s.Board()
	out, err := ApplyShot(&b, x, y)
	if err != nil {
		return "", err
	}
	s.Shots = append(s.Shots, Shot{X: x, Y: y, Hit: out == OutcomeHit})
	return out, nil
}

// Clone returns a deep copy.
func (s *Sea) Clone() *Sea {
	if s == nil {
		return nil
	}
	c := &Sea{Fleet: s.Fleet}
	if len(s.Shots) > 0 {
		c.Shots = append([]Shot(nil), s.Shots...)
	}
	return c
}

// RandomTarget picks a cell that has not been shot yet. ok is false once every
// cell is taken.
func (s *Sea) RandomTarget(rng *rand.Rand) (x, y int, ok bool) {
	b := s.Board()
	var open [][2]int
	for cx := 0; cx < Size; cx++ {
		for cy := 0; cy < Size; cy++ {
			if !b.Targeted(cx, cy) {
				open = append(open, [2]int{cx, cy})
			}
		}
	}
	if len(open) == 0 {
		return 0, 0, false
	}
	intn := rand.IntN
	if rng != nil {
		intn = rng.IntN
	}
	pick := open[intn(len(open))]
	return pick[0], pick[1], true
}
