// internal/battleship/validate.go
package battleship

import "sort"

// FleetSizes lists the ship lengths of a legal fleet, largest first.
var FleetSizes = []int{5, 4, 3, 3, 2}

// ValidateBoard reports whether the Ship cells of b form exactly the canonical
// fleet: five straight, non-touching runs of lengths 2, 3, 3, 4 and 5.
func ValidateBoard(b Board) bool {
	var visited [Size][Size]bool
	isShip := func(x, y int) bool {
		return InBounds(x, y) && b[x][y] == Ship
	}

	var lengths []int
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if b[x][y] != Ship || visited[x][y] {
				continue
			}
			right := isShip(x, y+1)
			down := isShip(x+1, y)
			if right && down {
				// L shape or a branch
				return false
			}

			length := 1
			visited[x][y] = true
			switch {
			case right:
				for cy := y + 1; isShip(x, cy) && !visited[x][cy]; cy++ {
					if isShip(x+1, cy) || isShip(x-1, cy) {
						return false
					}
					visited[x][cy] = true
					length++
				}
			case down:
				for cx := x + 1; isShip(cx, y) && !visited[cx][y]; cx++ {
					if isShip(cx, y+1) || isShip(cx, y-1) {
						return false
					}
					visited[cx][y] = true
					length++
				}
			}
			lengths = append(lengths, length)
		}
	}

	if len(lengths) != len(FleetSizes) {
		return false
	}
	want := append([]int(nil), FleetSizes...)
	sort.Ints(want)
	sort.Ints(lengths)
	for i := range want {
		if lengths[i] != want[i] {
			return false
		}
	}
	return true
}
