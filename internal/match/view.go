// internal/match/view.go
package match

import (
	"github.com/jason-s-yu/salvo/internal/battleship"
	"github.com/jason-s-yu/salvo/internal/models"
)

// PlayerInfo identifies the holder of a seat in a View.
type PlayerInfo struct {
	UserID   string            `json:"id"`
	Username string            `json:"username"`
	Kind     models.PlayerKind `json:"kind"`
	Ready    bool              `json:"ready"`
}

// View is the match_state payload for a single viewer.
type View struct {
	Code        string             `json:"code"`
	Role        Role               `json:"role"`
	Status      models.MatchStatus `json:"status"`
	StatusLabel string             `json:"status_label"`
	Turn        models.Side        `json:"turn,omitempty"`
	TurnID      string             `json:"turn_id,omitempty"`
	Winner      models.Side        `json:"winner,omitempty"`
	P1          *PlayerInfo        `json:"p1"`
	P2          *PlayerInfo        `json:"p2"`
	P1Board     *battleship.Board  `json:"p1_board"`
	P2Board     *battleship.Board  `json:"p2_board"`
}

// Project builds the view of m for viewer.
//
// Spectators get no boards during placement and everything afterwards.
// Players always see their own board; the opponent's is withheld during
// placement, masked during play and revealed once the match is over.
func Project(m *models.Match, viewer models.Identity) View {
	side := m.SideOf(viewer.UserID)
	role := roleOf(side)
	v := View{
		Code:        m.Code,
		Role:        role,
		Status:      m.Status,
		StatusLabel: StatusLabel(m, role),
		Turn:        m.Turn,
		TurnID:      m.TurnID,
		Winner:      m.Winner,
		P1:          playerInfo(&m.P1),
		P2:          playerInfo(&m.P2),
	}

	for _, s := range []models.Side{models.SideP1, models.SideP2} {
		board := boardFor(m, s, side)
		switch s {
		case models.SideP1:
			v.P1Board = board
		case models.SideP2:
			v.P2Board = board
		}
	}
	return v
}

// boardFor returns the board of owner as seen from viewer (SideNone for
// spectators), or nil when it must not be shown.
func boardFor(m *models.Match, owner, viewer models.Side) *battleship.Board {
	seat := m.Seat(owner)
	if seat.Sea == nil {
		return nil
	}
	b := seat.Sea.Board()

	if viewer == models.SideNone {
		if m.Status == models.MatchWaiting {
			return nil
		}
		return &b
	}
	if viewer == owner {
		return &b
	}
	switch m.Status {
	case models.MatchWaiting:
		return nil
	case models.MatchInProgress:
		masked := battleship.Mask(b, false)
		return &masked
	}
	return &b
}

func playerInfo(s *models.Seat) *PlayerInfo {
	if s.Open() {
		return nil
	}
	return &PlayerInfo{UserID: s.UserID, Username: s.Username, Kind: s.Kind, Ready: s.Ready}
}

// StatusLabel is the human readable state line shown to role.
func StatusLabel(m *models.Match, role Role) string {
	var mine, theirs *models.Seat
	switch role {
	case RoleP1:
		mine, theirs = &m.P1, &m.P2
	case RoleP2:
		mine, theirs = &m.P2, &m.P1
	}

	switch m.Status {
	case models.MatchWaiting:
		if mine == nil {
			return "Players are placing their ships"
		}
		if !mine.Ready {
			return "Place your ships on the grid"
		}
		if !theirs.Ready {
			return "Waiting for your opponent..."
		}
		return "Setup complete"
	case models.MatchInProgress:
		if mine == nil {
			return "Battle in progress"
		}
		if string(m.Turn) == string(role) {
			return "Your turn!"
		}
		return "Opponent's turn"
	case models.MatchFinished:
		if mine == nil {
			return "Game over"
		}
		if string(m.Winner) == string(role) {
			return "Game over, you won!"
		}
		return "Game over, you lost"
	}
	return ""
}
