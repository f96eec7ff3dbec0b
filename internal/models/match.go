package models

import (
	"time"

	"github.com/jason-s-yu/salvo/internal/battleship"
)

// MatchStatus is the persisted state of a native match.
type MatchStatus string

const (
	MatchWaiting    MatchStatus = "waiting"
	MatchInProgress MatchStatus = "in_progress"
	MatchFinished   MatchStatus = "finished"
)

// Side names a seat. The zero value means no side.
type Side string

const (
	SideNone Side = ""
	SideP1   Side = "p1"
	SideP2   Side = "p2"
)

// Other returns the opposing side.
func (s Side) Other() Side {
	switch s {
	case SideP1:
		return SideP2
	case SideP2:
		return SideP1
	}
	return SideNone
}

// Seat is one side of a match. An empty UserID means the seat is open.
type Seat struct {
	UserID   string          `json:"user_id,omitempty"`
	Username string          `json:"username,omitempty"`
	Kind     PlayerKind      `json:"kind,omitempty"`
	Ready    bool            `json:"ready"`
	Sea      *battleship.Sea `json:"sea,omitempty"`
}

// Open reports whether nobody holds the seat.
func (s *Seat) Open() bool {
	return s.UserID == ""
}

// Match is the persisted record keyed by Code. Every mutation goes through a
// repository transaction.
type Match struct {
	Code      string      `json:"code"`
	Status    MatchStatus `json:"status"`
	P1        Seat        `json:"p1"`
	P2        Seat        `json:"p2"`
	Turn      Side        `json:"turn,omitempty"`
	TurnID    string      `json:"turn_id,omitempty"`
	Winner    Side        `json:"winner,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewMatch returns a waiting match with both seats open.
func NewMatch(code string, now time.Time) *Match {
	return &Match{
		Code:      code,
		Status:    MatchWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Seat returns the seat for side, or nil.
func (m *Match) Seat(side Side) *Seat {
	switch side {
	case SideP1:
		return &m.P1
	case SideP2:
		return &m.P2
	}
	return nil
}

// SideOf returns the side held by userID, or SideNone for spectators.
func (m *Match) SideOf(userID string) Side {
	switch {
	case userID == "":
		return SideNone
	case m.P1.UserID == userID:
		return SideP1
	case m.P2.UserID == userID:
		return SideP2
	}
	return SideNone
}

// SetTurn points the turn at side and resolves the identity that may act.
func (m *Match) SetTurn(side Side) {
	m.Turn = side
	m.TurnID = ""
	if s := m.Seat(side); s != nil {
		m.TurnID = s.UserID
	}
}

// ResetRound clears fleets, shot logs, ready flags, turn and winner while
// keeping both identities seated.
func (m *Match) ResetRound() {
	m.Status = MatchWaiting
	m.Turn, m.TurnID, m.Winner = SideNone, "", SideNone
	for _, s := range []*Seat{&m.P1, &m.P2} {
		s.Ready = false
		s.Sea = nil
	}
}

// Clone returns a deep copy.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.P1.Sea = m.P1.Sea.Clone()
	c.P2.Sea = m.P2.Sea.Clone()
	return &c
}
