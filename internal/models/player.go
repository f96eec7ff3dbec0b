package models

// PlayerKind distinguishes real users from the computer stand-in.
type PlayerKind string

const (
	PlayerHuman PlayerKind = "human"
	PlayerBot   PlayerKind = "bot"
)

// Role is a lobby slot's role.
type Role string

const (
	RoleCreator Role = "creator"
	RolePlayer  Role = "player"
	RoleBot     Role = "bot"
)

// BotUserID and BotUsername identify the computer opponent in views.
const (
	BotUserID   = "bot"
	BotUsername = "Computer"
)

// PlayerSlot is one seat in a lobby. A user holds a single slot no matter how
// many connections they have open.
type PlayerSlot struct {
	UserID   string
	Username string
	Role     Role
	Kind     PlayerKind
	Ready    bool

	// Conns holds the ids of the connections currently attached to this slot.
	Conns map[string]struct{}
}

// IsHuman reports whether the slot belongs to a real user.
func (p *PlayerSlot) IsHuman() bool {
	return p.Kind == PlayerHuman
}

// Spectator is a watching connection.
type Spectator struct {
	ConnID   string `json:"conn_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}
