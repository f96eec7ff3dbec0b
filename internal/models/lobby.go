package models

// LobbyStatus is the lifecycle state of an ephemeral lobby.
type LobbyStatus string

const (
	LobbyWaiting    LobbyStatus = "waiting"
	LobbyInProgress LobbyStatus = "in_progress"
)

// LobbyView is a lobby as serialized for one viewer.
type LobbyView struct {
	Code            string       `json:"code"`
	GameName        string       `json:"game_name"`
	Mode            string       `json:"mode"`
	Status          LobbyStatus  `json:"status"`
	IsPrivate       bool         `json:"is_private"`
	MaxPlayers      int          `json:"max_players"`
	CreatorID       string       `json:"creator_id"`
	CreatorUsername string       `json:"creator_username"`
	InvitedUsername string       `json:"invited_username,omitempty"`
	Players         []PlayerView `json:"players"`
	Spectators      []Spectator  `json:"spectators"`
	CreatedAt       string       `json:"created_at"`
	CanStart        bool         `json:"can_start"`
}

// PlayerView is a human slot inside a LobbyView. Bot slots are not listed.
type PlayerView struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Ready    bool   `json:"ready"`
	IsSelf   bool   `json:"is_self"`
}
