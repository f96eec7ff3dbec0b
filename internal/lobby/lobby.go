// internal/lobby/lobby.go
package lobby

import (
	"sort"
	"time"

	"github.com/jason-s-yu/salvo/internal/models"
)

// Lobby is an ephemeral pre-game session identified by a short code.
// Lobbies held by a Registry are guarded by the registry mutex; the values
// handed out by Registry methods are detached snapshots and safe to read
// without locking.
type Lobby struct {
	Code       string
	Name       string
	Mode       string
	Status     models.LobbyStatus
	IsPrivate  bool
	MaxPlayers int
	CreatedAt  time.Time

	Creator models.Identity
	// Invited is the only non-creator identity allowed into a private lobby.
	// Matched against both user id and username.
	Invited string

	// Players maps userID -> slot.
	Players map[string]*models.PlayerSlot
	// Spectators maps connID -> spectator.
	Spectators map[string]models.Spectator
}

func newLobby(code string, creator models.Identity, name, mode, invited string, now time.Time) *Lobby {
	return &Lobby{
		Code:       code,
		Name:       name,
		Mode:       mode,
		Status:     models.LobbyWaiting,
		IsPrivate:  invited != "",
		MaxPlayers: 2,
		CreatedAt:  now,
		Creator:    creator,
		Invited:    invited,
		Players: map[string]*models.PlayerSlot{
			creator.UserID: {
				UserID:   creator.UserID,
				Username: creator.Username,
				Role:     models.RoleCreator,
				Kind:     models.PlayerHuman,
				Conns:    map[string]struct{}{},
			},
		},
		Spectators: map[string]models.Spectator{},
	}
}

// CanAccess reports whether id may see and join the lobby.
func (l *Lobby) CanAccess(id models.Identity) bool {
	if !l.IsPrivate {
		return true
	}
	if id.UserID == l.Creator.UserID {
		return true
	}
	return l.Invited != "" && (l.Invited == id.UserID || l.Invited == id.Username)
}

// connectedHumans counts human slots with at least one live connection.
func (l *Lobby) connectedHumans() int {
	n := 0
	for _, p := range l.Players {
		if p.IsHuman() && len(p.Conns) > 0 {
			n++
		}
	}
	return n
}

// humanSlots counts human slots, connected or not.
func (l *Lobby) humanSlots() int {
	n := 0
	for _, p := range l.Players {
		if p.IsHuman() {
			n++
		}
	}
	return n
}

// allHumansReady reports whether at least one human exists and every human
// slot is ready.
func (l *Lobby) allHumansReady() bool {
	humans := 0
	for _, p := range l.Players {
		if !p.IsHuman() {
			continue
		}
		humans++
		if !p.Ready {
			return false
		}
	}
	return humans > 0
}

func (l *Lobby) removeBots() {
	for uid, p := range l.Players {
		if !p.IsHuman() {
			delete(l.Players, uid)
		}
	}
}

func (l *Lobby) addBot() {
	l.Players[models.BotUserID] = &models.PlayerSlot{
		UserID:   models.BotUserID,
		Username: models.BotUsername,
		Role:     models.RoleBot,
		Kind:     models.PlayerBot,
		Ready:    true,
		Conns:    map[string]struct{}{},
	}
}

// snapshot deep-copies the lobby so it can be read after the registry lock is
// released.
func (l *Lobby) snapshot() *Lobby {
	c := *l
	c.Players = make(map[string]*models.PlayerSlot, len(l.Players))
	for uid, p := range l.Players {
		cp := *p
		cp.Conns = make(map[string]struct{}, len(p.Conns))
		for id := range p.Conns {
			cp.Conns[id] = struct{}{}
		}
		c.Players[uid] = &cp
	}
	c.Spectators = make(map[string]models.Spectator, len(l.Spectators))
	for id, s := range l.Spectators {
		c.Spectators[id] = s
	}
	return &c
}

// View serializes the lobby for viewerID. Bots are left out of the player
// list and can_start is only ever true for the creator.
func (l *Lobby) View(viewerID string) models.LobbyView {
	v := models.LobbyView{
		Code:            l.Code,
		GameName:        l.Name,
		Mode:            l.Mode,
		Status:          l.Status,
		IsPrivate:       l.IsPrivate,
		MaxPlayers:      l.MaxPlayers,
		CreatorID:       l.Creator.UserID,
		CreatorUsername: l.Creator.Username,
		InvitedUsername: l.Invited,
		Players:         []models.PlayerView{},
		Spectators:      []models.Spectator{},
		CreatedAt:       l.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, p := range l.Players {
		if !p.IsHuman() {
			continue
		}
		v.Players = append(v.Players, models.PlayerView{
			UserID:   p.UserID,
			Username: p.Username,
			Role:     p.Role,
			Ready:    p.Ready,
			IsSelf:   viewerID != "" && p.UserID == viewerID,
		})
	}
	sort.Slice(v.Players, func(i, j int) bool {
		if (v.Players[i].Role == models.RoleCreator) != (v.Players[j].Role == models.RoleCreator) {
			return v.Players[i].Role == models.RoleCreator
		}
		return v.Players[i].UserID < v.Players[j].UserID
	})
	for _, s := range l.Spectators {
		v.Spectators = append(v.Spectators, s)
	}
	sort.Slice(v.Spectators, func(i, j int) bool { return v.Spectators[i].ConnID < v.Spectators[j].ConnID })

	v.CanStart = l.Status == models.LobbyWaiting &&
		viewerID != "" && viewerID == l.Creator.UserID &&
		l.allHumansReady()
	return v
}
