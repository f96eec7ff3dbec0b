// internal/lobby/registry.go
package lobby

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jason-s-yu/salvo/internal/apperr"
	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultName = "Battleship"
	DefaultMode = "pve"

	// ReasonNoPlayers is reported when the last human leaves a waiting lobby.
	ReasonNoPlayers = "no_players"
	// ReasonIdle is reported when the sweeper reclaims an abandoned lobby.
	ReasonIdle = "idle"
)

// Registry holds every live lobby. One mutex guards the code map, the nested
// slot and spectator maps and the connection index. Methods never call out
// while holding it; they return snapshots and the caller broadcasts after.
type Registry struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby
	// conns maps connID -> codes the connection has joined.
	conns map[string]map[string]struct{}

	logger logrus.FieldLogger
	now    func() time.Time
	intn   func(int) int
}

// NewRegistry returns an empty registry. A nil logger uses the logrus
// standard logger.
func NewRegistry(logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		lobbies: make(map[string]*Lobby),
		conns:   make(map[string]map[string]struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

// CreateOptions are the caller-supplied lobby settings.
type CreateOptions struct {
	Name    string
	Mode    string
	Invited string
}

// Change describes what happened to one lobby during connection cleanup or
// an idle sweep.
type Change struct {
	Code string
	// Lobby is nil when the lobby was destroyed.
	Lobby        *Lobby
	Closed       bool
	Reason       string
	OpponentLeft bool
	BotJoined    bool
}

// Create registers a new lobby with creator as its only, not-ready player.
func (r *Registry) Create(creator models.Identity, opts CreateOptions) *Lobby {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = DefaultName
	}
	mode := strings.TrimSpace(opts.Mode)
	if mode == "" {
		mode = DefaultMode
	}
	invited := strings.TrimSpace(opts.Invited)

	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.uniqueCodeUnsafe()
	l := newLobby(code, creator, name, mode, invited, r.now())
	r.lobbies[code] = l
	r.logger.WithFields(logrus.Fields{"code": code, "creator": creator.UserID, "private": l.IsPrivate}).Info("lobby created")
	return l.snapshot()
}

// uniqueCodeUnsafe rejection-samples until the code is not live.
// Caller must hold r.mu.
func (r *Registry) uniqueCodeUnsafe() string {
	for {
		code := randomCode(r.intn)
		if _, taken := r.lobbies[code]; !taken {
			return code
		}
	}
}

// Join attaches connID to the lobby, as a spectator or in the caller's slot.
// opponentJoined is set when the join brings a running lobby back to two or
// more connected humans.
func (r *Registry) Join(code string, id models.Identity, connID string, asSpectator bool) (snap *Lobby, opponentJoined bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.lobbies[code]
	if !ok {
		return nil, false, fmt.Errorf("lobby %s: %w", code, apperr.ErrNotFound)
	}
	if !l.CanAccess(id) {
		return nil, false, fmt.Errorf("lobby %s is private: %w", code, apperr.ErrAccessDenied)
	}

	if asSpectator {
		l.Spectators[connID] = models.Spectator{ConnID: connID, UserID: id.UserID, Username: id.Username}
		r.indexUnsafe(connID, code)
		return l.snapshot(), false, nil
	}

	slot, exists := l.Players[id.UserID]
	if !exists {
		if l.humanSlots() >= l.MaxPlayers {
			return nil, false, fmt.Errorf("lobby %s: %w", code, apperr.ErrSessionFull)
		}
		slot = &models.PlayerSlot{
			UserID:   id.UserID,
			Username: id.Username,
			Role:     models.RolePlayer,
			Kind:     models.PlayerHuman,
			Conns:    map[string]struct{}{},
		}
		l.Players[id.UserID] = slot
	}
	l.removeBots()
	if l.Status == models.LobbyWaiting {
		slot.Ready = false
	}
	slot.Conns[connID] = struct{}{}
	r.indexUnsafe(connID, code)

	opponentJoined = l.Status == models.LobbyInProgress && l.connectedHumans() >= 2
	return l.snapshot(), opponentJoined, nil
}

func (r *Registry) indexUnsafe(connID, code string) {
	codes, ok := r.conns[connID]
	if !ok {
		codes = make(map[string]struct{})
		r.conns[connID] = codes
	}
	codes[code] = struct{}{}
}

// SetReady flips the caller's own ready flag. Non-members change nothing.
func (r *Registry) SetReady(code string, id models.Identity, ready bool) (*Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.lobbies[code]
	if !ok {
		return nil, fmt.Errorf("lobby %s: %w", code, apperr.ErrNotFound)
	}
	slot, ok := l.Players[id.UserID]
	if !ok || !slot.IsHuman() {
		return nil, fmt.Errorf("not a player in lobby %s: %w", code, apperr.ErrAccessDenied)
	}
	slot.Ready = ready
	return l.snapshot(), nil
}

// Start moves a waiting lobby to in_progress. Only the creator may start, and
// only once every human slot is ready.
func (r *Registry) Start(code string, id models.Identity) (*Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.lobbies[code]
	if !ok {
		return nil, fmt.Errorf("lobby %s: %w", code, apperr.ErrNotFound)
	}
	if id.UserID != l.Creator.UserID {
		return nil, fmt.Errorf("only the creator can start lobby %s: %w", code, apperr.ErrAccessDenied)
	}
	if l.Status != models.LobbyWaiting {
		return nil, fmt.Errorf("lobby %s is %s: %w", code, l.Status, apperr.ErrNotReady)
	}
	if !l.allHumansReady() {
		return nil, fmt.Errorf("lobby %s has players not ready: %w", code, apperr.ErrNotReady)
	}
	l.Status = models.LobbyInProgress
	r.logger.WithField("code", code).Info("lobby started")
	return l.snapshot(), nil
}

// RequestRematch checks the caller is a human player. The request itself is
// only broadcast; nothing is stored.
func (r *Registry) RequestRematch(code string, id models.Identity) (*Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.playerLobbyUnsafe(code, id)
	if err != nil {
		return nil, err
	}
	return l.snapshot(), nil
}

// AnswerRematch resets the lobby to waiting with every human not ready when
// accept is true.
func (r *Registry) AnswerRematch(code string, id models.Identity, accept bool) (*Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.playerLobbyUnsafe(code, id)
	if err != nil {
		return nil, err
	}
	if accept {
		for _, p := range l.Players {
			if p.IsHuman() {
				p.Ready = false
			}
		}
		l.Status = models.LobbyWaiting
	}
	return l.snapshot(), nil
}

func (r *Registry) playerLobbyUnsafe(code string, id models.Identity) (*Lobby, error) {
	l, ok := r.lobbies[code]
	if !ok {
		return nil, fmt.Errorf("lobby %s: %w", code, apperr.ErrNotFound)
	}
	if p, ok := l.Players[id.UserID]; !ok || !p.IsHuman() {
		return nil, fmt.Errorf("not a player in lobby %s: %w", code, apperr.ErrAccessDenied)
	}
	return l, nil
}

// Leave detaches connID from a single lobby, with the same consequences as a
// disconnect for that lobby.
func (r *Registry) Leave(code, connID string) (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes, ok := r.conns[connID]
	if !ok {
		return Change{}, false
	}
	if _, joined := codes[code]; !joined {
		return Change{}, false
	}
	delete(codes, code)
	if len(codes) == 0 {
		delete(r.conns, connID)
	}
	return r.detachUnsafe(code, connID)
}

// CleanupConnection removes connID from every lobby it joined. A lobby left
// without connected humans gets a bot if it is running and is destroyed
// otherwise.
func (r *Registry) CleanupConnection(connID string) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)

	ordered := make([]string, 0, len(codes))
	for code := range codes {
		ordered = append(ordered, code)
	}
	sort.Strings(ordered)

	var changes []Change
	for _, code := range ordered {
		if ch, ok := r.detachUnsafe(code, connID); ok {
			changes = append(changes, ch)
		}
	}
	return changes
}

func (r *Registry) detachUnsafe(code, connID string) (Change, bool) {
	l, ok := r.lobbies[code]
	if !ok {
		return Change{}, false
	}

	before := l.connectedHumans()
	for _, p := range l.Players {
		delete(p.Conns, connID)
	}
	delete(l.Spectators, connID)
	after := l.connectedHumans()

	ch := Change{Code: code}
	if after == 0 {
		if l.Status == models.LobbyInProgress {
			if _, hasBot := l.Players[models.BotUserID]; !hasBot {
				l.addBot()
				ch.BotJoined = true
			}
		} else {
			r.destroyUnsafe(l)
			ch.Closed = true
			ch.Reason = ReasonNoPlayers
			r.logger.WithField("code", code).Info("lobby closed, no players left")
			return ch, true
		}
	} else if l.Status == models.LobbyInProgress && before >= 2 && after == 1 {
		ch.OpponentLeft = true
	}
	ch.Lobby = l.snapshot()
	return ch, true
}

// destroyUnsafe drops the lobby and every index entry that points at it.
func (r *Registry) destroyUnsafe(l *Lobby) {
	delete(r.lobbies, l.Code)
	var attached []string
	for _, p := range l.Players {
		for id := range p.Conns {
			attached = append(attached, id)
		}
	}
	for id := range l.Spectators {
		attached = append(attached, id)
	}
	for _, id := range attached {
		if codes, ok := r.conns[id]; ok {
			delete(codes, l.Code)
			if len(codes) == 0 {
				delete(r.conns, id)
			}
		}
	}
}

// SweepIdle closes waiting lobbies with no connected human that were created
// more than ttl before now. A zero ttl disables the sweep.
func (r *Registry) SweepIdle(now time.Time, ttl time.Duration) []Change {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []Change
	for code, l := range r.lobbies {
		if l.Status != models.LobbyWaiting || l.connectedHumans() > 0 {
			continue
		}
		if now.Sub(l.CreatedAt) < ttl {
			continue
		}
		r.destroyUnsafe(l)
		changes = append(changes, Change{Code: code, Closed: true, Reason: ReasonIdle})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Code < changes[j].Code })
	return changes
}

// Get returns the lobby as seen by viewer.
func (r *Registry) Get(code string, viewer models.Identity) (models.LobbyView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.lobbies[code]
	if !ok {
		return models.LobbyView{}, fmt.Errorf("lobby %s: %w", code, apperr.ErrNotFound)
	}
	if !l.CanAccess(viewer) {
		return models.LobbyView{}, fmt.Errorf("lobby %s is private: %w", code, apperr.ErrAccessDenied)
	}
	return l.View(viewer.UserID), nil
}

// List returns every lobby viewer may see, oldest first.
func (r *Registry) List(viewer models.Identity) []models.LobbyView {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.LobbyView, 0, len(r.lobbies))
	var visible []*Lobby
	for _, l := range r.lobbies {
		if l.CanAccess(viewer) {
			visible = append(visible, l)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].Code < visible[j].Code
		}
		return visible[i].CreatedAt.Before(visible[j].CreatedAt)
	})
	for _, l := range visible {
		out = append(out, l.View(viewer.UserID))
	}
	return out
}

// Len returns the number of live lobbies.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lobbies)
}
