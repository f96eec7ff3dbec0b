// internal/session/service.go
package session

import (
	"context"
	"time"

	"github.com/jason-s-yu/salvo/internal/lobby"
	"github.com/jason-s-yu/salvo/internal/match"
	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/sirupsen/logrus"
)

// Options tunes idle reclamation. A zero TTL disables that sweep.
type Options struct {
	LobbyIdleTTL time.Duration
	MatchIdleTTL time.Duration
}

// Service routes client actions to the lobby registry or the match store and
// turns the results into deliveries for the transport.
type Service struct {
	lobbies *lobby.Registry
	matches *match.Store
	opts    Options
	logger  logrus.FieldLogger
	now     func() time.Time
}

// Caller is the connection an action arrived on.
type Caller struct {
	ConnID   string
	Identity models.Identity
}

func New(lobbies *lobby.Registry, matches *match.Store, opts Options, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		lobbies: lobbies,
		matches: matches,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateLobby registers a lobby without attaching a connection. The creator
// joins it over the socket afterwards.
func (s *Service) CreateLobby(creator models.Identity, opts lobby.CreateOptions) models.LobbyView {
	l := s.lobbies.Create(creator, opts)
	return l.View(creator.UserID)
}

// Lobby returns one lobby as seen by viewer.
func (s *Service) Lobby(code string, viewer models.Identity) (models.LobbyView, error) {
	return s.lobbies.Get(normalizeLobbyCode(code), viewer)
}

// Lobbies lists the lobbies viewer may see.
func (s *Service) Lobbies(viewer models.Identity) []models.LobbyView {
	return s.lobbies.List(viewer)
}

// Disconnect detaches connID from every lobby. Failures are logged, never
// returned, so transport teardown is not held up.
func (s *Service) Disconnect(connID string) []Delivery {
	changes := s.lobbies.CleanupConnection(connID)
	var out []Delivery
	for _, ch := range changes {
		out = append(out, changeDeliveries(ch)...)
	}
	if len(changes) > 0 {
		s.logger.WithFields(logrus.Fields{"conn": connID, "lobbies": len(changes)}).Debug("connection cleaned up")
	}
	return out
}

// Sweep reclaims idle lobbies and stale matches as of now.
func (s *Service) Sweep(ctx context.Context, now time.Time) []Delivery {
	var out []Delivery
	for _, ch := range s.lobbies.SweepIdle(now, s.opts.LobbyIdleTTL) {
		out = append(out, changeDeliveries(ch)...)
	}
	if len(out) > 0 {
		s.logger.WithField("count", len(out)).Info("idle lobbies closed")
	}

	if s.opts.MatchIdleTTL > 0 {
		n, err := s.matches.DeleteStale(ctx, now.Add(-s.opts.MatchIdleTTL))
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("stale match sweep failed")
		case n > 0:
			s.logger.WithField("count", n).Info("stale matches deleted")
		}
	}
	return out
}

// RunSweeper calls Sweep every interval until ctx ends and hands the
// resulting deliveries to deliver. A non-positive interval returns at once.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration, deliver func([]Delivery)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if out := s.Sweep(ctx, s.now()); len(out) > 0 && deliver != nil {
				deliver(out)
			}
		}
	}
}

// changeDeliveries announces a lobby change from cleanup, leave or a sweep.
func changeDeliveries(ch lobby.Change) []Delivery {
	room := LobbyRoom(ch.Code)
	if ch.Closed {
		d := toRoom(room, models.EventLobbyClosed, LobbyClosed{Code: ch.Code, Reason: ch.Reason})
		d.Dissolve = true
		return []Delivery{d}
	}
	var out []Delivery
	if ch.OpponentLeft {
		out = append(out, toRoom(room, models.EventOpponentLeft, OpponentNotice{Code: ch.Code}))
	}
	if ch.Lobby != nil {
		out = append(out, lobbyUpdate(ch.Lobby))
	}
	return out
}

func lobbyUpdate(l *lobby.Lobby) Delivery {
	return toRoomRendered(LobbyRoom(l.Code), func(viewer models.Identity) models.Event {
		return models.Event{Type: models.EventLobbyUpdate, Payload: l.View(viewer.UserID)}
	})
}

func matchState(m *models.Match) Delivery {
	return toRoomRendered(MatchRoom(m.Code), func(viewer models.Identity) models.Event {
		return models.Event{Type: models.EventMatchState, Payload: match.Project(m, viewer)}
	})
}
