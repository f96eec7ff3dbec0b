// internal/session/actions.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jason-s-yu/salvo/internal/apperr"
	"github.com/jason-s-yu/salvo/internal/battleship"
	"github.com/jason-s-yu/salvo/internal/lobby"
	"github.com/jason-s-yu/salvo/internal/match"
	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/sirupsen/logrus"
)

// Action is an inbound client message.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound action types.
const (
	ActionCreate         = "create"
	ActionJoin           = "join"
	ActionSetReady       = "set_ready"
	ActionStart          = "start"
	ActionRequestRematch = "request_rematch"
	ActionAnswerRematch  = "answer_rematch"
	ActionLeave          = "leave"

	ActionMatchJoin   = "match_join"
	ActionPlaceBoard  = "place_board"
	ActionMatchReady  = "match_ready"
	ActionPlayerReady = "player_ready"
	ActionFire        = "fire"
	ActionRematch     = "rematch"
	ActionChat        = "chat"
)

type createPayload struct {
	Name    string `json:"name"`
	Mode    string `json:"mode"`
	Invited string `json:"invited"`
}

type lobbyPayload struct {
	Code      string `json:"code"`
	Spectator bool   `json:"spectator"`
	Ready     bool   `json:"ready"`
	Accept    bool   `json:"accept"`
}

type matchPayload struct {
	Code       string                     `json:"code"`
	Spectator  bool                       `json:"spectator"`
	Bot        bool                       `json:"bot"`
	Board      [][]int                    `json:"board"`
	FleetArray []battleship.ShipPlacement `json:"fleet_array"`
	X          *int                       `json:"x"`
	Y          *int                       `json:"y"`
	Message    string                     `json:"message"`
}

// Handle decodes one raw client message and dispatches it.
func (s *Service) Handle(ctx context.Context, caller Caller, raw []byte) []Delivery {
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return []Delivery{errorDelivery(caller, models.EventLobbyError, "", fmt.Errorf("malformed message: %w", apperr.ErrInvalidMessage))}
	}
	return s.Dispatch(ctx, caller, a)
}

// Dispatch runs a decoded action. Failures come back as a lobby_error or
// match_error addressed to the caller's connection only.
func (s *Service) Dispatch(ctx context.Context, caller Caller, a Action) []Delivery {
	log := s.logger.WithFields(logrus.Fields{"action": a.Type, "user": caller.Identity.UserID, "conn": caller.ConnID})

	var (
		out     []Delivery
		err     error
		errType = models.EventLobbyError
	)
	switch a.Type {
	case ActionCreate, ActionJoin, ActionSetReady, ActionStart, ActionRequestRematch, ActionAnswerRematch, ActionLeave:
		out, err = s.dispatchLobby(caller, a)
	case ActionMatchJoin, ActionPlaceBoard, ActionMatchReady, ActionPlayerReady, ActionFire, ActionRematch, ActionChat:
		errType = models.EventMatchError
		out, err = s.dispatchMatch(ctx, caller, a)
	default:
		err = fmt.Errorf("unknown action %q: %w", a.Type, apperr.ErrInvalidMessage)
	}

	if err != nil {
		if apperr.Code(err) == apperr.CodeInternal {
			log.WithError(err).Error("action failed")
		} else {
			log.WithError(err).Debug("action rejected")
		}
		return []Delivery{errorDelivery(caller, errType, a.Type, err)}
	}
	return out
}

func errorDelivery(caller Caller, typ models.EventType, action string, err error) Delivery {
	return toConn(caller.ConnID, typ, models.ErrorPayload{
		Action:  action,
		Code:    apperr.Code(err),
		Message: apperr.Message(err),
	})
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed payload: %w", apperr.ErrInvalidMessage)
	}
	return nil
}

// normalizeLobbyCode accepts codes typed in any case.
func normalizeLobbyCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) dispatchLobby(caller Caller, a Action) ([]Delivery, error) {
	id := caller.Identity

	if a.Type == ActionCreate {
		var p createPayload
		if err := decodePayload(a.Payload, &p); err != nil {
			return nil, err
		}
		created := s.lobbies.Create(id, lobby.CreateOptions{Name: p.Name, Mode: p.Mode, Invited: p.Invited})
		return s.joinLobby(caller, created.Code, false)
	}

	var p lobbyPayload
	if err := decodePayload(a.Payload, &p); err != nil {
		return nil, err
	}
	code := normalizeLobbyCode(p.Code)
	room := LobbyRoom(code)

	switch a.Type {
	case ActionJoin:
		return s.joinLobby(caller, code, p.Spectator)

	case ActionSetReady:
		l, err := s.lobbies.SetReady(code, id, p.Ready)
		if err != nil {
			return nil, err
		}
		return []Delivery{lobbyUpdate(l)}, nil

	case ActionStart:
		l, err := s.lobbies.Start(code, id)
		if err != nil {
			return nil, err
		}
		return []Delivery{toRoomRendered(room, func(viewer models.Identity) models.Event {
			return models.Event{Type: models.EventLobbyStarted, Payload: l.View(viewer.UserID)}
		})}, nil

	case ActionRequestRematch:
		if _, err := s.lobbies.RequestRematch(code, id); err != nil {
			return nil, err
		}
		return []Delivery{toRoom(room, models.EventRematchRequest, RematchRequest{Code: code, From: id})}, nil

	case ActionAnswerRematch:
		l, err := s.lobbies.AnswerRematch(code, id, p.Accept)
		if err != nil {
			return nil, err
		}
		out := []Delivery{toRoom(room, models.EventRematchResult, RematchResult{Code: code, Accepted: p.Accept, By: id})}
		if p.Accept {
			out = append(out, lobbyUpdate(l))
		}
		return out, nil

	case ActionLeave:
		ch, ok := s.lobbies.Leave(code, caller.ConnID)
		if !ok {
			return nil, fmt.Errorf("not in lobby %s: %w", code, apperr.ErrNotFound)
		}
		return append([]Delivery{unsubscribe(caller.ConnID, room)}, changeDeliveries(ch)...), nil
	}
	return nil, fmt.Errorf("unknown action %q: %w", a.Type, apperr.ErrInvalidMessage)
}

func (s *Service) joinLobby(caller Caller, code string, spectator bool) ([]Delivery, error) {
	l, opponentJoined, err := s.lobbies.Join(code, caller.Identity, caller.ConnID, spectator)
	if err != nil {
		return nil, err
	}
	room := LobbyRoom(code)
	out := []Delivery{
		subscribe(caller.ConnID, room),
		toConn(caller.ConnID, models.EventLobbyJoined, LobbyJoined{
			Code:      code,
			Spectator: spectator,
			Lobby:     l.View(caller.Identity.UserID),
		}),
		lobbyUpdate(l),
	}
	if opponentJoined {
		who := caller.Identity
		out = append(out, toRoom(room, models.EventOpponentJoined, OpponentNotice{Code: code, User: &who}))
	}
	return out, nil
}

func (s *Service) dispatchMatch(ctx context.Context, caller Caller, a Action) ([]Delivery, error) {
	var p matchPayload
	if err := decodePayload(a.Payload, &p); err != nil {
		return nil, err
	}
	id := caller.Identity
	code := strings.TrimSpace(p.Code)
	room := MatchRoom(code)

	switch a.Type {
	case ActionMatchJoin:
		var (
			res *match.JoinResult
			err error
		)
		if p.Bot {
			res, err = s.matches.JoinBot(ctx, code, id)
		} else {
			res, err = s.matches.JoinOrCreate(ctx, code, id, p.Spectator)
		}
		if err != nil {
			return nil, err
		}
		out := []Delivery{subscribe(caller.ConnID, room), matchState(res.Match)}
		if res.Started {
			out = append(out, matchStarted(res.Match))
		}
		return out, nil

	case ActionPlaceBoard:
		fleet, err := battleship.FleetFromRows(p.Board)
		if err != nil {
			return nil, err
		}
		m, err := s.matches.PlaceBoard(ctx, code, id, fleet)
		if err != nil {
			return nil, err
		}
		return []Delivery{matchState(m)}, nil

	case ActionMatchReady, ActionPlayerReady:
		var (
			m       *models.Match
			started bool
			err     error
		)
		if a.Type == ActionPlayerReady {
			m, started, err = s.matches.ReadyWithFleet(ctx, code, id, p.FleetArray)
		} else {
			m, started, err = s.matches.SetReady(ctx, code, id)
		}
		if err != nil {
			return nil, err
		}
		out := []Delivery{matchState(m)}
		if started {
			out = append(out, matchStarted(m))
		}
		return out, nil

	case ActionFire:
		if p.X == nil || p.Y == nil {
			return nil, fmt.Errorf("fire needs x and y: %w", apperr.ErrInvalidCoordinate)
		}
		res, err := s.matches.Fire(ctx, code, id, *p.X, *p.Y)
		if err != nil {
			return nil, err
		}
		out := make([]Delivery, 0, len(res.Shots)+1)
		for _, shot := range res.Shots {
			out = append(out, toRoom(room, models.EventFireResult, FireResult{Code: res.Match.Code, ShotResult: shot}))
		}
		return append(out, matchState(res.Match)), nil

	case ActionRematch:
		m, err := s.matches.Rematch(ctx, code, id)
		if err != nil {
			return nil, err
		}
		return []Delivery{matchState(m)}, nil

	case ActionChat:
		msg, err := s.matches.Chat(ctx, code, id, p.Message)
		if err != nil {
			return nil, err
		}
		return []Delivery{toRoom(room, models.EventMatchChat, msg)}, nil
	}
	return nil, fmt.Errorf("unknown action %q: %w", a.Type, apperr.ErrInvalidMessage)
}

func matchStarted(m *models.Match) Delivery {
	return toRoom(MatchRoom(m.Code), models.EventMatchStarted, MatchStarted{Code: m.Code, TurnID: m.TurnID})
}
