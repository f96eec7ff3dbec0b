package session

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jason-s-yu/salvo/internal/apperr"
	"github.com/jason-s-yu/salvo/internal/battleship"
	"github.com/jason-s-yu/salvo/internal/lobby"
	"github.com/jason-s-yu/salvo/internal/match"
	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	u1 = models.Identity{UserID: "u1", Username: "one"}
	u2 = models.Identity{UserID: "u2", Username: "two"}
	u3 = models.Identity{UserID: "u3", Username: "three"}
)

// fanout applies deliveries the way the websocket hub does and records what
// every connection would have received.
type fanout struct {
	ids   map[string]models.Identity
	rooms map[string]map[string]bool
	inbox map[string][]models.Event
}

func newFanout() *fanout {
	return &fanout{
		ids:   map[string]models.Identity{},
		rooms: map[string]map[string]bool{},
		inbox: map[string][]models.Event{},
	}
}

func (f *fanout) apply(ds []Delivery) {
	for _, d := range ds {
		if d.Join != "" {
			if f.rooms[d.Join] == nil {
				f.rooms[d.Join] = map[string]bool{}
			}
			f.rooms[d.Join][d.ConnID] = true
		}
		if d.Leave != "" {
			delete(f.rooms[d.Leave], d.ConnID)
		}
		if !d.HasEvent() {
			continue
		}
		if d.Room != "" {
			for conn := range f.rooms[d.Room] {
				f.inbox[conn] = append(f.inbox[conn], d.EventFor(f.ids[conn]))
			}
			if d.Dissolve {
				delete(f.rooms, d.Room)
			}
			continue
		}
		f.inbox[d.ConnID] = append(f.inbox[d.ConnID], d.EventFor(f.ids[d.ConnID]))
	}
}

// take returns and clears what conn received.
func (f *fanout) take(conn string) []models.Event {
	evs := f.inbox[conn]
	delete(f.inbox, conn)
	return evs
}

func last(t *testing.T, evs []models.Event, typ models.EventType) models.Event {
	t.Helper()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == typ {
			return evs[i]
		}
	}
	t.Fatalf("no %s event in %v", typ, evs)
	return models.Event{}
}

func hasType(evs []models.Event, typ models.EventType) bool {
	for _, e := range evs {
		if e.Type == typ {
			return true
		}
	}
	return false
}

type harness struct {
	t   *testing.T
	svc *Service
	out *fanout
}

func newHarness(t *testing.T, opts Options) *harness {
	logger, _ := test.NewNullLogger()
	svc := New(lobby.NewRegistry(logger), match.NewStore(match.NewMemoryRepository(), logger), opts, logger)
	return &harness{t: t, svc: svc, out: newFanout()}
}

func (h *harness) connect(conn string, id models.Identity) Caller {
	h.out.ids[conn] = id
	return Caller{ConnID: conn, Identity: id}
}

func (h *harness) send(c Caller, typ string, payload interface{}) {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(h.t, err)
	h.out.apply(h.svc.Dispatch(context.Background(), c, Action{Type: typ, Payload: raw}))
}

func fleetRows() [][]int {
	rows := make([][]int, battleship.Size)
	for x := range rows {
		rows[x] = make([]int, battleship.Size)
	}
	for i, size := range battleship.FleetSizes {
		for y := 0; y < size; y++ {
			rows[i*2][y] = int(battleship.Ship)
		}
	}
	return rows
}

func TestLobbyScenario(t *testing.T) {
	h := newHarness(t, Options{})
	c1 := h.connect("c1", u1)
	c2 := h.connect("c2", u2)

	h.send(c1, ActionCreate, map[string]string{"name": "Friday"})
	joined := last(t, h.out.take("c1"), models.EventLobbyJoined).Payload.(LobbyJoined)
	code := joined.Code
	assert.Equal(t, "Friday", joined.Lobby.GameName)
	assert.Len(t, code, 6)

	h.send(c2, ActionJoin, map[string]interface{}{"code": code})
	update := last(t, h.out.take("c1"), models.EventLobbyUpdate).Payload.(models.LobbyView)
	assert.Len(t, update.Players, 2)
	h.out.take("c2")

	h.send(c1, ActionStart, map[string]string{"code": code})
	errEv := last(t, h.out.take("c1"), models.EventLobbyError).Payload.(models.ErrorPayload)
	assert.Equal(t, "not_ready", errEv.Code)
	assert.Equal(t, ActionStart, errEv.Action)
	assert.Empty(t, h.out.take("c2"), "errors go to the caller only")

	h.send(c1, ActionSetReady, map[string]interface{}{"code": code, "ready": true})
	h.send(c2, ActionSetReady, map[string]interface{}{"code": code, "ready": true})
	v := last(t, h.out.take("c1"), models.EventLobbyUpdate).Payload.(models.LobbyView)
	assert.True(t, v.CanStart)
	v = last(t, h.out.take("c2"), models.EventLobbyUpdate).Payload.(models.LobbyView)
	assert.False(t, v.CanStart, "only the creator may start")

	h.send(c2, ActionStart, map[string]string{"code": code})
	assert.Equal(t, "access_denied", last(t, h.out.take("c2"), models.EventLobbyError).Payload.(models.ErrorPayload).Code)

	h.send(c1, ActionStart, map[string]string{"code": strings.ToLower(code)})
	started := last(t, h.out.take("c2"), models.EventLobbyStarted).Payload.(models.LobbyView)
	assert.Equal(t, models.LobbyInProgress, started.Status)

	h.send(c2, ActionRequestRematch, map[string]string{"code": code})
	req := last(t, h.out.take("c1"), models.EventRematchRequest).Payload.(RematchRequest)
	assert.Equal(t, u2, req.From)

	h.send(c1, ActionAnswerRematch, map[string]interface{}{"code": code, "accept": true})
	evs := h.out.take("c2")
	assert.True(t, last(t, evs, models.EventRematchResult).Payload.(RematchResult).Accepted)
	v = last(t, evs, models.EventLobbyUpdate).Payload.(models.LobbyView)
	assert.Equal(t, models.LobbyWaiting, v.Status)
	for _, p := range v.Players {
		assert.False(t, p.Ready)
	}
}

func TestDisconnectClosesWaitingLobby(t *testing.T) {
	h := newHarness(t, Options{})
	c1 := h.connect("c1", u1)
	c3 := h.connect("c3", u3)

	h.send(c1, ActionCreate, nil)
	code := last(t, h.out.take("c1"), models.EventLobbyJoined).Payload.(LobbyJoined).Code
	h.send(c3, ActionJoin, map[string]interface{}{"code": code, "spectator": true})
	h.out.take("c3")

	h.out.apply(h.svc.Disconnect("c1"))
	closed := last(t, h.out.take("c3"), models.EventLobbyClosed).Payload.(LobbyClosed)
	assert.Equal(t, lobby.ReasonNoPlayers, closed.Reason)
	assert.NotContains(t, h.out.rooms, LobbyRoom(code))

	_, err := h.svc.Lobby(code, u1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, h.svc.Disconnect("c1"), "second cleanup is a no-op")
}

func TestDisconnectMidGame(t *testing.T) {
	h := newHarness(t, Options{})
	c1 := h.connect("c1", u1)
	c2 := h.connect("c2", u2)

	h.send(c1, ActionCreate, nil)
	code := last(t, h.out.take("c1"), models.EventLobbyJoined).Payload.(LobbyJoined).Code
	h.send(c2, ActionJoin, map[string]string{"code": code})
	h.send(c1, ActionSetReady, map[string]interface{}{"code": code, "ready": true})
	h.send(c2, ActionSetReady, map[string]interface{}{"code": code, "ready": true})
	h.send(c1, ActionStart, map[string]string{"code": code})
	h.out.take("c1")

	h.out.apply(h.svc.Disconnect("c2"))
	evs := h.out.take("c1")
	assert.True(t, hasType(evs, models.EventOpponentLeft))

	h.out.apply(h.svc.Disconnect("c1"))
	view, err := h.svc.Lobby(code, u1)
	require.NoError(t, err, "a running lobby survives with a bot")
	assert.Equal(t, models.LobbyInProgress, view.Status)

	c2b := h.connect("c2b", u2)
	h.send(c2b, ActionJoin, map[string]string{"code": code})
	h.out.take("c2b")
	c1b := h.connect("c1b", u1)
	h.send(c1b, ActionJoin, map[string]string{"code": code})
	assert.True(t, hasType(h.out.take("c2b"), models.EventOpponentJoined))
}

func TestLeave(t *testing.T) {
	h := newHarness(t, Options{})
	c1 := h.connect("c1", u1)
	c2 := h.connect("c2", u2)
	h.send(c1, ActionCreate, nil)
	code := last(t, h.out.take("c1"), models.EventLobbyJoined).Payload.(LobbyJoined).Code
	h.send(c2, ActionJoin, map[string]string{"code": code})
	h.out.take("c1")
	h.out.take("c2")

	h.send(c2, ActionLeave, map[string]string{"code": code})
	assert.Empty(t, h.out.take("c2"), "the leaver is unsubscribed first")
	assert.True(t, hasType(h.out.take("c1"), models.EventLobbyUpdate))

	h.send(c2, ActionLeave, map[string]string{"code": code})
	assert.Equal(t, "not_found", last(t, h.out.take("c2"), models.EventLobbyError).Payload.(models.ErrorPayload).Code)
}

func TestMatchScenario(t *testing.T) {
	h := newHarness(t, Options{})
	c1 := h.connect("c1", u1)
	c2 := h.connect("c2", u2)
	c3 := h.connect("c3", u3)

	h.send(c1, ActionMatchJoin, map[string]string{"code": "room-7"})
	state := last(t, h.out.take("c1"), models.EventMatchState).Payload.(match.View)
	assert.Equal(t, match.RoleP1, state.Role)

	h.send(c2, ActionMatchJoin, map[string]string{"code": "room-7"})
	h.send(c3, ActionMatchJoin, map[string]string{"code": "room-7"})
	state = last(t, h.out.take("c3"), models.EventMatchState).Payload.(match.View)
	assert.Equal(t, match.RoleSpectator, state.Role)

	h.send(c1, ActionFire, map[string]interface{}{"code": "room-7", "x": 0, "y": 0})
	assert.Equal(t, "not_ready", last(t, h.out.take("c1"), models.EventMatchError).Payload.(models.ErrorPayload).Code)

	bad := fleetRows()
	bad[5] = []int{1, 1, 1}
	h.send(c1, ActionPlaceBoard, map[string]interface{}{"code": "room-7", "board": bad})
	assert.Equal(t, "invalid_board", last(t, h.out.take("c1"), models.EventMatchError).Payload.(models.ErrorPayload).Code)

	h.send(c1, ActionPlaceBoard, map[string]interface{}{"code": "room-7", "board": fleetRows()})
	h.send(c1, ActionMatchReady, map[string]string{"code": "room-7"})
	h.send(c2, ActionPlaceBoard, map[string]interface{}{"code": "room-7", "board": fleetRows()})
	h.out.take("c1")
	h.out.take("c2")

	h.send(c2, ActionMatchReady, map[string]string{"code": "room-7"})
	evs := h.out.take("c3")
	started := last(t, evs, models.EventMatchStarted).Payload.(MatchStarted)
	assert.Equal(t, u1.UserID, started.TurnID)
	spec := last(t, evs, models.EventMatchState).Payload.(match.View)
	assert.NotNil(t, spec.P1Board)

	p2 := last(t, h.out.take("c2"), models.EventMatchState).Payload.(match.View)
	require.NotNil(t, p2.P1Board)
	assert.Equal(t, battleship.Empty, (*p2.P1Board)[0][0], "opponent ships are masked")

	h.send(c2, ActionFire, map[string]interface{}{"code": "room-7", "x": 0, "y": 0})
	assert.Equal(t, "out_of_turn", last(t, h.out.take("c2"), models.EventMatchError).Payload.(models.ErrorPayload).Code)

	h.send(c1, ActionFire, map[string]interface{}{"code": "room-7", "x": 0})
	assert.Equal(t, "invalid_coordinate", last(t, h.out.take("c1"), models.EventMatchError).Payload.(models.ErrorPayload).Code)

	h.send(c1, ActionFire, map[string]interface{}{"code": "room-7", "x": 0, "y": 0})
	shot := last(t, h.out.take("c2"), models.EventFireResult).Payload.(FireResult)
	assert.Equal(t, battleship.OutcomeHit, shot.Outcome)
	assert.Equal(t, u2.UserID, shot.TurnID)

	h.send(c3, ActionChat, map[string]string{"code": "room-7", "message": "gg"})
	assert.Equal(t, "access_denied", last(t, h.out.take("c3"), models.EventMatchError).Payload.(models.ErrorPayload).Code)
	h.send(c2, ActionChat, map[string]string{"code": "room-7", "message": " nice shot "})
	chat := last(t, h.out.take("c3"), models.EventMatchChat).Payload.(*match.ChatMessage)
	assert.Equal(t, "nice shot", chat.Message)
	assert.Equal(t, match.RoleP2, chat.From)

	h.send(c2, ActionRematch, map[string]string{"code": "room-7"})
	state = last(t, h.out.take("c1"), models.EventMatchState).Payload.(match.View)
	assert.Equal(t, models.MatchWaiting, state.Status)
}

func TestBotMatchOverSession(t *testing.T) {
	h := newHarness(t, Options{})
	c1 := h.connect("c1", u1)

	h.send(c1, ActionMatchJoin, map[string]interface{}{"code": "solo", "bot": true})
	state := last(t, h.out.take("c1"), models.EventMatchState).Payload.(match.View)
	require.NotNil(t, state.P2)
	assert.Equal(t, models.PlayerBot, state.P2.Kind)
	assert.Nil(t, state.P2Board, "the bot's fleet stays hidden while placing")

	ships := []map[string]interface{}{}
	for i, size := range battleship.FleetSizes {
		var coords [][]int
		for y := 0; y < size; y++ {
			coords = append(coords, []int{i * 2, y})
		}
		ships = append(ships, map[string]interface{}{"coords": coords})
	}
	h.send(c1, ActionPlayerReady, map[string]interface{}{"code": "solo", "fleet_array": ships})
	evs := h.out.take("c1")
	assert.True(t, hasType(evs, models.EventMatchStarted))

	h.send(c1, ActionFire, map[string]interface{}{"code": "solo", "x": 9, "y": 9})
	evs = h.out.take("c1")
	var shots []FireResult
	for _, e := range evs {
		if e.Type == models.EventFireResult {
			shots = append(shots, e.Payload.(FireResult))
		}
	}
	require.Len(t, shots, 2)
	assert.Equal(t, models.SideP2, shots[1].From)
	assert.Equal(t, u1.UserID, shots[1].TurnID)
}

func TestBadInput(t *testing.T) {
	h := newHarness(t, Options{})
	c1 := h.connect("c1", u1)

	h.out.apply(h.svc.Handle(context.Background(), c1, []byte("{not json")))
	assert.Equal(t, "invalid_message", last(t, h.out.take("c1"), models.EventLobbyError).Payload.(models.ErrorPayload).Code)

	h.out.apply(h.svc.Handle(context.Background(), c1, []byte(`{"type":"dance"}`)))
	assert.Equal(t, "invalid_message", last(t, h.out.take("c1"), models.EventLobbyError).Payload.(models.ErrorPayload).Code)

	h.out.apply(h.svc.Handle(context.Background(), c1, []byte(`{"type":"fire","payload":"nope"}`)))
	assert.Equal(t, "invalid_message", last(t, h.out.take("c1"), models.EventMatchError).Payload.(models.ErrorPayload).Code)

	h.send(c1, ActionJoin, map[string]string{"code": "ZZZZZZ"})
	assert.Equal(t, "not_found", last(t, h.out.take("c1"), models.EventLobbyError).Payload.(models.ErrorPayload).Code)
}

func TestSweep(t *testing.T) {
	h := newHarness(t, Options{LobbyIdleTTL: time.Minute, MatchIdleTTL: time.Hour})
	view := h.svc.CreateLobby(u1, lobby.CreateOptions{})
	c1 := h.connect("c1", u1)
	h.send(c1, ActionMatchJoin, map[string]string{"code": "old-match"})

	assert.Empty(t, h.svc.Sweep(context.Background(), time.Now()), "too young to sweep")

	later := time.Now().Add(2 * time.Hour)
	out := h.svc.Sweep(context.Background(), later)
	require.Len(t, out, 1)
	assert.Equal(t, LobbyRoom(view.Code), out[0].Room)
	assert.True(t, out[0].Dissolve)
	assert.Equal(t, lobby.ReasonIdle, out[0].Event.Payload.(LobbyClosed).Reason)

	_, err := h.svc.matches.Get(context.Background(), "old-match")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, h.svc.Lobbies(u1))
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	h := newHarness(t, Options{LobbyIdleTTL: time.Nanosecond})
	h.svc.CreateLobby(u1, lobby.CreateOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []Delivery, 1)
	done := make(chan struct{})
	go func() {
		h.svc.RunSweeper(ctx, 5*time.Millisecond, func(ds []Delivery) {
			select {
			case got <- ds:
			default:
			}
		})
		close(done)
	}()

	select {
	case ds := <-got:
		assert.True(t, ds[0].Dissolve)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
