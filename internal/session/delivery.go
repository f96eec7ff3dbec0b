package session

import "github.com/jason-s-yu/salvo/internal/models"

// Room name prefixes. A lobby and the match started from it share a code but
// not a room.
const (
	lobbyRoomPrefix = "lobby:"
	matchRoomPrefix = "match:"
)

func LobbyRoom(code string) string { return lobbyRoomPrefix + code }
func MatchRoom(code string) string { return matchRoomPrefix + code }

// Render builds the event one room member should receive.
type Render func(viewer models.Identity) models.Event

// Delivery is one instruction for the transport, produced after the service
// has released every lock it took. Deliveries are applied in order.
//
// Join and Leave change ConnID's room membership. An event (Event or Render)
// goes to every member of Room, or to ConnID alone when Room is empty.
// Dissolve drops Room after its event has been sent.
type Delivery struct {
	ConnID   string
	Join     string
	Leave    string
	Room     string
	Dissolve bool
	Event    models.Event
	Render   Render
}

// HasEvent reports whether the delivery carries something to send.
func (d Delivery) HasEvent() bool {
	return d.Render != nil || d.Event.Type != ""
}

// EventFor resolves the event for viewer.
func (d Delivery) EventFor(viewer models.Identity) models.Event {
	if d.Render != nil {
		return d.Render(viewer)
	}
	return d.Event
}

func subscribe(connID, room string) Delivery {
	return Delivery{ConnID: connID, Join: room}
}

func unsubscribe(connID, room string) Delivery {
	return Delivery{ConnID: connID, Leave: room}
}

func toConn(connID string, typ models.EventType, payload interface{}) Delivery {
	return Delivery{ConnID: connID, Event: models.Event{Type: typ, Payload: payload}}
}

func toRoom(room string, typ models.EventType, payload interface{}) Delivery {
	return Delivery{Room: room, Event: models.Event{Type: typ, Payload: payload}}
}

func toRoomRendered(room string, render Render) Delivery {
	return Delivery{Room: room, Render: render}
}
