package models

// EventType names an outbound real-time event.
type EventType string

const (
	EventLobbyUpdate    EventType = "lobby_update"
	EventLobbyJoined    EventType = "lobby_joined"
	EventLobbyError     EventType = "lobby_error"
	EventLobbyClosed    EventType = "lobby_closed"
	EventLobbyStarted   EventType = "lobby_started"
	EventLobbyList      EventType = "lobby_list"
	EventOpponentJoined EventType = "opponent_joined"
	EventOpponentLeft   EventType = "opponent_left"

	EventMatchState   EventType = "match_state"
	EventMatchStarted EventType = "match_started"
	EventMatchError   EventType = "match_error"
	EventMatchChat    EventType = "match_chat"
	EventFireResult   EventType = "fire_result"

	EventRematchRequest EventType = "rematch_request"
	EventRematchResult  EventType = "rematch_result"
)

// Event is the envelope written to clients.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ErrorPayload is carried by lobby_error and match_error.
type ErrorPayload struct {
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
