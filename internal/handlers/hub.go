// internal/handlers/hub.go
package handlers

import (
	"encoding/json"
	"sync"

	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/jason-s-yu/salvo/internal/session"
	"github.com/sirupsen/logrus"
)

// sendBuffer is how many outbound messages a slow client may fall behind by
// before messages to it are dropped.
const sendBuffer = 32

// client is one websocket connection as seen by the hub.
type client struct {
	connID   string
	identity models.Identity
	send     chan []byte
	logger   logrus.FieldLogger
}

func newClient(connID string, id models.Identity, logger logrus.FieldLogger) *client {
	return &client{
		connID:   connID,
		identity: id,
		send:     make(chan []byte, sendBuffer),
		logger:   logger.WithFields(logrus.Fields{"conn": connID, "user": id.UserID}),
	}
}

// write queues data without blocking. A full buffer drops the message.
func (c *client) write(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("outbound buffer full, dropping message")
		return false
	}
}

// Hub tracks live connections and the rooms they are subscribed to.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	rooms   map[string]map[string]*client
	logger  logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
		logger:  logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.connID] = c
}

// unregister drops the connection and every room membership it holds.
func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connID)
	for room, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Members returns how many connections are subscribed to room.
func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Deliver applies deliveries in order. Membership changes happen under the
// hub lock; rendering, encoding and sending happen after it is released.
func (h *Hub) Deliver(ds []session.Delivery) {
	for _, d := range ds {
		targets := h.resolve(d)
		if len(targets) == 0 || !d.HasEvent() {
			continue
		}

		var shared []byte
		if d.Render == nil {
			shared = h.encode(d.Event)
			if shared == nil {
				continue
			}
		}
		for _, c := range targets {
			data := shared
			if data == nil {
				if data = h.encode(d.EventFor(c.identity)); data == nil {
					continue
				}
			}
			c.write(data)
		}
	}
}

// resolve applies membership changes and returns who should get the event.
func (h *Hub) resolve(d session.Delivery) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if d.Join != "" {
		if c, ok := h.clients[d.ConnID]; ok {
			members, ok := h.rooms[d.Join]
			if !ok {
				members = make(map[string]*client)
				h.rooms[d.Join] = members
			}
			members[c.connID] = c
		}
	}
	if d.Leave != "" {
		if members, ok := h.rooms[d.Leave]; ok {
			delete(members, d.ConnID)
			if len(members) == 0 {
				delete(h.rooms, d.Leave)
			}
		}
	}
	if !d.HasEvent() {
		return nil
	}

	var targets []*client
	if d.Room != "" {
		for _, c := range h.rooms[d.Room] {
			targets = append(targets, c)
		}
		if d.Dissolve {
			delete(h.rooms, d.Room)
		}
	} else if c, ok := h.clients[d.ConnID]; ok {
		targets = append(targets, c)
	}
	return targets
}

func (h *Hub) encode(ev models.Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).WithField("type", ev.Type).Error("failed to marshal outbound event")
		return nil
	}
	return data
}
