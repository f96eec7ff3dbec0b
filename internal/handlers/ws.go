// internal/handlers/ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/salvo/internal/middleware"
	"github.com/jason-s-yu/salvo/internal/session"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "salvo"

const (
	pingInterval = 30 * time.Second
	pingTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// WSHandler upgrades the request and runs the socket until either side closes.
// Identity is resolved before the upgrade so unauthenticated callers get a
// plain 401.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("websocket accept failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "internal server error")

	if c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the salvo subprotocol")
		return
	}

	connID := uuid.NewString()
	cl := newClient(connID, id, s.logger)
	s.hub.register(cl)
	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, connID, id.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		select {
		case <-s.shutdown:
			c.Close(ServerShutdownError, "server shutting down")
		case <-ctx.Done():
		}
	}()
	go s.writePump(ctx, c, cl)

	readErr := s.readPump(ctx, c, session.Caller{ConnID: connID, Identity: id}, cl.logger)

	cancel()
	s.hub.unregister(connID)
	s.hub.Deliver(s.svc.Disconnect(connID))
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, connID, readErr)
	c.Close(websocket.StatusNormalClosure, "")
}

// readPump feeds text frames to the session service until the socket closes.
// A clean close returns nil.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, caller session.Caller, logger logrus.FieldLogger) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				logger.Info("client closed connection")
				return nil
			}
			logger.WithError(err).Warn("websocket read failed")
			return err
		}
		if typ != websocket.MessageText {
			logger.Debug("ignoring non-text frame")
			continue
		}
		s.hub.Deliver(s.svc.Handle(ctx, caller, data))
	}
}

// writePump drains the client's queue and keeps the connection alive with
// pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-cl.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				cl.logger.WithError(err).Warn("websocket write failed")
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pctx)
			cancel()
			if err != nil {
				cl.logger.WithError(err).Warn("websocket ping failed")
				return
			}
		}
	}
}
