// internal/handlers/server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/jason-s-yu/salvo/internal/middleware"
	"github.com/jason-s-yu/salvo/internal/session"
	"github.com/sirupsen/logrus"
)

// Server exposes the session service over HTTP and websockets.
type Server struct {
	svc    *session.Service
	hub    *Hub
	ids    IdentityResolver
	logger logrus.FieldLogger

	// ready reports storage health for /healthz; nil means always healthy.
	ready func(ctx context.Context) error
	// shutdown is closed when the process is stopping so open sockets can
	// close with ServerShutdownError.
	shutdown chan struct{}
}

func NewServer(svc *session.Service, ids IdentityResolver, logger logrus.FieldLogger) *Server {
	return &Server{
		svc:      svc,
		hub:      NewHub(logger),
		ids:      ids,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// WithReadiness sets the storage check used by /healthz.
func (s *Server) WithReadiness(check func(ctx context.Context) error) *Server {
	s.ready = check
	return s
}

// Hub returns the fan-out hub, e.g. for sweeper deliveries.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Shutdown asks every open socket to close. It does not wait for them.
func (s *Server) Shutdown() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// Routes builds the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(s.logger)

	mux.Handle("GET /ws", logged(http.HandlerFunc(s.WSHandler)))
	mux.Handle("POST /lobbies", logged(http.HandlerFunc(s.CreateLobbyHandler)))
	mux.Handle("GET /lobbies", logged(http.HandlerFunc(s.ListLobbiesHandler)))
	mux.Handle("GET /lobbies/{code}", logged(http.HandlerFunc(s.GetLobbyHandler)))
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	return mux
}

// HealthHandler reports 200 when storage answers and 503 otherwise.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
