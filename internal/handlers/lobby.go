// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jason-s-yu/salvo/internal/lobby"
	"github.com/jason-s-yu/salvo/internal/models"
)

type createLobbyRequest struct {
	Name    string `json:"name"`
	Mode    string `json:"mode"`
	Invited string `json:"invited"`
}

type createLobbyResponse struct {
	Code  string           `json:"code"`
	Lobby models.LobbyView `json:"lobby"`
}

// identify resolves the caller or writes a 401 and returns false.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, err := s.ids.Resolve(w, r)
	if err != nil {
		s.logger.WithError(err).WithField("path", r.URL.Path).Debug("request not authenticated")
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "missing or invalid auth token"})
		return models.Identity{}, false
	}
	return id, true
}

// CreateLobbyHandler registers an in-memory lobby owned by the caller. An
// empty body takes every default.
func (s *Server) CreateLobbyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}

	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_message", Message: "bad lobby request payload"})
		return
	}

	view := s.svc.CreateLobby(id, lobby.CreateOptions{Name: req.Name, Mode: req.Mode, Invited: req.Invited})
	writeJSON(w, http.StatusCreated, createLobbyResponse{Code: view.Code, Lobby: view})
}

// ListLobbiesHandler returns the lobbies visible to the caller.
func (s *Server) ListLobbiesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Lobbies(id))
}

// GetLobbyHandler returns one lobby, 404 if unknown and 403 if private.
func (s *Server) GetLobbyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	view, err := s.svc.Lobby(r.PathValue("code"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
