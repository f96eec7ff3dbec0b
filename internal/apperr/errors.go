// internal/apperr/errors.go
package apperr

import (
	"errors"
	"net/http"
)

// Error kinds shared by the lobby registry and the match store. Call sites wrap
// these with fmt.Errorf("...: %w", err) and callers test them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrSessionFull       = errors.New("session full")
	ErrNotReady          = errors.New("not ready")
	ErrOutOfTurn         = errors.New("out of turn")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrAlreadyTargeted   = errors.New("already targeted")
	ErrInvalidBoard      = errors.New("invalid board")
	ErrConflict          = errors.New("conflict")
	ErrInvalidMessage    = errors.New("invalid message")
)

// CodeInternal is reported for any error outside the taxonomy.
const CodeInternal = "internal"

var kinds = []struct {
	err    error
	code   string
	status int
}{
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrAccessDenied, "access_denied", http.StatusForbidden},
	{ErrSessionFull, "session_full", http.StatusConflict},
	{ErrNotReady, "not_ready", http.StatusConflict},
	{ErrOutOfTurn, "out_of_turn", http.StatusConflict},
	{ErrInvalidCoordinate, "invalid_coordinate", http.StatusBadRequest},
	{ErrAlreadyTargeted, "already_targeted", http.StatusConflict},
	{ErrInvalidBoard, "invalid_board", http.StatusBadRequest},
	{ErrConflict, "conflict", http.StatusConflict},
	{ErrInvalidMessage, "invalid_message", http.StatusBadRequest},
}

// Code returns the stable wire code for err, or CodeInternal.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps err to the status used by the REST endpoints.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Message is the caller-facing text for err. Errors outside the taxonomy never
// leak their details.
func Message(err error) string {
	if Code(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
