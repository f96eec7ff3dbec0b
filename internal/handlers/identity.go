package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/salvo/internal/models"
)

// AuthCookie carries the identity token for browser clients.
const AuthCookie = "auth_token"

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityResolver turns a request into the caller's identity. It may set
// cookies on w, so it must run before anything is written.
type IdentityResolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) (models.Identity, error)
}

// Tokens is the part of the identity provider the resolver needs.
type Tokens interface {
	Issue(id models.Identity) (string, error)
	Verify(token string) (models.Identity, error)
}

// TokenResolver reads the auth_token cookie or a Bearer header. With
// AllowGuests, callers without a valid token get a fresh guest identity and
// a cookie for it.
type TokenResolver struct {
	Tokens      Tokens
	AllowGuests bool
}

func (tr TokenResolver) Resolve(w http.ResponseWriter, r *http.Request) (models.Identity, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), AuthCookie)
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token != "" {
		id, err := tr.Tokens.Verify(token)
		if err == nil {
			return id, nil
		}
		if !tr.AllowGuests {
			return models.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
	}
	if !tr.AllowGuests {
		return models.Identity{}, ErrUnauthenticated
	}
	return tr.guest(w)
}

func (tr TokenResolver) guest(w http.ResponseWriter) (models.Identity, error) {
	uid := uuid.New()
	id := models.Identity{UserID: uid.String(), Username: "Guest-" + uid.String()[:4]}
	token, err := tr.Tokens.Issue(id)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to create guest token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}
