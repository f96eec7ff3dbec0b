package session

import (
	"github.com/jason-s-yu/salvo/internal/match"
	"github.com/jason-s-yu/salvo/internal/models"
)

// Outbound payloads that are not already a view type.

type LobbyJoined struct {
	Code      string           `json:"code"`
	Spectator bool             `json:"spectator"`
	Lobby     models.LobbyView `json:"lobby"`
}

type LobbyClosed struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type OpponentNotice struct {
	Code string           `json:"code"`
	User *models.Identity `json:"user,omitempty"`
}

type RematchRequest struct {
	Code string          `json:"code"`
	From models.Identity `json:"from"`
}

type RematchResult struct {
	Code     string          `json:"code"`
	Accepted bool            `json:"accepted"`
	By       models.Identity `json:"by"`
}

type MatchStarted struct {
	Code   string `json:"code"`
	TurnID string `json:"turn_id"`
}

type FireResult struct {
	Code string `json:"code"`
	match.ShotResult
}
