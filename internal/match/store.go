// internal/match/store.go
package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jason-s-yu/salvo/internal/apperr"
	"github.com/jason-s-yu/salvo/internal/battleship"
	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// createAttempts bounds the get-or-create loop when two callers race to
	// create the same code.
	createAttempts = 5
	// botPlacementAttempts bounds AutoPlace retries for the computer fleet.
	botPlacementAttempts = 20
	// MaxChatLength is the longest chat message kept, in runes.
	MaxChatLength = 300
	maxCodeLength = 32
)

// Role is a viewer's relation to a match.
type Role string

const (
	RoleP1        Role = "p1"
	RoleP2        Role = "p2"
	RoleSpectator Role = "spec"
)

func roleOf(side models.Side) Role {
	switch side {
	case models.SideP1:
		return RoleP1
	case models.SideP2:
		return RoleP2
	}
	return RoleSpectator
}

// Store runs the match state machine on top of a Repository:
// waiting -> in_progress -> finished -> (rematch) -> waiting.
// Every mutation is a single repository transaction; rejected actions never
// change the stored record.
type Store struct {
	repo   Repository
	logger logrus.FieldLogger
	now    func() time.Time
	rng    *rand.Rand
}

// NewStore wraps repo. A nil logger uses the logrus standard logger.
func NewStore(repo Repository, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{repo: repo, logger: logger, now: time.Now}
}

// JoinResult reports what a join did.
type JoinResult struct {
	Match *models.Match
	Role  Role
	// Reset is set when a finished match was reopened by this join.
	Reset bool
	// Started is set when the join completed the ready handshake.
	Started bool
}

// FireResult lists every shot resolved by one Fire call: the caller's, plus
// the computer's reply when playing against the bot.
type FireResult struct {
	Match *models.Match
	Shots []ShotResult
}

// ShotResult is the outcome of one shot, as broadcast in fire_result.
type ShotResult struct {
	X       int                `json:"x"`
	Y       int                `json:"y"`
	Outcome battleship.Outcome `json:"hit"`
	From    models.Side        `json:"from"`
	Winner  models.Side        `json:"winner,omitempty"`
	TurnID  string             `json:"turn_id,omitempty"`
}

// ChatMessage is a validated chat line from a seated player.
type ChatMessage struct {
	Code    string          `json:"code"`
	From    Role            `json:"from"`
	User    models.Identity `json:"user"`
	Message string          `json:"message"`
}

// ValidCode reports whether code can key a match.
func ValidCode(code string) bool {
	if code == "" || len(code) > maxCodeLength {
		return false
	}
	for _, c := range code {
		if !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

// Get loads a match.
func (s *Store) Get(ctx context.Context, code string) (*models.Match, error) {
	return s.repo.Get(ctx, code)
}

// upsert runs fn in a transaction, creating the record first if the code has
// never been seen. Losing a creation race to another caller is retried.
func (s *Store) upsert(ctx context.Context, code string, fn func(m *models.Match) error) (*models.Match, error) {
	if !ValidCode(code) {
		return nil, fmt.Errorf("match code %q: %w", code, apperr.ErrNotFound)
	}
	for attempt := 1; ; attempt++ {
		m, err := s.repo.Update(ctx, code, fn)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		if attempt >= createAttempts {
			return nil, fmt.Errorf("match %s: gave up after %d create attempts: %w", code, attempt, apperr.ErrConflict)
		}
		err = s.repo.Create(ctx, models.NewMatch(code, s.now()))
		if err != nil && !errors.Is(err, apperr.ErrConflict) {
			return nil, fmt.Errorf("create match %s: %w", code, err)
		}
		if err != nil {
			s.logger.WithField("code", code).Debug("match create race lost, retrying")
		}
	}
}

// JoinOrCreate seats id in the match, creating it on first reference. Seats
// are taken in order p1 then p2; anyone else, or any caller asking to
// spectate, watches. Joining a finished match reopens it for a new round.
func (s *Store) JoinOrCreate(ctx context.Context, code string, id models.Identity, spectator bool) (*JoinResult, error) {
	var res JoinResult
	m, err := s.upsert(ctx, code, func(m *models.Match) error {
		res = JoinResult{Role: RoleSpectator}
		if m.Status == models.MatchFinished {
			s.resetUnsafe(m)
			res.Reset = true
		}
		if !spectator {
			switch {
			case m.P1.Open() || m.P1.UserID == id.UserID:
				seatHuman(&m.P1, id)
				res.Role = RoleP1
			case m.P2.Open() || m.P2.UserID == id.UserID:
				seatHuman(&m.P2, id)
				res.Role = RoleP2
			}
			res.Started = startIfReady(m)
		}
		m.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Match = m
	return &res, nil
}

// JoinBot seats id as p1 against the computer. The bot's fleet is placed at
// random and it is ready straight away.
func (s *Store) JoinBot(ctx context.Context, code string, id models.Identity) (*JoinResult, error) {
	var res JoinResult
	m, err := s.upsert(ctx, code, func(m *models.Match) error {
		res = JoinResult{}
		if m.Status == models.MatchFinished {
			s.resetUnsafe(m)
			res.Reset = true
		}
		if !m.P1.Open() && m.P1.UserID != id.UserID {
			return fmt.Errorf("match %s already has a first player: %w", m.Code, apperr.ErrSessionFull)
		}
		if !m.P2.Open() && m.P2.Kind != models.PlayerBot {
			return fmt.Errorf("match %s already has two players: %w", m.Code, apperr.ErrSessionFull)
		}
		seatHuman(&m.P1, id)
		if m.P2.Open() {
			m.P2 = models.Seat{UserID: models.BotUserID, Username: models.BotUsername, Kind: models.PlayerBot}
		}
		if err := s.armBotUnsafe(m); err != nil {
			return err
		}
		res.Role = RoleP1
		res.Started = startIfReady(m)
		m.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Match = m
	return &res, nil
}

func seatHuman(seat *models.Seat, id models.Identity) {
	seat.UserID = id.UserID
	seat.Username = id.Username
	seat.Kind = models.PlayerHuman
}

// armBotUnsafe gives a bot seat a fresh random fleet and marks it ready.
func (s *Store) armBotUnsafe(m *models.Match) error {
	for _, seat := range []*models.Seat{&m.P1, &m.P2} {
		if seat.Kind != models.PlayerBot || seat.Sea != nil {
			continue
		}
		var fleet battleship.Board
		for i := 0; i < botPlacementAttempts && fleet.IsBlank(); i++ {
			fleet = battleship.AutoPlace(s.rng)
		}
		if fleet.IsBlank() {
			return fmt.Errorf("match %s: could not place bot fleet", m.Code)
		}
		seat.Sea = battleship.NewSea(fleet)
		seat.Ready = true
	}
	return nil
}

func (s *Store) resetUnsafe(m *models.Match) {
	m.ResetRound()
	// a bot re-arms immediately; it is never the side holding things up
	if err := s.armBotUnsafe(m); err != nil {
		s.logger.WithError(err).WithField("code", m.Code).Warn("bot fleet not placed on reset")
	}
}

// startIfReady moves a waiting match with two ready seats into play, p1 first.
func startIfReady(m *models.Match) bool {
	if m.Status != models.MatchWaiting {
		return false
	}
	if m.P1.Open() || m.P2.Open() || !m.P1.Ready || !m.P2.Ready {
		return false
	}
	m.Status = models.MatchInProgress
	m.SetTurn(models.SideP1)
	return true
}

// seatOf resolves the caller's seat or fails with ErrAccessDenied.
func seatOf(m *models.Match, id models.Identity) (models.Side, *models.Seat, error) {
	side := m.SideOf(id.UserID)
	if side == models.SideNone {
		return side, nil, fmt.Errorf("not a player in match %s: %w", m.Code, apperr.ErrAccessDenied)
	}
	return side, m.Seat(side), nil
}

func placeUnsafe(m *models.Match, id models.Identity, fleet battleship.Board) error {
	_, seat, err := seatOf(m, id)
	if err != nil {
		return err
	}
	if m.Status != models.MatchWaiting {
		return fmt.Errorf("match %s is %s, fleets are locked: %w", m.Code, m.Status, apperr.ErrAccessDenied)
	}
	seat.Sea = battleship.NewSea(fleet)
	seat.Ready = false
	return nil
}

func readyUnsafe(m *models.Match, id models.Identity) (bool, error) {
	_, seat, err := seatOf(m, id)
	if err != nil {
		return false, err
	}
	if m.Status != models.MatchWaiting {
		return false, fmt.Errorf("match %s is %s: %w", m.Code, m.Status, apperr.ErrNotReady)
	}
	if seat.Sea == nil {
		return false, fmt.Errorf("no fleet placed: %w", apperr.ErrNotReady)
	}
	if !battleship.ValidateBoard(seat.Sea.Fleet) {
		return false, fmt.Errorf("fleet must be five straight ships of 5, 4, 3, 3 and 2: %w", apperr.ErrNotReady)
	}
	seat.Ready = true
	return startIfReady(m), nil
}

// PlaceBoard stores the caller's raw fleet layout. Validation waits for
// SetReady. Placing again while waiting replaces the layout and clears the
// caller's ready flag.
func (s *Store) PlaceBoard(ctx context.Context, code string, id models.Identity, fleet battleship.Board) (*models.Match, error) {
	return s.repo.Update(ctx, code, func(m *models.Match) error {
		if err := placeUnsafe(m, id, fleet); err != nil {
			return err
		}
		m.UpdatedAt = s.now()
		return nil
	})
}

// SetReady marks the caller ready once their fleet validates. started is true
// when this completed the handshake and play began.
func (s *Store) SetReady(ctx context.Context, code string, id models.Identity) (m *models.Match, started bool, err error) {
	m, err = s.repo.Update(ctx, code, func(m *models.Match) error {
		var err error
		started, err = readyUnsafe(m, id)
		if err != nil {
			return err
		}
		m.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return m, started, nil
}

// ReadyWithFleet places a fleet given as ship coordinates and readies the
// caller in one transaction.
func (s *Store) ReadyWithFleet(ctx context.Context, code string, id models.Identity, ships []battleship.ShipPlacement) (m *models.Match, started bool, err error) {
	fleet := battleship.FleetFromShips(ships)
	m, err = s.repo.Update(ctx, code, func(m *models.Match) error {
		if err := placeUnsafe(m, id, fleet); err != nil {
			return err
		}
		var err error
		started, err = readyUnsafe(m, id)
		if err != nil {
			return err
		}
		m.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return m, started, nil
}

// Fire resolves the caller's shot at the opponent. The turn is checked by
// identity, so a player who reconnects on a new connection keeps their turn.
func (s *Store) Fire(ctx context.Context, code string, id models.Identity, x, y int) (*FireResult, error) {
	var shots []ShotResult
	m, err := s.repo.Update(ctx, code, func(m *models.Match) error {
		shots = shots[:0]
		if m.Status != models.MatchInProgress {
			return fmt.Errorf("match %s is %s: %w", m.Code, m.Status, apperr.ErrNotReady)
		}
		side, _, err := seatOf(m, id)
		if err != nil {
			return err
		}
		if m.TurnID != id.UserID {
			return fmt.Errorf("match %s: %w", m.Code, apperr.ErrOutOfTurn)
		}
		shot, err := fireUnsafe(m, side, x, y)
		if err != nil {
			return err
		}
		shots = append(shots, shot)

		if opp := m.Seat(side.Other()); m.Status == models.MatchInProgress && opp.Kind == models.PlayerBot {
			tx, ty, ok := m.Seat(side).Sea.RandomTarget(s.rng)
			if ok {
				reply, err := fireUnsafe(m, side.Other(), tx, ty)
				if err != nil {
					return fmt.Errorf("bot reply: %w", err)
				}
				shots = append(shots, reply)
			}
		}
		m.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &FireResult{Match: m, Shots: shots}, nil
}

// fireUnsafe applies a shot from side at the opposing sea and advances the
// state machine: finished on the last ship, otherwise the turn flips.
func fireUnsafe(m *models.Match, side models.Side, x, y int) (ShotResult, error) {
	target := m.Seat(side.Other())
	if target.Sea == nil || m.Seat(side).Sea == nil {
		return ShotResult{}, fmt.Errorf("match %s has a missing fleet: %w", m.Code, apperr.ErrNotReady)
	}
	out, err := target.Sea.Fire(x, y)
	if err != nil {
		return ShotResult{}, err
	}
	res := ShotResult{X: x, Y: y, Outcome: out, From: side}
	if !target.Sea.Alive() {
		m.Status = models.MatchFinished
		m.Winner = side
		res.Winner = side
	} else {
		m.SetTurn(side.Other())
	}
	res.TurnID = m.TurnID
	return res, nil
}

// Rematch clears fleets, shot logs, ready flags, turn and winner and puts the
// match back to waiting. Seats are kept.
func (s *Store) Rematch(ctx context.Context, code string, id models.Identity) (*models.Match, error) {
	return s.repo.Update(ctx, code, func(m *models.Match) error {
		if _, _, err := seatOf(m, id); err != nil {
			return err
		}
		s.resetUnsafe(m)
		m.UpdatedAt = s.now()
		return nil
	})
}

// Chat validates a chat line from a seated player. Spectators are read-only.
func (s *Store) Chat(ctx context.Context, code string, id models.Identity, message string) (*ChatMessage, error) {
	m, err := s.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	side, _, err := seatOf(m, id)
	if err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("empty message: %w", apperr.ErrInvalidMessage)
	}
	if utf8.RuneCountInString(message) > MaxChatLength {
		message = string([]rune(message)[:MaxChatLength])
	}
	return &ChatMessage{Code: m.Code, From: roleOf(side), User: id, Message: message}, nil
}

// DeleteStale removes matches untouched since before.
func (s *Store) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteStale(ctx, before)
}
