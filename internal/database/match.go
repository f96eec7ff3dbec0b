// internal/database/match.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/salvo/internal/apperr"
	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/sirupsen/logrus"
)

// pgUniqueViolation is the SQLSTATE for a duplicate primary key.
const pgUniqueViolation = "23505"

// MatchRepository stores matches as JSONB rows in battleship_matches. Update
// holds a row lock for the duration of the callback, which serializes all
// writers of one code across server instances.
type MatchRepository struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

func NewMatchRepository(pool *pgxpool.Pool, logger logrus.FieldLogger) *MatchRepository {
	return &MatchRepository{pool: pool, logger: logger}
}

func (r *MatchRepository) Get(ctx context.Context, code string) (*models.Match, error) {
	var state []byte
	err := r.pool.QueryRow(ctx, `SELECT state FROM battleship_matches WHERE code = $1`, code).Scan(&state)
	if err != nil {
		return nil, translate(code, err)
	}
	return decodeMatch(state)
}

func (r *MatchRepository) Create(ctx context.Context, m *models.Match) error {
	state, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", m.Code, err)
	}
	q := `
		INSERT INTO battleship_matches (code, status, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, q, m.Code, string(m.Status), state, m.CreatedAt, m.UpdatedAt); err != nil {
		return translate(m.Code, err)
	}
	return nil
}

func (r *MatchRepository) Update(ctx context.Context, code string, fn func(m *models.Match) error) (*models.Match, error) {
	var out *models.Match
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var state []byte
		row := tx.QueryRow(ctx, `SELECT state FROM battleship_matches WHERE code = $1 FOR UPDATE`, code)
		if err := row.Scan(&state); err != nil {
			return translate(code, err)
		}
		m, err := decodeMatch(state)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}

		next, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode match %s: %w", code, err)
		}
		q := `
			UPDATE battleship_matches
			SET status = $2, state = $3, updated_at = $4
			WHERE code = $1
		`
		if _, err := tx.Exec(ctx, q, code, string(m.Status), next, m.UpdatedAt); err != nil {
			return fmt.Errorf("update match %s: %w", code, err)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MatchRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM battleship_matches WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale matches: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.WithField("count", n).Info("deleted stale matches")
	}
	return tag.RowsAffected(), nil
}

func decodeMatch(state []byte) (*models.Match, error) {
	m := &models.Match{}
	if err := json.Unmarshal(state, m); err != nil {
		return nil, fmt.Errorf("decode match: %w", err)
	}
	return m, nil
}

// translate maps driver errors onto the apperr kinds the match store expects.
func translate(code string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("match %s: %w", code, apperr.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("match %s: %w", code, apperr.ErrConflict)
	}
	return fmt.Errorf("match %s: %w", code, err)
}
