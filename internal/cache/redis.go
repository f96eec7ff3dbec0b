// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/salvo/internal/apperr"
	"github.com/jason-s-yu/salvo/internal/config"
	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// KeyPrefix namespaces match records, e.g. salvo:match:ABC123.
const KeyPrefix = "salvo:match:"

// watchRetries bounds optimistic retries when a watched key changes under us.
const watchRetries = 10

// Connect opens a client for cfg and pings it before returning.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// MatchRepository stores each match as a JSON string under KeyPrefix+code.
// Update uses WATCH/MULTI, so the callback may run more than once when
// writers collide. Every write refreshes the key's TTL.
type MatchRepository struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewMatchRepository wraps rdb. A zero ttl keeps keys until DeleteStale.
func NewMatchRepository(rdb *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *MatchRepository {
	return &MatchRepository{rdb: rdb, ttl: ttl, logger: logger}
}

func matchKey(code string) string {
	return KeyPrefix + code
}

func (r *MatchRepository) Get(ctx context.Context, code string) (*models.Match, error) {
	data, err := r.rdb.Get(ctx, matchKey(code)).Bytes()
	if err != nil {
		return nil, translate(code, err)
	}
	return decodeMatch(code, data)
}

func (r *MatchRepository) Create(ctx context.Context, m *models.Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", m.Code, err)
	}
	ok, err := r.rdb.SetNX(ctx, matchKey(m.Code), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create match %s: %w", m.Code, err)
	}
	if !ok {
		return fmt.Errorf("match %s: %w", m.Code, apperr.ErrConflict)
	}
	return nil
}

func (r *MatchRepository) Update(ctx context.Context, code string, fn func(m *models.Match) error) (*models.Match, error) {
	key := matchKey(code)
	for attempt := 1; attempt <= watchRetries; attempt++ {
		var out *models.Match
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return translate(code, err)
			}
			m, err := decodeMatch(code, data)
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
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, r.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			out = m
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			r.logger.WithFields(logrus.Fields{"code": code, "attempt": attempt}).Debug("match update raced, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("match %s: still contended after %d attempts: %w", code, watchRetries, apperr.ErrConflict)
}

// DeleteStale scans for matches last written before the cutoff. With a TTL
// configured Redis expires most of them first; this catches the rest.
func (r *MatchRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	iter := r.rdb.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			m, err := decodeMatch(key, data)
			if err != nil {
				return err
			}
			if !m.UpdatedAt.Before(before) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				deleted++
			}
			return err
		}, key)

		switch {
		case err == nil, errors.Is(err, redis.Nil), errors.Is(err, redis.TxFailedErr):
			// expired, deleted or touched while we looked
		default:
			r.logger.WithError(err).WithField("key", key).Warn("stale match sweep skipped key")
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan matches: %w", err)
	}
	return deleted, nil
}

func decodeMatch(code string, data []byte) (*models.Match, error) {
	m := &models.Match{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", code, err)
	}
	return m, nil
}

func translate(code string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("match %s: %w", code, apperr.ErrNotFound)
	}
	return fmt.Errorf("match %s: %w", code, err)
}
