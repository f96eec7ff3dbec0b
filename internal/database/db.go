package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/salvo/internal/config"
	"github.com/sirupsen/logrus"
)

// Connect opens a pgx pool for cfg and pings it before returning.
func Connect(ctx context.Context, cfg config.PostgresConfig, logger logrus.FieldLogger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host":     poolCfg.ConnConfig.Host,
		"port":     poolCfg.ConnConfig.Port,
		"database": poolCfg.ConnConfig.Database,
	}).Info("connected to database")
	return pool, nil
}
