// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/salvo/internal/auth"
	"github.com/jason-s-yu/salvo/internal/cache"
	"github.com/jason-s-yu/salvo/internal/config"
	"github.com/jason-s-yu/salvo/internal/database"
	"github.com/jason-s-yu/salvo/internal/handlers"
	"github.com/jason-s-yu/salvo/internal/lobby"
	"github.com/jason-s-yu/salvo/internal/match"
	"github.com/jason-s-yu/salvo/internal/session"
	"github.com/sirupsen/logrus"
)

// storage is the match repository chosen by storage.driver plus its health
// check and teardown.
type storage struct {
	repo  match.Repository
	ready func(ctx context.Context) error
	close func()
}

func main() {
	configPath := flag.String("config", "", "path to a salvo.yaml config file")
	flag.Parse()

	logger := logrus.New()

	src, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	cfg := src.Config()
	if err := cfg.Log.Apply(logger); err != nil {
		logger.WithError(err).Fatal("invalid log config")
	}
	src.Watch(logger, func(c *config.Config) {
		if err := c.Log.Apply(logger); err != nil {
			logger.WithError(err).Warn("failed to apply reloaded log config")
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage")
	}
	defer store.close()

	tokens, err := openTokens(cfg.Auth)
	if err != nil {
		logger.WithError(err).Fatal("failed to set up identity provider")
	}

	svc := session.New(
		lobby.NewRegistry(logger),
		match.NewStore(store.repo, logger),
		session.Options{LobbyIdleTTL: cfg.Sweeper.LobbyIdleTTL, MatchIdleTTL: cfg.Sweeper.MatchIdleTTL},
		logger,
	)
	server := handlers.NewServer(svc, handlers.TokenResolver{Tokens: tokens, AllowGuests: cfg.Auth.AllowGuests}, logger).
		WithReadiness(store.ready)

	go svc.RunSweeper(ctx, cfg.Sweeper.Interval, server.Hub().Deliver)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("driver", cfg.Storage.Driver).Infof("Running on %s", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server exited")
		}
		return
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	server.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown incomplete")
	}
}

func openStorage(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &storage{
			repo:  database.NewMatchRepository(pool, logger),
			ready: pool.Ping,
			close: pool.Close,
		}, nil

	case config.DriverRedis:
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &storage{
			repo:  cache.NewMatchRepository(rdb, cfg.Redis.TTL, logger),
			ready: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			close: func() {
				if err := rdb.Close(); err != nil {
					logger.WithError(err).Warn("failed to close redis client")
				}
			},
		}, nil
	}
	logger.Warn("using in-memory match storage; matches are lost on restart")
	return &storage{repo: match.NewMemoryRepository(), close: func() {}}, nil
}

func openTokens(cfg config.AuthConfig) (*auth.Provider, error) {
	if cfg.PrivateKeyPath != "" {
		return auth.NewFromFiles(cfg.PrivateKeyPath, cfg.PublicKeyPath, cfg.TokenTTL)
	}
	return auth.New(cfg.TokenTTL)
}
