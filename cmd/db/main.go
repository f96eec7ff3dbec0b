// cmd/db/main.go is the storage maintenance tool: schema setup and stale
// match cleanup against whichever backend storage.driver selects.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/salvo/internal/cache"
	"github.com/jason-s-yu/salvo/internal/config"
	"github.com/jason-s-yu/salvo/internal/database"
	"github.com/sirupsen/logrus"
)

const usage = `usage: salvo-db [-config file] <command> [flags]

commands:
  migrate                   create the matches table (postgres only)
  purge  [-older-than d]    delete matches not updated within d once
  janitor [-older-than d] [-every d]
                            purge repeatedly until interrupted
`

// staleDeleter is the part of a match repository the tool needs.
type staleDeleter interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

func main() {
	configPath := flag.String("config", "", "path to a salvo.yaml config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	src, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	cfg := src.Config()
	if err := cfg.Log.Apply(logger); err != nil {
		logger.WithError(err).Fatal("invalid log config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	olderThan := fs.Duration("older-than", cfg.Sweeper.MatchIdleTTL, "age after which a match is stale")
	every := fs.Duration("every", cfg.Sweeper.Interval, "janitor interval")
	_ = fs.Parse(args)

	switch cmd {
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "purge", "janitor":
		var repo staleDeleter
		var closeFn func()
		repo, closeFn, err = openRepository(ctx, cfg, logger)
		if err != nil {
			break
		}
		defer closeFn()
		if cmd == "purge" {
			err = purge(ctx, repo, *olderThan, logger)
		} else {
			err = janitor(ctx, repo, *olderThan, *every, logger)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.WithError(err).WithField("command", cmd).Fatal("command failed")
	}
}

func migrate(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if cfg.Storage.Driver != config.DriverPostgres {
		logger.WithField("driver", cfg.Storage.Driver).Info("nothing to migrate")
		return nil
	}
	pool, err := database.Connect(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	logger.Info("schema up to date")
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (staleDeleter, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, err
		}
		return database.NewMatchRepository(pool, logger), pool.Close, nil
	case config.DriverRedis:
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewMatchRepository(rdb, cfg.Redis.TTL, logger), func() { _ = rdb.Close() }, nil
	}
	return nil, nil, fmt.Errorf("storage.driver %q keeps matches in process memory; nothing to purge", cfg.Storage.Driver)
}

func purge(ctx context.Context, repo staleDeleter, olderThan time.Duration, logger *logrus.Logger) error {
	if olderThan <= 0 {
		return fmt.Errorf("older-than must be positive, got %s", olderThan)
	}
	n, err := repo.DeleteStale(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"deleted": n, "older_than": olderThan}).Info("stale matches purged")
	return nil
}

// janitor purges every interval until ctx ends. A failed round is logged and
// retried on the next tick.
func janitor(ctx context.Context, repo staleDeleter, olderThan, every time.Duration, logger *logrus.Logger) error {
	if every <= 0 {
		return fmt.Errorf("every must be positive, got %s", every)
	}
	logger.WithField("every", every).Info("janitor started")
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := purge(ctx, repo, olderThan, logger); err != nil {
			logger.WithError(err).Warn("purge round failed")
		}
		select {
		case <-ctx.Done():
			logger.Info("janitor shutting down")
			return nil
		case <-ticker.C:
		}
	}
}
