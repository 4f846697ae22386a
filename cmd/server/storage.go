package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/homestock/internal/config"
	"github.com/and161185/homestock/internal/limiter"
	"github.com/and161185/homestock/internal/migrate"
	"github.com/and161185/homestock/internal/repository"
	"github.com/and161185/homestock/internal/repository/memory"
	"github.com/and161185/homestock/internal/repository/postgres"
	redisrepo "github.com/and161185/homestock/internal/repository/redis"
)

// storage bundles the backends selected by configuration.
type storage struct {
	users     repository.UserRepository
	blacklist repository.BlacklistRepository
	limiter   limiter.Limiter
	health    func(ctx context.Context) error
	closers   []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (*storage, error) {
	st := &storage{}
	policy := limiter.Policy{Window: cfg.Limiter.Window, MaxFails: cfg.Limiter.MaxFails, BlockFor: cfg.Limiter.BlockFor}
	var pings []func(context.Context) error

	var db *postgres.DB
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Postgres.Migrate {
			if err := migrate.Up(ctx, cfg.Postgres.DSN); err != nil {
				return nil, fmt.Errorf("migrate up: %w", err)
			}
		}
		var err error
		db, err = postgres.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)
		pings = append(pings, db.Ping)
		st.users = postgres.NewUserRepo(db)
		st.limiter = limiter.NewPG(db.Pool, policy)
	case "memory":
		logger.Warn("using in-memory storage; accounts are lost on restart")
		st.users = memory.NewUserRepo()
		st.limiter = limiter.NewMemory(policy)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	switch cfg.Blacklist.Driver {
	case "postgres":
		if db == nil {
			st.close()
			return nil, fmt.Errorf("blacklist driver postgres requires postgres storage")
		}
		st.blacklist = postgres.NewBlacklistRepo(db, cfg.Blacklist.TTL)
	case "redis":
		rc := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			st.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		st.closers = append(st.closers, func() { _ = rc.Close() })
		pings = append(pings, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		st.blacklist = redisrepo.NewBlacklistRepo(rc, cfg.Blacklist.TTL)
	case "memory":
		st.blacklist = memory.NewBlacklistRepo(cfg.Blacklist.TTL)
	default:
		st.close()
		return nil, fmt.Errorf("unknown blacklist driver %q", cfg.Blacklist.Driver)
	}

	st.health = func(ctx context.Context) error {
		for _, p := range pings {
			if err := p(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return st, nil
}
