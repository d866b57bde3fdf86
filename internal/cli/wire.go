package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/0xd3bs/buysmart/internal/config"
	"github.com/0xd3bs/buysmart/internal/price"
	"github.com/0xd3bs/buysmart/internal/pricefeed"
	"github.com/0xd3bs/buysmart/internal/reconcile"
	"github.com/0xd3bs/buysmart/internal/store"
)

// deps holds the long-lived collaborators shared by every command.
type deps struct {
	store    store.PositionStore
	feed     pricefeed.Feed
	resolver *price.Resolver
	rdb      *redis.Client // nil when redis.addr is empty
	cleanup  []func()
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}

	if cfg.Redis.Addr != "" {
		d.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.cleanup = append(d.cleanup, func() { _ = d.rdb.Close() })
	}

	st, err := d.buildStore(ctx, cfg, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.store = st

	feed, err := pricefeed.New(pricefeed.Config{
		Provider: cfg.PriceFeed.Provider,
		BaseURL:  cfg.PriceFeed.BaseURL,
		Asset:    cfg.PriceFeed.Asset,
		Symbol:   cfg.PriceFeed.Symbol,
		Timeout:  cfg.PriceFeed.Timeout.Duration,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.feed = feed
	d.resolver = price.NewResolver(price.NewClassifier(cfg.Pairs.Stable, cfg.Pairs.Volatile), feed)
	return d, nil
}

func (d *deps) buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.PositionStore, error) {
	var st store.PositionStore

	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pool, err := store.ConnectPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		d.cleanup = append(d.cleanup, pool.Close)
		ps := store.NewPostgresStore(pool)
		if cfg.Postgres.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		st = ps
		logger.Info("connected to PostgreSQL")

	case "sqlite":
		ss, err := store.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		d.cleanup = append(d.cleanup, func() { _ = ss.Shutdown() })
		st = ss
		logger.Info("opened SQLite store", "path", cfg.SQLite.Path)

	case "memory":
		logger.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if d.rdb != nil {
		st = store.NewCachedStore(st, d.rdb, cfg.Redis.CacheTTL.Duration)
		logger.Info("Redis cache enabled", "addr", cfg.Redis.Addr)
	}
	return st, nil
}

// guard picks the in-flight guard. Validate has already checked that the
// redis guard has a client.
func (d *deps) guard(cfg *config.Config) reconcile.Guard {
	if strings.EqualFold(cfg.Reconcile.Guard, "redis") && d.rdb != nil {
		return reconcile.NewRedisGuard(d.rdb, cfg.Reconcile.GuardKey, cfg.Reconcile.GuardTTL.Duration)
	}
	return reconcile.NewLocalGuard()
}

// Close releases connections in reverse order of creation.
func (d *deps) Close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
	d.cleanup = nil
}
