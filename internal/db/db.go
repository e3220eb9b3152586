package db

import (
	"context"
	"fmt"
	"time"

	"AuctionCore/internal/store"
	"AuctionCore/internal/store/pg"
	"AuctionCore/internal/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Pool = pgxpool.Pool

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// OpenStore returns the store.Store for driver. Postgres expects the
// migrations to have been applied; SQLite applies its schema on open.
func OpenStore(ctx context.Context, driver, dsn string, lockTimeout time.Duration) (store.Store, error) {
	switch driver {
	case "", DriverPostgres:
		pool, err := Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("db.OpenStore: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db.OpenStore: ping: %w", err)
		}
		st := pg.New(pool)
		if lockTimeout > 0 {
			st.LockTimeout = lockTimeout
		}
		return st, nil
	case DriverSQLite:
		st, err := sqlite.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("db.OpenStore: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("db.OpenStore: unknown driver %q", driver)
	}
}
