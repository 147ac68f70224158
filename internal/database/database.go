package database

import (
	"context"
	"fmt"
	"log/slog"

	"pulse/server/internal/config"
	"pulse/server/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect creates a pgx pool for databaseURL and verifies it with a ping
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("database connected", "driver", "pgx")
	return pool, nil
}

// Open returns the storage gateway selected by cfg
func Open(ctx context.Context, cfg config.StoreConfig) (store.Gateway, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		gateway, err := store.NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return gateway, nil

	case config.DriverSQLite:
		gateway, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("database connected", "driver", "sqlite3", "path", cfg.SQLitePath)
		return gateway, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Driver)
}
