package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"market-data-automation/internal/config"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open builds the configured primary store and ensures its schema exists.
func Open(ctx context.Context, cfg config.StorageConfig) (QuoteStore, error) {
	var (
		store QuoteStore
		err   error
	)

	switch strings.ToLower(cfg.Driver) {
	case DriverSQLite, "sqlite3", "":
		store, err = NewSQLiteStore(cfg.SQLitePath)
	case DriverPostgres, "postgresql", "pgx":
		var pool *pgxpool.Pool
		pool, err = NewPool(ctx, cfg)
		if err == nil {
			store = NewPostgresStore(pool)
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
