// Package postgres provides the optional cross-restart persistence
// adapter for the kill-switch plugin's state.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Config holds PostgreSQL connection configuration. Pool tuning is kept
// to what an embedded library actually needs; a handful of connections,
// not the multi-tenant-API-server defaults.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new PostgreSQL connection pool and verifies connectivity.
func New(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.ConnConfig.Password = cfg.Password
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("agentguard: postgres connection established")
	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks if the database connection is healthy.
func (db *DB) Health(ctx context.Context) error {
	if db.Pool == nil {
		return fmt.Errorf("postgres: pool not initialized")
	}
	return db.Pool.Ping(ctx)
}

// WithTx executes fn within a transaction, rolling back on any error
// including a failed commit.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Msg("agentguard: rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Msg("agentguard: rollback after failed commit failed")
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
