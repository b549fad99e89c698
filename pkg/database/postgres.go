// Package database owns the connections kb-engine holds open: the pgx pool
// the repositories query through, the optional Redis client behind the
// response cache, and schema migration on startup.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealerdesk/kb-engine/pkg/config"
)

// Pool sizing applied when the configuration leaves a knob unset.
const (
	defaultMaxConns     = 25
	defaultConnLifetime = time.Hour
	defaultConnIdleTime = 30 * time.Minute
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// NewConnection opens the connection pool kb-engine runs on. The host is
// rewritten for Docker when the process runs inside a container and
// targets localhost, and the pool is pinged before it is handed out.
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	resolved := *cfg
	resolved.Host = config.ResolveHostForDocker(cfg.Host)

	poolConfig, err := pgxpool.ParseConfig(resolved.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = defaultMaxConns
	}
	poolConfig.MaxConnLifetime = defaultConnLifetime
	poolConfig.MaxConnIdleTime = defaultConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
