package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig sizes the pgx pool. Every flight worker holds a connection
// while it checkpoints a step, so MaxConns must stay above the engine's
// worker count or checkpoints start queueing behind API traffic.
type PoolConfig struct {
	DSN             string        `envconfig:"WSM_DB_DSN" required:"true"`
	MaxConns        int32         `envconfig:"WSM_DB_MAX_CONNS" default:"20"`
	MinConns        int32         `envconfig:"WSM_DB_MIN_CONNS" default:"2"`
	MaxConnIdleTime time.Duration `envconfig:"WSM_DB_CONN_MAX_IDLE" default:"5m"`
}

// NewPool opens a pgx pool with the configured sizing and verifies
// connectivity before returning it.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
