package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/srsync/internal/config"
)

const (
	// ApplicationName tags journal connections in pg_stat_activity.
	ApplicationName = "syncd"

	pingTimeout         = 5 * time.Second
	healthCheckInterval = 30 * time.Second
)

// Connect opens the journal pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.JournalConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.HealthCheckPeriod = healthCheckInterval
	poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return pool, nil
}

// OpenJournal connects, creates the session_events table if needed, and
// returns a Journal over the pool. The caller closes the pool after
// stopping the journal.
func OpenJournal(ctx context.Context, cfg config.JournalConfig, logger *slog.Logger) (*Journal, *pgxpool.Pool, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	j := NewJournal(cfg, pool, logger)
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return j, pool, nil
}
