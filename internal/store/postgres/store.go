// Package postgres provides the PostgreSQL-backed archive, catalog, and
// scope directory.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trunkwatch/trunkwatch/internal/observability"
)

// Store bundles the repositories sharing one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a store backed by the provided pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pgx pool.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Connect dials Postgres with exponential backoff until the context expires.
// Startup races against the database container in most deployments, so a
// failed ping retries rather than aborting.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = 5 * time.Second

	for {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				return pool, nil
			} else {
				err = pingErr
				pool.Close()
			}
		}

		sleep := backoffCfg.NextBackOff()
		observability.Log().Debug("database not ready, retrying",
			observability.Field{Key: "error", Value: err.Error()},
			observability.Field{Key: "retry_in", Value: sleep.String()})
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect database: %w", err)
		case <-time.After(sleep):
		}
	}
}
