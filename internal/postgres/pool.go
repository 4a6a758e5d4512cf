// Package postgres opens instrumented pgx pools. Every query gets an
// OpenTelemetry span from otelpgx, a log line when it fails or runs slow,
// and a duration sample for the registered QueryObserver.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultSlowQuery is the duration above which a successful query is logged.
const DefaultSlowQuery = 250 * time.Millisecond

// PoolOptions tune NewPool. The zero value is usable.
type PoolOptions struct {
	Logger    log.Logger
	SlowQuery time.Duration
	MaxConns  int32
}

// NewPool parses url, installs the query tracer and checks connectivity.
func NewPool(ctx context.Context, url string, opts PoolOptions) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("database url is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.SlowQuery <= 0 {
		opts.SlowQuery = DefaultSlowQuery
	}
	cfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), opts.Logger, opts.SlowQuery)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
