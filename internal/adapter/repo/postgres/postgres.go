// Package postgres persists OCR results. Regions, fields and processing
// metadata are stored as JSONB documents alongside the indexed scalar
// columns.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of pgxpool.Pool the repository needs; narrowed
// for substitution in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// NewPool connects with OTEL instrumentation and sane pool limits.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres parse config: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS ocr_results (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	message_id TEXT NOT NULL DEFAULT '',
	full_text TEXT NOT NULL DEFAULT '',
	regions JSONB NOT NULL DEFAULT '[]',
	overall_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	fields JSONB NOT NULL DEFAULT '{}',
	enhanced_image JSONB NOT NULL DEFAULT '{}',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS ocr_results_job_id_key ON ocr_results (job_id);
CREATE INDEX IF NOT EXISTS ocr_results_user_id_idx ON ocr_results (user_id);
CREATE INDEX IF NOT EXISTS ocr_results_created_at_idx ON ocr_results (created_at DESC);
CREATE INDEX IF NOT EXISTS ocr_results_confidence_idx ON ocr_results (overall_confidence DESC);
`

// EnsureSchema creates the results table and its indexes.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres ensure schema: %w", err)
	}
	return nil
}
