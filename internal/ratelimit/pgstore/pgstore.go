// Package pgstore provides a PostgreSQL implementation of ratelimit.Store.
// Window records survive restarts and are shared by every instance using
// the same database.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/aitriage/internal/ratelimit"
)

var tracer = otel.Tracer("github.com/linnemanlabs/aitriage/internal/ratelimit/pgstore")

//go:embed schema.sql
var schema string

// Store persists rate limit windows in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller
// owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Consume implements ratelimit.Store. The row lock taken by SELECT ... FOR
// UPDATE serializes concurrent consumers of one identity.
func (s *Store) Consume(ctx context.Context, identity string, now time.Time, capacity int, window time.Duration) (ratelimit.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Consume", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	rec, ok, err := s.consume(ctx, identity, now, capacity, window)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ratelimit.Record{}, false, err
	}
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", ok),
		attribute.Int("ratelimit.count", rec.Count),
	)
	return rec, ok, nil
}

func (s *Store) consume(ctx context.Context, identity string, now time.Time, capacity int, window time.Duration) (ratelimit.Record, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ratelimit.Record{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO rate_limits (identity, window_start, count) VALUES ($1, $2, 0)
		 ON CONFLICT (identity) DO NOTHING`,
		identity, now,
	)
	if err != nil {
		return ratelimit.Record{}, false, fmt.Errorf("seed window: %w", err)
	}

	var rec ratelimit.Record
	err = tx.QueryRow(ctx,
		`SELECT window_start, count FROM rate_limits WHERE identity = $1 FOR UPDATE`,
		identity,
	).Scan(&rec.WindowStart, &rec.Count)
	if err != nil {
		return ratelimit.Record{}, false, fmt.Errorf("lock window: %w", err)
	}

	if ratelimit.Expired(rec.WindowStart, now, window) {
		rec = ratelimit.Record{WindowStart: now}
	}
	allowed := rec.Count < capacity
	if allowed {
		rec.Count++
	}

	_, err = tx.Exec(ctx,
		`UPDATE rate_limits SET window_start = $2, count = $3, updated_at = $4 WHERE identity = $1`,
		identity, rec.WindowStart, rec.Count, now,
	)
	if err != nil {
		return ratelimit.Record{}, false, fmt.Errorf("update window: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ratelimit.Record{}, false, fmt.Errorf("commit: %w", err)
	}
	rec.WindowStart = rec.WindowStart.UTC()
	return rec, allowed, nil
}

// Peek implements ratelimit.Store.
func (s *Store) Peek(ctx context.Context, identity string) (ratelimit.Record, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Peek", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var rec ratelimit.Record
	err := s.pool.QueryRow(ctx,
		`SELECT window_start, count FROM rate_limits WHERE identity = $1`,
		identity,
	).Scan(&rec.WindowStart, &rec.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return ratelimit.Record{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ratelimit.Record{}, fmt.Errorf("select window: %w", err)
	}
	rec.WindowStart = rec.WindowStart.UTC()
	return rec, nil
}

// Reset implements ratelimit.Store.
func (s *Store) Reset(ctx context.Context, identity string) error {
	ctx, span := tracer.Start(ctx, "pgstore.Reset", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE identity = $1`, identity); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete window: %w", err)
	}
	return nil
}

// Prune deletes windows that ended before now and returns how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Prune", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start <= $1`, now.Add(-window))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("prune windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
