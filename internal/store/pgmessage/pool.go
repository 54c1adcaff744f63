// Package pgmessage implements the spec's wide-column message store —
// four access paths over the same Message aggregate — as four
// Postgres tables reached through jackc/pgx/v5. No wide-column
// driver (Cassandra/ScyllaDB) exists anywhere in the retrieval pack;
// this adapter reuses the teacher's own pgx pool wrapper almost
// verbatim and gives it message-specific query methods instead of a
// generic Query/Exec surface.
package pgmessage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	pgLatency           metric.Float64Histogram
	pgActiveConnections metric.Int64UpDownCounter
)

const tracerName = "pgmessage-client"

// Pool wraps a pgx connection pool with tracing/metrics, the same
// instrumentation shape the teacher's internal/db package uses.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to Postgres and creates the four message tables if
// they do not exist yet.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	var err error
	meter := otel.Meter(tracerName)
	pgLatency, err = meter.Float64Histogram("pgmessage.query.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create pgmessage.query.latency instrument: %w", err)
	}
	pgActiveConnections, err = meter.Int64UpDownCounter("pgmessage.active.connections", metric.WithUnit("connections"))
	if err != nil {
		return nil, fmt.Errorf("failed to create pgmessage.active.connections instrument: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		pgActiveConnections.Add(ctx, 1)
		return true
	}
	cfg.AfterRelease = func(conn *pgx.Conn) bool {
		pgActiveConnections.Add(context.Background(), -1)
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pgmessage.ping")
	defer span.End()
	if err := pool.Ping(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ping postgres")
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	span.SetStatus(codes.Ok, "postgres connected")

	p := &Pool{pool: pool}
	if err := p.migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages_by_id (
			id UUID PRIMARY KEY,
			room_id UUID NOT NULL,
			user_id UUID NOT NULL,
			content TEXT NOT NULL,
			edited BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages_by_room (
			room_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			id UUID NOT NULL,
			user_id UUID NOT NULL,
			content TEXT NOT NULL,
			edited BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (room_id, created_at, id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages_by_user (
			user_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			id UUID NOT NULL,
			room_id UUID NOT NULL,
			content TEXT NOT NULL,
			edited BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, created_at, id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages_global_recent (
			created_at TIMESTAMPTZ NOT NULL,
			id UUID NOT NULL,
			room_id UUID NOT NULL,
			user_id UUID NOT NULL,
			content TEXT NOT NULL,
			edited BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (created_at, id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run message store migration: %w", err)
		}
	}
	return nil
}

func (p *Pool) Close() { p.pool.Close() }

func (p *Pool) queryRow(ctx context.Context, op, query string, args ...interface{}) pgx.Row {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pgmessage."+op)
	defer func() {
		pgLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes())
		span.End()
	}()
	return p.pool.QueryRow(ctx, query, args...)
}

func (p *Pool) query(ctx context.Context, op, query string, args ...interface{}) (pgx.Rows, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pgmessage."+op)
	defer func() {
		pgLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.End()
	}()
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
	}
	return rows, err
}

func (p *Pool) exec(ctx context.Context, op, query string, args ...interface{}) error {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pgmessage."+op)
	defer func() {
		pgLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.End()
	}()
	_, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exec failed")
	}
	return err
}

func (p *Pool) begin(ctx context.Context) (pgx.Tx, error) {
	return p.pool.Begin(ctx)
}
