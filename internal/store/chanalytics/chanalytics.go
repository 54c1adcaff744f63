// Package chanalytics implements the append-only AnalyticsSink over
// ClickHouse, the columnar store named in the spec's persisted-state
// layout (analytics_events partitioned monthly, ordered by
// (event_type, room_id, created_at)). Grounded on the teacher's
// internal/persistence/writer.go batching pattern, retargeted at
// ClickHouse's batch-insert API instead of Postgres upserts.
package chanalytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var appendLatency metric.Float64Histogram

const tracerName = "chanalytics-client"

// Sink batches AnalyticsEvent rows and flushes them to ClickHouse on a
// fixed interval or when a size threshold is hit, the same
// size-or-timer batching shape as the teacher's message writer.
type Sink struct {
	conn   clickhouse.Conn
	logger *logging.Logger

	mu      sync.Mutex
	pending []*models.AnalyticsEvent

	batchSize     int
	flushInterval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New connects to ClickHouse, creates the analytics_events table if
// absent, and starts the background flush loop.
func New(ctx context.Context, dsn string, logger *logging.Logger) (*Sink, error) {
	var err error
	meter := otel.Meter(tracerName)
	appendLatency, err = meter.Float64Histogram("clickhouse.append.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse.append.latency instrument: %w", err)
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "clickhouse.ping")
	defer span.End()
	if err := conn.Ping(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ping clickhouse")
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	span.SetStatus(codes.Ok, "clickhouse connected")

	ddl := `CREATE TABLE IF NOT EXISTS analytics_events (
		id UUID,
		event_type LowCardinality(String),
		user_id Nullable(UUID),
		room_id Nullable(UUID),
		created_at DateTime64(3),
		payload String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (event_type, room_id, created_at)`
	if err := conn.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create analytics_events table: %w", err)
	}

	s := &Sink{
		conn:          conn,
		logger:        logger,
		batchSize:     500,
		flushInterval: 2 * time.Second,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Append enqueues e for the next flush. It never blocks on the
// network: the outbox worker that calls this must not stall behind a
// slow ClickHouse insert.
func (s *Sink) Append(ctx context.Context, e *models.AnalyticsEvent) error {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	shouldFlush := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if shouldFlush {
		go func() {
			if err := s.flush(context.Background()); err != nil {
				s.logger.Error(context.Background(), "analytics flush failed: %v", err)
			}
		}()
	}
	return nil
}

func (s *Sink) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.flush(context.Background()); err != nil {
				s.logger.Error(context.Background(), "analytics flush failed: %v", err)
			}
		case <-s.stopCh:
			_ = s.flush(context.Background())
			return
		}
	}
}

func (s *Sink) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "clickhouse.append_batch")
	defer func() {
		appendLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.End()
	}()

	chBatch, err := s.conn.PrepareBatch(ctx, "INSERT INTO analytics_events")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to prepare batch")
		return fmt.Errorf("failed to prepare clickhouse batch: %w", err)
	}

	for _, e := range batch {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal analytics payload: %w", err)
		}
		if err := chBatch.Append(e.ID, string(e.EventType), e.UserID, e.RoomID, e.CreatedAt, string(payload)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to append to clickhouse batch: %w", err)
		}
	}

	if err := chBatch.Send(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send clickhouse batch")
		return fmt.Errorf("failed to send clickhouse batch: %w", err)
	}
	span.SetStatus(codes.Ok, "batch sent")
	return nil
}

// Close flushes pending events and stops the background loop.
func (s *Sink) Close() error {
	close(s.stopCh)
	<-s.doneCh
	return s.conn.Close()
}
