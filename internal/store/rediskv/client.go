// Package rediskv implements every KV-shaped concern the spec names:
// sessions (sliding TTL), WebSocket sessions, presence sets, the
// outbox worker/repair distributed locks, and the pub/sub bus.
// Grounded on the teacher's internal/cache/cache.go almost verbatim
// for client setup and instrumentation, generalized from a single
// presence type to the full set of KV-backed concerns this domain
// needs.
package rediskv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var redisLatency metric.Float64Histogram

const tracerName = "redis-client"

// Client wraps a go-redis client with tracing/metrics.
type Client struct {
	rdb *redis.Client
}

// New parses dsn and connects, verifying with a traced PING.
func New(dsn string) (*Client, error) {
	var err error
	meter := otel.Meter(tracerName)
	redisLatency, err = meter.Float64Histogram("redis.command.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redis.command.latency instrument: %w", err)
	}

	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, span := otel.Tracer(tracerName).Start(context.Background(), "redis.ping")
	defer span.End()
	if err := rdb.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ping redis")
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	span.SetStatus(codes.Ok, "redis connected")

	return &Client{rdb: rdb}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Raw exposes the underlying go-redis client for concerns that need
// direct command access (e.g. the HTTP edge's per-user rate limiter)
// rather than one of the narrow store interfaces in this package.
func (c *Client) Raw() *redis.Client { return c.rdb }

func instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func()) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "redis."+op, trace.WithAttributes(attrs...))
	return ctx, func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", op)))
		span.End()
	}
}
