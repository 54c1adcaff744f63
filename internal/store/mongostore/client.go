// Package mongostore implements the document-store-backed aggregates
// (User, Room, RoomMembership, JoinRequest, Notification, OutboxEntry)
// on top of go.mongodb.org/mongo-driver, instrumented the same way the
// teacher repo instruments its Postgres pool: a tracer/meter pair per
// package, latency histograms per operation.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	mongoLatency metric.Float64Histogram
)

const tracerName = "mongo-client"

// Client owns the Mongo connection and the collections each
// aggregate store needs.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to Mongo and ensures the indexes the data model
// requires (unique username, unique room name, unique membership
// pair, unique dedup_key, etc).
func New(ctx context.Context, uri, dbName string) (*Client, error) {
	var err error
	meter := otel.Meter(tracerName)
	mongoLatency, err = meter.Float64Histogram("mongo.op.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo.op.latency instrument: %w", err)
	}

	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "mongo.ping")
	defer span.End()
	if err := mc.Ping(ctx, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ping mongo")
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	span.SetStatus(codes.Ok, "mongo connected")

	c := &Client{client: mc, db: mc.Database(dbName)}
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureIndexes(ctx context.Context) error {
	_, err := c.db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    map[string]int{"username": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create users.username index: %w", err)
	}

	_, err = c.db.Collection("rooms").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    map[string]int{"name": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create rooms.name index: %w", err)
	}

	_, err = c.db.Collection("room_memberships").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    map[string]int{"room_id": 1, "user_id": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create room_memberships compound index: %w", err)
	}

	_, err = c.db.Collection("join_requests").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: map[string]int{"room_id": 1, "user_id": 1, "status": 1}},
		{Keys: map[string]int{"status": 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create join_requests indexes: %w", err)
	}

	_, err = c.db.Collection("notifications").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: map[string]int{"user_id": 1}},
		{Keys: map[string]int{"created_at": -1}},
		{Keys: map[string]int{"read": 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create notifications indexes: %w", err)
	}

	_, err = c.db.Collection("outboxes").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: map[string]int{"dedup_key": 1}, Options: options.Index().SetUnique(true)},
		{Keys: map[string]int{"status": 1, "created_at": 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create outboxes indexes: %w", err)
	}

	return nil
}

// Close disconnects the Mongo client.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *Client) collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

func instrument(ctx context.Context, op string) (context.Context, func()) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mongo."+op)
	return ctx, func() {
		mongoLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.End()
	}
}

// transactionOptions is used by TxRunner; majority read/write concern
// keeps the transaction's view consistent with the rest of the cluster.
var transactionOptions = options.Transaction().
	SetReadConcern(readconcern.Majority()).
	SetWriteConcern(writeconcern.Majority())
