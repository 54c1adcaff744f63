package mongostore

import (
	"context"
	"time"

	"github.com/chatforge/realtime/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OutboxStore implements store.OutboxStore against the "outboxes"
// collection. The unique index on dedup_key makes Insert an
// insert-if-absent primitive: a duplicate-key error is swallowed and
// reported as inserted=false.
type OutboxStore struct {
	c *Client
}

// NewOutboxStore returns a Mongo-backed OutboxStore.
func NewOutboxStore(c *Client) *OutboxStore {
	return &OutboxStore{c: c}
}

func (s *OutboxStore) coll() *mongo.Collection { return s.c.collection("outboxes") }

func (s *OutboxStore) Insert(ctx context.Context, e *models.OutboxEntry) (bool, error) {
	ctx, done := instrument(ctx, "outboxes.insert")
	defer done()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.coll().InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *OutboxStore) ClaimPending(ctx context.Context, limit int, leaseUntil time.Time) ([]*models.OutboxEntry, error) {
	ctx, done := instrument(ctx, "outboxes.claim_pending")
	defer done()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(map[string]int{"_id": 1})
	cur, err := s.coll().Find(ctx, bson.M{"status": models.OutboxPending}, opts)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for cur.Next(ctx) {
		var row struct {
			ID uuid.UUID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			cur.Close(ctx)
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	cur.Close(ctx)
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.coll().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": models.OutboxPending},
		bson.M{"$set": bson.M{"status": models.OutboxInProgress, "in_progress_until": leaseUntil}},
	)
	if err != nil {
		return nil, err
	}

	claimedCur, err := s.coll().Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "status": models.OutboxInProgress, "in_progress_until": leaseUntil})
	if err != nil {
		return nil, err
	}
	defer claimedCur.Close(ctx)
	var out []*models.OutboxEntry
	for claimedCur.Next(ctx) {
		var e models.OutboxEntry
		if err := claimedCur.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, claimedCur.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	ctx, done := instrument(ctx, "outboxes.mark_sent")
	defer done()
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":  models.OutboxSent,
		"sent_at": sentAt,
	}, "$unset": bson.M{"in_progress_until": ""}})
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	ctx, done := instrument(ctx, "outboxes.mark_failed")
	defer done()
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     models.OutboxFailed,
		"last_error": lastError,
	}, "$unset": bson.M{"in_progress_until": ""}})
	return err
}

func (s *OutboxStore) MarkRetry(ctx context.Context, id uuid.UUID, retries int, lastError string) error {
	ctx, done := instrument(ctx, "outboxes.mark_retry")
	defer done()
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     models.OutboxPending,
		"retries":    retries,
		"last_error": lastError,
	}, "$unset": bson.M{"in_progress_until": ""}})
	return err
}

func (s *OutboxStore) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	ctx, done := instrument(ctx, "outboxes.reclaim_expired_leases")
	defer done()
	res, err := s.coll().UpdateMany(ctx, bson.M{
		"status":            models.OutboxInProgress,
		"in_progress_until": bson.M{"$lt": now},
	}, bson.M{"$set": bson.M{"status": models.OutboxPending}, "$unset": bson.M{"in_progress_until": ""}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (s *OutboxStore) ExistsByDedupKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	ctx, done := instrument(ctx, "outboxes.exists_by_dedup_keys")
	defer done()

	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(map[string]int{"dedup_key": 1})
	cur, err := s.coll().Find(ctx, bson.M{"dedup_key": bson.M{"$in": keys}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var row struct {
			DedupKey string `bson:"dedup_key"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.DedupKey] = true
	}
	return out, cur.Err()
}
