package mongostore

import (
	"context"
	"errors"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NotificationStore implements store.NotificationStore against the
// "notifications" collection.
type NotificationStore struct {
	c *Client
}

// NewNotificationStore returns a Mongo-backed NotificationStore.
func NewNotificationStore(c *Client) *NotificationStore {
	return &NotificationStore{c: c}
}

func (s *NotificationStore) coll() *mongo.Collection { return s.c.collection("notifications") }

func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	ctx, done := instrument(ctx, "notifications.create")
	defer done()
	_, err := s.coll().InsertOne(ctx, n)
	return err
}

func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	ctx, done := instrument(ctx, "notifications.get")
	defer done()
	var n models.Notification
	err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound(errs.SubjectNotification, "notification not found")
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	ctx, done := instrument(ctx, "notifications.list_by_user")
	defer done()
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.coll().Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.Notification
	for cur.Next(ctx) {
		var n models.Notification
		if err := cur.Decode(&n); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, cur.Err()
}

func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	ctx, done := instrument(ctx, "notifications.mark_read")
	defer done()
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"read": true}})
	return err
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	ctx, done := instrument(ctx, "notifications.mark_all_read")
	defer done()
	_, err := s.coll().UpdateMany(ctx, bson.M{"user_id": userID, "read": false}, bson.M{"$set": bson.M{"read": true}})
	return err
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, done := instrument(ctx, "notifications.count_unread")
	defer done()
	n, err := s.coll().CountDocuments(ctx, bson.M{"user_id": userID, "read": false})
	return int(n), err
}

func (s *NotificationStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, done := instrument(ctx, "notifications.delete")
	defer done()
	_, err := s.coll().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *NotificationStore) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	ctx, done := instrument(ctx, "notifications.delete_all_for_user")
	defer done()
	_, err := s.coll().DeleteMany(ctx, bson.M{"user_id": userID})
	return err
}
