package mongostore

import (
	"context"
	"errors"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// JoinRequestStore implements store.JoinRequestStore against the
// "join_requests" collection.
type JoinRequestStore struct {
	c *Client
}

// NewJoinRequestStore returns a Mongo-backed JoinRequestStore.
func NewJoinRequestStore(c *Client) *JoinRequestStore {
	return &JoinRequestStore{c: c}
}

func (s *JoinRequestStore) coll() *mongo.Collection { return s.c.collection("join_requests") }

func (s *JoinRequestStore) Save(ctx context.Context, jr *models.JoinRequest) error {
	ctx, done := instrument(ctx, "join_requests.save")
	defer done()
	_, err := s.coll().InsertOne(ctx, jr)
	return err
}

func (s *JoinRequestStore) Get(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	ctx, done := instrument(ctx, "join_requests.get")
	defer done()
	var jr models.JoinRequest
	err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&jr)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound(errs.SubjectJoinRequest, "join request not found")
	}
	if err != nil {
		return nil, err
	}
	return &jr, nil
}

func (s *JoinRequestStore) Update(ctx context.Context, jr *models.JoinRequest) error {
	ctx, done := instrument(ctx, "join_requests.update")
	defer done()
	_, err := s.coll().ReplaceOne(ctx, bson.M{"_id": jr.ID}, jr)
	return err
}

func (s *JoinRequestStore) ExistsPending(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	ctx, done := instrument(ctx, "join_requests.exists_pending")
	defer done()
	filter := bson.M{
		"room_id": roomID,
		"user_id": userID,
		"status":  models.JoinRequestPending,
	}
	err := s.coll().FindOne(ctx, filter, projectIDOnly()).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *JoinRequestStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.JoinRequest, error) {
	ctx, done := instrument(ctx, "join_requests.list_by_room")
	defer done()
	cur, err := s.coll().Find(ctx, bson.M{"room_id": roomID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.JoinRequest
	for cur.Next(ctx) {
		var jr models.JoinRequest
		if err := cur.Decode(&jr); err != nil {
			return nil, err
		}
		out = append(out, &jr)
	}
	return out, cur.Err()
}
