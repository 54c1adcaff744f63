package mongostore

import (
	"context"
	"errors"

	"github.com/chatforge/realtime/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MembershipStore implements store.MembershipStore against the
// "room_memberships" collection.
type MembershipStore struct {
	c *Client
}

// NewMembershipStore returns a Mongo-backed MembershipStore.
func NewMembershipStore(c *Client) *MembershipStore {
	return &MembershipStore{c: c}
}

func (s *MembershipStore) coll() *mongo.Collection { return s.c.collection("room_memberships") }

func (s *MembershipStore) Exists(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	ctx, done := instrument(ctx, "memberships.exists")
	defer done()
	err := s.coll().FindOne(ctx, bson.M{"room_id": roomID, "user_id": userID}, projectIDOnly()).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MembershipStore) Save(ctx context.Context, m *models.RoomMembership) error {
	ctx, done := instrument(ctx, "memberships.save")
	defer done()
	_, err := s.coll().InsertOne(ctx, m)
	return err
}

func (s *MembershipStore) Delete(ctx context.Context, roomID, userID uuid.UUID) error {
	ctx, done := instrument(ctx, "memberships.delete")
	defer done()
	_, err := s.coll().DeleteOne(ctx, bson.M{"room_id": roomID, "user_id": userID})
	return err
}

func (s *MembershipStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMembership, error) {
	ctx, done := instrument(ctx, "memberships.list_by_room")
	defer done()
	cur, err := s.coll().Find(ctx, bson.M{"room_id": roomID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.RoomMembership
	for cur.Next(ctx) {
		var m models.RoomMembership
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}
