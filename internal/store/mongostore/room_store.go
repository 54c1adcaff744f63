package mongostore

import (
	"context"
	"errors"
	"regexp"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoomStore implements store.RoomStore against the "rooms" collection.
type RoomStore struct {
	c *Client
}

// NewRoomStore returns a Mongo-backed RoomStore.
func NewRoomStore(c *Client) *RoomStore {
	return &RoomStore{c: c}
}

func (s *RoomStore) coll() *mongo.Collection          { return s.c.collection("rooms") }
func (s *RoomStore) memberships() *mongo.Collection   { return s.c.collection("room_memberships") }

func (s *RoomStore) Create(ctx context.Context, r *models.Room) error {
	ctx, done := instrument(ctx, "rooms.create")
	defer done()
	_, err := s.coll().InsertOne(ctx, r)
	return err
}

func (s *RoomStore) Get(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	ctx, done := instrument(ctx, "rooms.get")
	defer done()
	var r models.Room
	err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound(errs.SubjectRoom, "room not found")
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RoomStore) ExistsByName(ctx context.Context, name string) (bool, error) {
	ctx, done := instrument(ctx, "rooms.exists_by_name")
	defer done()
	err := s.coll().FindOne(ctx, bson.M{"name": name}, projectIDOnly()).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RoomStore) Update(ctx context.Context, r *models.Room) error {
	ctx, done := instrument(ctx, "rooms.update")
	defer done()
	_, err := s.coll().ReplaceOne(ctx, bson.M{"_id": r.ID}, r)
	return err
}

func (s *RoomStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, done := instrument(ctx, "rooms.delete")
	defer done()
	_, err := s.coll().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *RoomStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	ctx, done := instrument(ctx, "rooms.list_by_user")
	defer done()

	cur, err := s.memberships().Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for cur.Next(ctx) {
		var m models.RoomMembership
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		ids = append(ids, m.RoomID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	roomCur, err := s.coll().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer roomCur.Close(ctx)
	var rooms []*models.Room
	for roomCur.Next(ctx) {
		var r models.Room
		if err := roomCur.Decode(&r); err != nil {
			return nil, err
		}
		rooms = append(rooms, &r)
	}
	return rooms, roomCur.Err()
}

func (s *RoomStore) ListTopPublic(ctx context.Context, limit int) ([]*models.Room, error) {
	ctx, done := instrument(ctx, "rooms.list_top_public")
	defer done()

	opts := options.Find().
		SetSort(bson.D{{Key: "participants_count", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.coll().Find(ctx, bson.M{"is_public": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var rooms []*models.Room
	for cur.Next(ctx) {
		var r models.Room
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		rooms = append(rooms, &r)
	}
	return rooms, cur.Err()
}

func (s *RoomStore) Search(ctx context.Context, query string, limit int) ([]*models.Room, error) {
	ctx, done := instrument(ctx, "rooms.search")
	defer done()

	pattern := regexp.QuoteMeta(query)
	filter := bson.M{"$or": []bson.M{
		{"name": bson.M{"$regex": pattern, "$options": "i"}},
		{"description": bson.M{"$regex": pattern, "$options": "i"}},
	}}
	opts := options.Find().SetLimit(int64(limit))
	cur, err := s.coll().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var rooms []*models.Room
	for cur.Next(ctx) {
		var r models.Room
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		rooms = append(rooms, &r)
	}
	return rooms, cur.Err()
}

func (s *RoomStore) IncrementParticipants(ctx context.Context, roomID uuid.UUID) error {
	ctx, done := instrument(ctx, "rooms.increment_participants")
	defer done()
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": roomID}, bson.M{"$inc": bson.M{"participants_count": 1}})
	return err
}

// DecrementParticipants decrements participants_count with a floor of
// zero: the pipeline form of $inc clamped via $max keeps the counter
// from going negative under concurrent decrements.
func (s *RoomStore) DecrementParticipants(ctx context.Context, roomID uuid.UUID) error {
	ctx, done := instrument(ctx, "rooms.decrement_participants")
	defer done()
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "participants_count", Value: bson.D{
				{Key: "$max", Value: bson.A{0, bson.D{{Key: "$subtract", Value: bson.A{"$participants_count", 1}}}}},
			}},
		}}},
	}
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": roomID}, pipeline)
	return err
}
