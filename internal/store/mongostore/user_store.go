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

// UserStore implements store.UserStore against the "users" collection.
type UserStore struct {
	c *Client
}

// NewUserStore returns a Mongo-backed UserStore.
func NewUserStore(c *Client) *UserStore {
	return &UserStore{c: c}
}

func (s *UserStore) coll() *mongo.Collection { return s.c.collection("users") }

func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	ctx, done := instrument(ctx, "users.create")
	defer done()
	_, err := s.coll().InsertOne(ctx, u)
	return err
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, done := instrument(ctx, "users.get_by_id")
	defer done()
	var u models.User
	err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound(errs.SubjectUser, "user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	ctx, done := instrument(ctx, "users.get_by_ids")
	defer done()
	out := make(map[uuid.UUID]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.coll().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var u models.User
		if err := cur.Decode(&u); err != nil {
			return nil, err
		}
		out[u.ID] = &u
	}
	return out, cur.Err()
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx, done := instrument(ctx, "users.get_by_username")
	defer done()
	var u models.User
	err := s.coll().FindOne(ctx, bson.M{"username": username}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound(errs.SubjectUser, "user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	ctx, done := instrument(ctx, "users.exists_by_username")
	defer done()
	err := s.coll().FindOne(ctx, bson.M{"username": username}, projectIDOnly()).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *UserStore) Update(ctx context.Context, u *models.User) error {
	ctx, done := instrument(ctx, "users.update")
	defer done()
	_, err := s.coll().ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	return err
}

func (s *UserStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, done := instrument(ctx, "users.delete")
	defer done()
	_, err := s.coll().DeleteOne(ctx, bson.M{"_id": id})
	return err
}
