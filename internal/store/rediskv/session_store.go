package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatforge/realtime/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UserSessionStore implements store.UserSessionStore. Keys:
// session:{id} → UserSession JSON, user_sessions:{user} → set<session_id>.
type UserSessionStore struct {
	c *Client
}

// NewUserSessionStore returns a Redis-backed UserSessionStore.
func NewUserSessionStore(c *Client) *UserSessionStore {
	return &UserSessionStore{c: c}
}

func sessionKey(id uuid.UUID) string      { return fmt.Sprintf("session:%s", id) }
func userSessionsKey(userID uuid.UUID) string { return fmt.Sprintf("user_sessions:%s", userID) }

func (s *UserSessionStore) Create(ctx context.Context, sess *models.UserSession, ttl time.Duration) error {
	ctx, done := instrument(ctx, "session.create")
	defer done()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.c.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), sess.ID.String())
	pipe.Expire(ctx, userSessionsKey(sess.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *UserSessionStore) Get(ctx context.Context, id uuid.UUID, ttl, refreshThreshold time.Duration) (*models.UserSession, error) {
	ctx, done := instrument(ctx, "session.get")
	defer done()

	key := sessionKey(id)
	data, err := s.c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sess models.UserSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	remaining, err := s.c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if remaining >= 0 && remaining < refreshThreshold {
		pipe := s.c.rdb.TxPipeline()
		pipe.Expire(ctx, key, ttl)
		pipe.Expire(ctx, userSessionsKey(sess.UserID), ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to refresh session ttl: %w", err)
		}
	}

	return &sess, nil
}

func (s *UserSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, done := instrument(ctx, "session.delete")
	defer done()

	key := sessionKey(id)
	data, err := s.c.rdb.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if err == nil {
		var sess models.UserSession
		if jerr := json.Unmarshal([]byte(data), &sess); jerr == nil {
			pipe.SRem(ctx, userSessionsKey(sess.UserID), id.String())
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *UserSessionStore) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	ctx, done := instrument(ctx, "session.delete_all_for_user")
	defer done()

	ids, err := s.c.rdb.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, fmt.Sprintf("session:%s", id))
	}
	keys = append(keys, userSessionsKey(userID))
	return s.c.rdb.Del(ctx, keys...).Err()
}

func (s *UserSessionStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ctx, done := instrument(ctx, "session.list_for_user")
	defer done()

	ids, err := s.c.rdb.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out, nil
}
