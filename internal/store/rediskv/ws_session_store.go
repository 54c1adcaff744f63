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

// WSSessionStore implements store.WSSessionStore. Keys:
// ws_session:{id} → WSSession JSON, user_ws_sessions:{user} → set<ws_session_id>.
type WSSessionStore struct {
	c *Client
}

// NewWSSessionStore returns a Redis-backed WSSessionStore.
func NewWSSessionStore(c *Client) *WSSessionStore {
	return &WSSessionStore{c: c}
}

func wsSessionKey(id uuid.UUID) string          { return fmt.Sprintf("ws_session:%s", id) }
func userWSSessionsKey(userID uuid.UUID) string { return fmt.Sprintf("user_ws_sessions:%s", userID) }

func (s *WSSessionStore) Create(ctx context.Context, ws *models.WSSession, ttl time.Duration) error {
	ctx, done := instrument(ctx, "ws_session.create")
	defer done()

	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("failed to marshal ws session: %w", err)
	}
	pipe := s.c.rdb.TxPipeline()
	pipe.Set(ctx, wsSessionKey(ws.ID), data, ttl)
	pipe.SAdd(ctx, userWSSessionsKey(ws.UserID), ws.ID.String())
	pipe.Expire(ctx, userWSSessionsKey(ws.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *WSSessionStore) Get(ctx context.Context, id uuid.UUID) (*models.WSSession, error) {
	ctx, done := instrument(ctx, "ws_session.get")
	defer done()

	data, err := s.c.rdb.Get(ctx, wsSessionKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ws models.WSSession
	if err := json.Unmarshal([]byte(data), &ws); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ws session: %w", err)
	}
	return &ws, nil
}

func (s *WSSessionStore) UpdatePing(ctx context.Context, id uuid.UUID, at time.Time, ttl time.Duration) error {
	ctx, done := instrument(ctx, "ws_session.update_ping")
	defer done()

	ws, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if ws == nil {
		return redis.Nil
	}
	ws.LastPingAt = at
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("failed to marshal ws session: %w", err)
	}
	return s.c.rdb.Set(ctx, wsSessionKey(id), data, ttl).Err()
}

func (s *WSSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, done := instrument(ctx, "ws_session.delete")
	defer done()

	ws, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.c.rdb.TxPipeline()
	pipe.Del(ctx, wsSessionKey(id))
	if ws != nil {
		pipe.SRem(ctx, userWSSessionsKey(ws.UserID), id.String())
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *WSSessionStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.WSSession, error) {
	ctx, done := instrument(ctx, "ws_session.list_for_user")
	defer done()

	ids, err := s.c.rdb.SMembers(ctx, userWSSessionsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchMany(ctx, ids)
}

func (s *WSSessionStore) ListForUserInRoom(ctx context.Context, userID, roomID uuid.UUID) ([]*models.WSSession, error) {
	all, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.WSSession, 0, len(all))
	for _, ws := range all {
		if ws.RoomID == roomID {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (s *WSSessionStore) fetchMany(ctx context.Context, ids []string) ([]*models.WSSession, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf("ws_session:%s", id)
	}
	vals, err := s.c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*models.WSSession, 0, len(vals))
	for _, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var ws models.WSSession
		if err := json.Unmarshal([]byte(str), &ws); err != nil {
			continue
		}
		out = append(out, &ws)
	}
	return out, nil
}
