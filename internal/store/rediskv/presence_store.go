package rediskv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PresenceStore implements store.PresenceStore as two Redis set
// indices, the G-Set union/remove presence model the spec describes:
// concurrent membership changes commute, so no cross-process lock is
// needed to keep them consistent.
type PresenceStore struct {
	c *Client
}

// NewPresenceStore returns a Redis-backed PresenceStore.
func NewPresenceStore(c *Client) *PresenceStore {
	return &PresenceStore{c: c}
}

func roomUsersKey(roomID uuid.UUID) string { return fmt.Sprintf("ws:room:%s:users", roomID) }
func userRoomsKey(userID uuid.UUID) string { return fmt.Sprintf("ws:user:%s:rooms", userID) }

func (s *PresenceStore) AddUserToRoom(ctx context.Context, roomID, userID uuid.UUID, ttl time.Duration) error {
	ctx, done := instrument(ctx, "presence.add_user_to_room")
	defer done()

	pipe := s.c.rdb.TxPipeline()
	pipe.SAdd(ctx, roomUsersKey(roomID), userID.String())
	pipe.Expire(ctx, roomUsersKey(roomID), ttl)
	pipe.SAdd(ctx, userRoomsKey(userID), roomID.String())
	pipe.Expire(ctx, userRoomsKey(userID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *PresenceStore) RemoveUserFromRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	ctx, done := instrument(ctx, "presence.remove_user_from_room")
	defer done()

	pipe := s.c.rdb.TxPipeline()
	pipe.SRem(ctx, roomUsersKey(roomID), userID.String())
	pipe.SRem(ctx, userRoomsKey(userID), roomID.String())
	_, err := pipe.Exec(ctx)
	return err
}

func (s *PresenceStore) RoomUsers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	ctx, done := instrument(ctx, "presence.room_users")
	defer done()
	return s.members(ctx, roomUsersKey(roomID))
}

func (s *PresenceStore) UserRooms(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ctx, done := instrument(ctx, "presence.user_rooms")
	defer done()
	return s.members(ctx, userRoomsKey(userID))
}

func (s *PresenceStore) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, done := instrument(ctx, "presence.is_online")
	defer done()
	n, err := s.c.rdb.SCard(ctx, userRoomsKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PresenceStore) members(ctx context.Context, key string) ([]uuid.UUID, error) {
	raw, err := s.c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		id, err := uuid.Parse(v)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
