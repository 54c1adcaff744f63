// Package wsservice implements the session/presence half of the
// WebSocket plane: connect/disconnect bookkeeping, ping refresh,
// typing indicators, and forced disconnects (spec §4.5). The
// per-connection cooperative read/write/heartbeat loop lives in
// internal/wsloop, which calls into this service.
package wsservice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/outbox"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
)

// Service implements WebSocket session lifecycle and presence.
type Service struct {
	wsSessions  store.WSSessionStore
	presence    store.PresenceStore
	memberships store.MembershipStore
	rooms       store.RoomStore
	users       store.UserStore
	tx          store.TransactionRunner
	bus         store.PubSubBus
	outbox      *outbox.Writer
	logger      *logging.Logger

	wsSessionTTL time.Duration
}

// New builds a Service.
func New(
	wsSessions store.WSSessionStore,
	presence store.PresenceStore,
	memberships store.MembershipStore,
	rooms store.RoomStore,
	users store.UserStore,
	tx store.TransactionRunner,
	bus store.PubSubBus,
	outboxStore store.OutboxStore,
	logger *logging.Logger,
	wsSessionTTL time.Duration,
) *Service {
	return &Service{
		wsSessions:   wsSessions,
		presence:     presence,
		memberships:  memberships,
		rooms:        rooms,
		users:        users,
		tx:           tx,
		bus:          bus,
		outbox:       outbox.New(outboxStore),
		logger:       logger,
		wsSessionTTL: wsSessionTTL,
	}
}

// ConnectToRoom persists a new WSSession and returns the pub/sub
// channel list the connection's outbound loop must subscribe to:
// {ws:user:{id}} union {ws:room:{r} for every room the user belongs to}.
func (s *Service) ConnectToRoom(ctx context.Context, sess *models.WSSession) ([]string, error) {
	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.wsSessions.Create(ctx, sess, s.wsSessionTTL); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsUserConnected, sess.UserID, sess.RoomID,
			map[string]string{"ws_session_id": sess.ID.String()},
			outbox.DedupKey("user_connected", sess.ID.String()))
	})
	if err != nil {
		return nil, err
	}

	if err := s.presence.AddUserToRoom(ctx, sess.RoomID, sess.UserID, s.wsSessionTTL); err != nil {
		s.logger.Error(ctx, "failed to add presence on connect: %v", err)
	}

	rooms, err := s.rooms.ListByUser(ctx, sess.UserID)
	if err != nil {
		s.logger.Error(ctx, "failed to list user rooms for channel set: %v", err)
		rooms = nil
	}

	channels := make([]string, 0, len(rooms)+1)
	channels = append(channels, fmt.Sprintf("ws:user:%s", sess.UserID))
	seen := map[uuid.UUID]bool{sess.RoomID: true}
	channels = append(channels, fmt.Sprintf("ws:room:%s", sess.RoomID))
	for _, r := range rooms {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		channels = append(channels, fmt.Sprintf("ws:room:%s", r.ID))
	}

	s.broadcastRoom(ctx, sess.RoomID, models.EventRoomUserOnline, models.EventPayload{
		UserID:    sess.UserID,
		Username:  user.Username,
		Timestamp: time.Now().UTC(),
	})

	return channels, nil
}

// DisconnectFromRoom tears down a WSSession. actorUser must own it.
func (s *Service) DisconnectFromRoom(ctx context.Context, sessionID, actorUser uuid.UUID) error {
	sess, err := s.wsSessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return errs.NotFound(errs.SubjectWSSession, "ws session not found")
	}
	if sess.UserID != actorUser {
		return errs.Permission(errs.SubjectWSSession, "session belongs to a different user")
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.wsSessions.Delete(ctx, sessionID); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsUserDisconnected, sess.UserID, sess.RoomID,
			map[string]string{"ws_session_id": sessionID.String()},
			outbox.DedupKey("user_disconnected", sessionID.String()))
	})
	if err != nil {
		return err
	}

	if err := s.presence.RemoveUserFromRoom(ctx, sess.RoomID, sess.UserID); err != nil {
		s.logger.Error(ctx, "failed to remove presence on disconnect: %v", err)
	}

	s.broadcastRoom(ctx, sess.RoomID, models.EventRoomUserOffline, models.EventPayload{
		UserID:    sess.UserID,
		Timestamp: time.Now().UTC(),
	})

	return nil
}

// UpdatePing refreshes a WSSession's last_ping_at and the owning
// user's last_active. actor must own the session.
func (s *Service) UpdatePing(ctx context.Context, sessionID, actor uuid.UUID) error {
	sess, err := s.wsSessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return errs.NotFound(errs.SubjectWSSession, "ws session not found")
	}
	if sess.UserID != actor {
		return errs.Permission(errs.SubjectWSSession, "session belongs to a different user")
	}

	now := time.Now().UTC()
	return s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.wsSessions.UpdatePing(ctx, sessionID, now, s.wsSessionTTL); err != nil {
			return err
		}
		user, err := s.users.GetByID(ctx, actor)
		if err != nil {
			return err
		}
		user.LastActive = now
		user.UpdatedAt = now
		return s.users.Update(ctx, user)
	})
}

// TypingIndicator broadcasts USER_TYPING. username must match the
// caller's own record.
func (s *Service) TypingIndicator(ctx context.Context, roomID, userID uuid.UUID, username string, isTyping bool) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Username != username {
		return errs.Permission(errs.SubjectWSSession, "username does not match caller")
	}

	s.broadcastRoom(ctx, roomID, models.EventUserTyping, models.EventPayload{
		UserID:    userID,
		Username:  username,
		Timestamp: time.Now().UTC(),
		IsTyping:  &isTyping,
	})
	return nil
}

// ActiveUsersInRoom returns the room's presence set. userID must be a
// member of roomID.
func (s *Service) ActiveUsersInRoom(ctx context.Context, roomID, userID uuid.UUID) ([]uuid.UUID, error) {
	member, err := s.memberships.Exists(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, errs.Permission(errs.SubjectRoom, "user is not a member of this room")
	}
	return s.presence.RoomUsers(ctx, roomID)
}

// DisconnectUserFromRoom force-disconnects targetUser's WS-sessions
// for roomID. by must be the room's owner.
func (s *Service) DisconnectUserFromRoom(ctx context.Context, targetUser, roomID, by uuid.UUID) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != by {
		return errs.Permission(errs.SubjectRoom, "only the room's owner may force-disconnect a user")
	}

	sessions, err := s.wsSessions.ListForUserInRoom(ctx, targetUser, roomID)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		err := s.tx.Run(ctx, func(ctx context.Context) error {
			if err := s.wsSessions.Delete(ctx, sess.ID); err != nil {
				return err
			}
			return s.outbox.Analytics(ctx, models.AnalyticsUserForcedDisconnect, targetUser, roomID,
				map[string]string{"ws_session_id": sess.ID.String()},
				outbox.DedupKey("user_forced_disconnect", sess.ID.String()))
		})
		if err != nil {
			s.logger.Error(ctx, "failed to force-disconnect ws session %s: %v", sess.ID, err)
			continue
		}
	}

	if err := s.presence.RemoveUserFromRoom(ctx, roomID, targetUser); err != nil {
		s.logger.Error(ctx, "failed to remove presence on forced disconnect: %v", err)
	}

	return nil
}

func (s *Service) broadcastRoom(ctx context.Context, roomID uuid.UUID, eventType models.BroadcastEventType, payload models.EventPayload) {
	event := models.BroadcastEvent{EventType: eventType, RoomID: roomID, Payload: payload}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error(ctx, "failed to marshal broadcast event: %v", err)
		return
	}
	channel := fmt.Sprintf("ws:room:%s", roomID)
	if err := s.bus.Publish(ctx, channel, data); err != nil {
		s.logger.Error(ctx, "failed to publish broadcast event: %v", err)
	}
}
