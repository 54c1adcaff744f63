// Package messageservice implements message send/edit/delete and
// recent-history retrieval across the four-access-path message store
// (spec §4.4).
package messageservice

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

const (
	minRecentLimit = 1
	maxRecentLimit = 200
)

// Service implements message send/edit/delete/history.
type Service struct {
	messages    store.MessageStore
	memberships store.MembershipStore
	users       store.UserStore
	tx          store.TransactionRunner
	bus         store.PubSubBus
	outbox      *outbox.Writer
	logger      *logging.Logger
}

// New builds a Service.
func New(
	messages store.MessageStore,
	memberships store.MembershipStore,
	users store.UserStore,
	tx store.TransactionRunner,
	bus store.PubSubBus,
	outboxStore store.OutboxStore,
	logger *logging.Logger,
) *Service {
	return &Service{
		messages:    messages,
		memberships: memberships,
		users:       users,
		tx:          tx,
		bus:         bus,
		outbox:      outbox.New(outboxStore),
		logger:      logger,
	}
}

// Send persists a new Message across all four access paths and
// broadcasts MESSAGE_CREATED to the room's channel. userID must be a
// member of roomID.
func (s *Service) Send(ctx context.Context, roomID, userID uuid.UUID, content string) (*models.Message, error) {
	user, err := s.requireMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.messages.Create(ctx, msg); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsMessageSent, userID, roomID,
			map[string]string{"message_id": msg.ID.String()},
			outbox.DedupKey("message_sent", msg.ID.String()))
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(ctx, models.EventMessageCreated, roomID, models.EventPayload{
		UserID:    userID,
		Username:  user.Username,
		Content:   content,
		Timestamp: now,
	})

	return msg, nil
}

// Edit updates an existing message's content. Only the author may edit.
func (s *Service) Edit(ctx context.Context, messageID, userID uuid.UUID, newContent string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.UserID != userID {
		return nil, errs.Permission(errs.SubjectMessage, "only the author may edit this message")
	}

	now := time.Now().UTC()
	msg.Content = newContent
	msg.Edited = true
	msg.UpdatedAt = now

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.messages.Update(ctx, msg); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsMessageEdited, userID, msg.RoomID,
			map[string]string{"message_id": msg.ID.String()},
			outbox.DedupKey("message_edited", msg.ID.String()))
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(ctx, models.EventMessageEdited, msg.RoomID, models.EventPayload{
		UserID:    userID,
		Content:   newContent,
		Timestamp: now,
	})

	return msg, nil
}

// Delete removes a message from all four access paths. Only the
// author may delete.
func (s *Service) Delete(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.UserID != userID {
		return errs.Permission(errs.SubjectMessage, "only the author may delete this message")
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.messages.Delete(ctx, msg.ID, msg.RoomID, msg.UserID, msg.CreatedAt); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsMessageDeleted, userID, msg.RoomID,
			map[string]string{"message_id": msg.ID.String()},
			outbox.DedupKey("message_deleted", msg.ID.String()))
	})
	if err != nil {
		return err
	}

	s.broadcast(ctx, models.EventMessageDeleted, msg.RoomID, models.EventPayload{
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Extra:     map[string]interface{}{"message_id": msg.ID.String()},
	})

	return nil
}

// RecentMessage pairs a stored Message with its author's username,
// resolved by a single batch lookup.
type RecentMessage struct {
	Message  *models.Message
	Username string
}

// GetRecent returns the most recent limit messages in roomID, older
// than before when set. limit is clamped to [1, 200]. userID must be a
// member of roomID.
func (s *Service) GetRecent(ctx context.Context, roomID, userID uuid.UUID, limit int, before *time.Time) ([]RecentMessage, error) {
	if _, err := s.requireMember(ctx, roomID, userID); err != nil {
		return nil, err
	}

	if limit < minRecentLimit {
		limit = minRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	msgs, err := s.messages.ListByRoom(ctx, roomID, limit, before)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(msgs))
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		ids = append(ids, m.UserID)
	}

	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	usernames := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			usernames[id] = u.Username
		}
	}

	out := make([]RecentMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, RecentMessage{Message: m, Username: usernames[m.UserID]})
	}
	return out, nil
}

func (s *Service) requireMember(ctx context.Context, roomID, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	member, err := s.memberships.Exists(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, errs.Permission(errs.SubjectMessage, "user is not a member of this room")
	}
	return user, nil
}

// broadcast is best-effort and runs outside the domain transaction:
// the outbox already guarantees the durable record, so a lost
// broadcast only delays live delivery, it never loses the message.
func (s *Service) broadcast(ctx context.Context, eventType models.BroadcastEventType, roomID uuid.UUID, payload models.EventPayload) {
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
