// Package roomservice implements room lifecycle, membership, and the
// private-room join-request flow (spec §4.3).
package roomservice

import (
	"context"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/outbox"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
)

// Service implements room creation, update, membership, and
// join-request handling.
type Service struct {
	rooms        store.RoomStore
	memberships  store.MembershipStore
	joinRequests store.JoinRequestStore
	users        store.UserStore
	tx           store.TransactionRunner
	outbox       *outbox.Writer
	logger       *logging.Logger
}

// New builds a Service.
func New(
	rooms store.RoomStore,
	memberships store.MembershipStore,
	joinRequests store.JoinRequestStore,
	users store.UserStore,
	tx store.TransactionRunner,
	outboxStore store.OutboxStore,
	logger *logging.Logger,
) *Service {
	return &Service{
		rooms:        rooms,
		memberships:  memberships,
		joinRequests: joinRequests,
		users:        users,
		tx:           tx,
		outbox:       outbox.New(outboxStore),
		logger:       logger,
	}
}

// Create makes a new Room and installs its author as OWNER.
func (s *Service) Create(ctx context.Context, name, description string, isPublic bool, authorID uuid.UUID) (*models.Room, error) {
	if _, err := s.users.GetByID(ctx, authorID); err != nil {
		return nil, err
	}

	exists, err := s.rooms.ExistsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.Conflict(errs.SubjectRoom, "room already exists")
	}

	now := time.Now().UTC()
	room := &models.Room{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		IsPublic:    isPublic,
		CreatedBy:   authorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.rooms.Create(ctx, room); err != nil {
			return err
		}
		if err := s.addParticipant(ctx, room.ID, authorID, models.RoomRoleOwner); err != nil {
			return err
		}
		room.ParticipantsCount = 1
		return s.outbox.Analytics(ctx, models.AnalyticsRoomCreated, authorID, room.ID,
			map[string]string{"name": name}, outbox.DedupKey("room_created", room.ID.String()))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "room created room_id=%s", room.ID)
	return room, nil
}

// Update changes description and/or is_public, failing with
// NoChangesDetected (a Conflict) if nothing actually differs.
func (s *Service) Update(ctx context.Context, roomID uuid.UUID, description *string, isPublic *bool) (*models.Room, error) {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	changed := false
	if description != nil && *description != room.Description {
		room.Description = *description
		changed = true
	}
	if isPublic != nil && *isPublic != room.IsPublic {
		room.IsPublic = *isPublic
		changed = true
	}
	if !changed {
		return nil, errs.Conflict(errs.SubjectRoom, "no changes detected")
	}

	now := time.Now().UTC()
	room.UpdatedAt = now

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.rooms.Update(ctx, room); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsRoomUpdated, room.CreatedBy, room.ID, nil,
			outbox.DedupKey("room_update", room.ID.String(), outbox.NanoTimestamp(now.UnixNano())))
	})
	if err != nil {
		return nil, err
	}

	return room, nil
}

// Delete removes a room and records its ROOM_DELETED analytics entry.
// Only the room's creator may delete it: for any other by it returns a
// Permission error and changes nothing.
func (s *Service) Delete(ctx context.Context, roomID uuid.UUID, by uuid.UUID) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != by {
		return errs.Permission(errs.SubjectRoom, "only the room's creator may delete it")
	}

	return s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.rooms.Delete(ctx, roomID); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsRoomDeleted, by, roomID, nil,
			outbox.DedupKey("room_deleted", roomID.String()))
	})
}

// RequestJoin joins a public room immediately, or files a JoinRequest
// against a private one.
func (s *Service) RequestJoin(ctx context.Context, roomID, userID uuid.UUID) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}

	if room.IsPublic {
		return s.tx.Run(ctx, func(ctx context.Context) error {
			if err := s.addParticipant(ctx, roomID, userID, models.RoomRoleMember); err != nil {
				return err
			}
			return s.outbox.Analytics(ctx, models.AnalyticsUserJoinedRoom, userID, roomID, nil,
				outbox.DedupKey("user_join", roomID.String(), userID.String()))
		})
	}

	pending, err := s.joinRequests.ExistsPending(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if pending {
		return errs.Conflict(errs.SubjectJoinRequest, "a join request is already pending")
	}

	now := time.Now().UTC()
	jr := &models.JoinRequest{
		ID:        uuid.New(),
		RoomID:    roomID,
		UserID:    userID,
		Status:    models.JoinRequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.joinRequests.Save(ctx, jr); err != nil {
			return err
		}
		if err := s.outbox.Notification(ctx, models.NotificationJoinRequestCreated, room.CreatedBy, userID,
			map[string]string{"room_id": roomID.String()},
			outbox.DedupKey("join_request_notify", jr.ID.String())); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsJoinRequestCreated, userID, roomID, nil,
			outbox.DedupKey("join_request_created", jr.ID.String()))
	})
}

// HandleJoinRequest accepts or rejects a pending JoinRequest. by must
// be the room's owner.
func (s *Service) HandleJoinRequest(ctx context.Context, requestID uuid.UUID, accept bool, by uuid.UUID) error {
	jr, err := s.joinRequests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	room, err := s.rooms.Get(ctx, jr.RoomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != by {
		return errs.Permission(errs.SubjectJoinRequest, "only the room's owner may decide a join request")
	}

	now := time.Now().UTC()
	jr.HandledBy = by
	jr.UpdatedAt = now

	var (
		notifType    models.NotificationType
		analyticsTyp models.AnalyticsEventType
	)
	if accept {
		jr.Status = models.JoinRequestAccepted
		notifType = models.NotificationJoinRequestAccepted
		analyticsTyp = models.AnalyticsJoinRequestAccepted
	} else {
		jr.Status = models.JoinRequestRejected
		notifType = models.NotificationJoinRequestRejected
		analyticsTyp = models.AnalyticsJoinRequestRejected
	}

	return s.tx.Run(ctx, func(ctx context.Context) error {
		if accept {
			if err := s.addParticipant(ctx, jr.RoomID, jr.UserID, models.RoomRoleMember); err != nil {
				return err
			}
		}
		if err := s.joinRequests.Update(ctx, jr); err != nil {
			return err
		}
		if err := s.outbox.Notification(ctx, notifType, jr.UserID, by,
			map[string]string{"room_id": jr.RoomID.String()},
			outbox.DedupKey("join_request_decision", jr.ID.String())); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, analyticsTyp, jr.UserID, jr.RoomID, nil,
			outbox.DedupKey("join_request_decided", jr.ID.String()))
	})
}

// RemoveParticipant removes userID from roomID. Removing the room's
// creator deletes the room entirely (cascade-owner policy); otherwise
// the membership is dropped and participants_count decremented with a
// floor of 0.
func (s *Service) RemoveParticipant(ctx context.Context, roomID, userID, by uuid.UUID) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}

	if userID == room.CreatedBy {
		return s.tx.Run(ctx, func(ctx context.Context) error {
			if err := s.rooms.Delete(ctx, roomID); err != nil {
				return err
			}
			return s.outbox.Analytics(ctx, models.AnalyticsRoomDeleted, by, roomID, nil,
				outbox.DedupKey("room_deleted", roomID.String()))
		})
	}

	return s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.memberships.Delete(ctx, roomID, userID); err != nil {
			return err
		}
		if err := s.rooms.DecrementParticipants(ctx, roomID); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsUserLeftRoom, userID, roomID, nil,
			outbox.DedupKey("user_left", roomID.String(), userID.String()))
	})
}

// ListForUser returns the rooms userID is a member of.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	return s.rooms.ListByUser(ctx, userID)
}

// ListTopPublic returns up to limit public rooms.
func (s *Service) ListTopPublic(ctx context.Context, limit int) ([]*models.Room, error) {
	return s.rooms.ListTopPublic(ctx, limit)
}

// Search finds public rooms by name/description substring.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*models.Room, error) {
	return s.rooms.Search(ctx, query, limit)
}

// ListJoinRequests returns every JoinRequest filed against roomID, for
// the room owner's admin view. Supplemented from the original
// service's list_join_requests (not named in the distilled spec, kept
// since the join-request module already names the lifecycle this
// reads).
func (s *Service) ListJoinRequests(ctx context.Context, roomID, by uuid.UUID) ([]*models.JoinRequest, error) {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if by != room.CreatedBy {
		return nil, errs.Permission(errs.SubjectJoinRequest, "only the room owner may list join requests")
	}
	return s.joinRequests.ListByRoom(ctx, roomID)
}

// addParticipant is idempotent: membership is created and the
// participant counter incremented only if the (room, user) pair is
// not already a member.
func (s *Service) addParticipant(ctx context.Context, roomID, userID uuid.UUID, role models.RoomRole) error {
	exists, err := s.memberships.Exists(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	m := &models.RoomMembership{RoomID: roomID, UserID: userID, Role: role, JoinedAt: time.Now().UTC()}
	if err := s.memberships.Save(ctx, m); err != nil {
		return err
	}
	return s.rooms.IncrementParticipants(ctx, roomID)
}
