// Package notifyservice implements the user-facing notification
// inbox (list, mark-read, mark-all-read, count, delete) materialized
// by the outbox worker from NOTIFICATION outbox entries.
package notifyservice

import (
	"context"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
)

// Service implements the notification inbox's read-side and
// acknowledgement operations.
type Service struct {
	notifs store.NotificationStore
}

// New builds a Service.
func New(notifs store.NotificationStore) *Service {
	return &Service{notifs: notifs}
}

// List returns up to limit notifications for userID, most recent first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	return s.notifs.ListByUser(ctx, userID, limit)
}

// MarkRead marks a single notification read. Idempotent: marking an
// already-read notification read again succeeds.
func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	n, err := s.notifs.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return errs.Permission(errs.SubjectNotification, "notification does not belong to this user")
	}
	return s.notifs.MarkRead(ctx, id)
}

// MarkAllRead marks every notification for userID read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return s.notifs.MarkAllRead(ctx, userID)
}

// CountUnread returns the number of unread notifications for userID.
func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.notifs.CountUnread(ctx, userID)
}

// Delete removes a single notification. Only its owner may delete it.
func (s *Service) Delete(ctx context.Context, id, userID uuid.UUID) error {
	n, err := s.notifs.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return errs.Permission(errs.SubjectNotification, "notification does not belong to this user")
	}
	return s.notifs.Delete(ctx, id)
}
