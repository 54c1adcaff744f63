// Package outbox canonicalizes analytics and notification payloads
// into store.OutboxEntry rows with a deterministic dedup key, and
// inserts them through the OutboxStore's insert-if-absent contract.
package outbox

import (
	"context"
	"fmt"

	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
)

// Writer builds and inserts outbox entries within a transaction.
type Writer struct {
	store store.OutboxStore
}

// New returns a Writer backed by the given OutboxStore.
func New(s store.OutboxStore) *Writer {
	return &Writer{store: s}
}

// Analytics enqueues an ANALYTICS outbox entry. dedupKey must uniquely
// identify the logical event; re-issuing the same dedupKey is a no-op.
func (w *Writer) Analytics(ctx context.Context, eventType models.AnalyticsEventType, userID, roomID uuid.UUID, payload map[string]string, dedupKey string) error {
	entry := &models.OutboxEntry{
		ID:       uuid.New(),
		Type:     models.OutboxTypeAnalytics,
		Status:   models.OutboxPending,
		DedupKey: dedupKey,
		Payload: map[string]interface{}{
			"event_type": string(eventType),
			"user_id":    userID.String(),
			"room_id":    roomID.String(),
			"payload":    payload,
		},
		MaxRetries: 5,
	}
	_, err := w.store.Insert(ctx, entry)
	return err
}

// Notification enqueues a NOTIFICATION outbox entry addressed to
// userID, with sourceID identifying the actor that caused it.
func (w *Writer) Notification(ctx context.Context, notifType models.NotificationType, userID, sourceID uuid.UUID, payload map[string]string, dedupKey string) error {
	entry := &models.OutboxEntry{
		ID:       uuid.New(),
		Type:     models.OutboxTypeNotification,
		Status:   models.OutboxPending,
		DedupKey: dedupKey,
		Payload: map[string]interface{}{
			"notification_type": string(notifType),
			"user_id":           userID.String(),
			"source_id":         sourceID.String(),
			"payload":            payload,
		},
		MaxRetries: 5,
	}
	_, err := w.store.Insert(ctx, entry)
	return err
}

// DedupKey builds a canonical dedup key out of ordered components.
func DedupKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// NanoTimestamp formats a UnixNano timestamp the way dedup keys that
// must distinguish repeated operations on the same id embed time
// (e.g. room_update:{id}:{updated_at_ns}).
func NanoTimestamp(unixNano int64) string {
	return fmt.Sprintf("%d", unixNano)
}
