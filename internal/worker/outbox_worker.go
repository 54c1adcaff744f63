// Package worker implements the two singleton-per-cluster background
// jobs that drain and repair the transactional outbox (spec §4.6,
// §4.7), each gated by a non-blocking distributed lock so only one
// node in the cluster runs a given job at a time.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
)

const outboxWorkerLockKey = "outbox_worker_lock"

// NotificationSender delivers a materialized Notification over the
// live pub/sub bus, addressed to its owner's notification channel.
type NotificationSender interface {
	Send(ctx context.Context, n *models.Notification) error
}

// OutboxWorker drains PENDING outbox entries: NOTIFICATION entries are
// materialized and persisted, ANALYTICS entries are appended to the
// analytics sink.
type OutboxWorker struct {
	outbox      store.OutboxStore
	notifs      store.NotificationStore
	analytics   store.AnalyticsSink
	notifySend  NotificationSender
	lock        store.DistributedLock
	logger      *logging.Logger

	lockTTL           time.Duration
	batchSize         int
	maxRetries        int
	defaultRetryDelay time.Duration
}

// NewOutboxWorker builds an OutboxWorker.
func NewOutboxWorker(
	outbox store.OutboxStore,
	notifs store.NotificationStore,
	analytics store.AnalyticsSink,
	notifySend NotificationSender,
	lock store.DistributedLock,
	logger *logging.Logger,
	lockTTL time.Duration,
	batchSize, maxRetries int,
	defaultRetryDelay time.Duration,
) *OutboxWorker {
	return &OutboxWorker{
		outbox:            outbox,
		notifs:            notifs,
		analytics:         analytics,
		notifySend:        notifySend,
		lock:              lock,
		logger:            logger,
		lockTTL:           lockTTL,
		batchSize:         batchSize,
		maxRetries:        maxRetries,
		defaultRetryDelay: defaultRetryDelay,
	}
}

// RunOnce performs a single drain cycle. If the cluster lock is
// already held elsewhere, it returns immediately without error: the
// scheduler will try again on the next tick.
func (w *OutboxWorker) RunOnce(ctx context.Context) error {
	acquired, err := w.lock.TryAcquire(ctx, outboxWorkerLockKey, w.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire outbox worker lock: %w", err)
	}
	if !acquired {
		w.logger.Debug(ctx, "outbox worker lock held elsewhere, skipping run")
		return nil
	}
	defer func() {
		if err := w.lock.Release(ctx, outboxWorkerLockKey); err != nil {
			w.logger.Error(ctx, "failed to release outbox worker lock: %v", err)
		}
	}()

	now := time.Now().UTC()
	if n, err := w.outbox.ReclaimExpiredLeases(ctx, now); err != nil {
		w.logger.Error(ctx, "failed to reclaim expired outbox leases: %v", err)
	} else if n > 0 {
		w.logger.Info(ctx, "reclaimed %d expired outbox leases", n)
	}

	leaseUntil := now.Add(w.lockTTL)
	entries, err := w.outbox.ClaimPending(ctx, w.batchSize, leaseUntil)
	if err != nil {
		return fmt.Errorf("failed to claim pending outbox entries: %w", err)
	}

	for _, entry := range entries {
		w.process(ctx, entry)
	}
	return nil
}

func (w *OutboxWorker) process(ctx context.Context, entry *models.OutboxEntry) {
	var err error
	switch entry.Type {
	case models.OutboxTypeNotification:
		err = w.dispatchNotification(ctx, entry)
	case models.OutboxTypeAnalytics:
		err = w.dispatchAnalytics(ctx, entry)
	default:
		err = fmt.Errorf("unknown outbox entry type: %s", entry.Type)
	}

	if err == nil {
		if err := w.outbox.MarkSent(ctx, entry.ID, time.Now().UTC()); err != nil {
			w.logger.Error(ctx, "failed to mark outbox entry %s sent: %v", entry.ID, err)
		}
		return
	}

	w.logger.Warn(ctx, "outbox entry %s dispatch failed: %v", entry.ID, err)
	maxRetries := entry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = w.maxRetries
	}
	if entry.Retries+1 >= maxRetries {
		if markErr := w.outbox.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			w.logger.Error(ctx, "failed to mark outbox entry %s failed: %v", entry.ID, markErr)
		}
		return
	}
	if markErr := w.outbox.MarkRetry(ctx, entry.ID, entry.Retries+1, err.Error()); markErr != nil {
		w.logger.Error(ctx, "failed to mark outbox entry %s for retry: %v", entry.ID, markErr)
	}
}

func (w *OutboxWorker) dispatchNotification(ctx context.Context, entry *models.OutboxEntry) error {
	notifType, _ := entry.Payload["notification_type"].(string)
	userID, err := parseUUID(entry.Payload["user_id"])
	if err != nil {
		return fmt.Errorf("invalid user_id in notification payload: %w", err)
	}
	sourceID, _ := parseUUID(entry.Payload["source_id"])

	n := &models.Notification{
		ID:        entry.ID,
		UserID:    userID,
		Type:      models.NotificationType(notifType),
		SourceID:  sourceID,
		Payload:   toStringMap(entry.Payload["payload"]),
		CreatedAt: entry.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if err := w.notifs.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}
	if err := w.notifySend.Send(ctx, n); err != nil {
		// Live delivery is best-effort; the durable notification row
		// already exists, so this is logged, not retried.
		w.logger.Warn(ctx, "failed to publish live notification %s: %v", n.ID, err)
	}
	return nil
}

func (w *OutboxWorker) dispatchAnalytics(ctx context.Context, entry *models.OutboxEntry) error {
	eventType, _ := entry.Payload["event_type"].(string)
	userID, _ := parseUUID(entry.Payload["user_id"])
	roomID, _ := parseUUID(entry.Payload["room_id"])

	event := &models.AnalyticsEvent{
		ID:        entry.ID,
		EventType: models.AnalyticsEventType(eventType),
		UserID:    userID,
		RoomID:    roomID,
		Payload:   toStringMap(entry.Payload["payload"]),
		CreatedAt: entry.CreatedAt,
	}
	if err := w.analytics.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to append analytics event: %w", err)
	}
	return nil
}

func parseUUID(v interface{}) (uuid.UUID, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

func toStringMap(v interface{}) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprintf("%v", val)
			}
		}
		return out
	default:
		return nil
	}
}
