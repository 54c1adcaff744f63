package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/outbox"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
)

const outboxRepairLockKey = "outbox_repair_lock"

// candidateEvent pairs an analytics event type with the dedup-key
// component used when the corresponding service action enqueued it.
var candidateEvents = []struct {
	eventType models.AnalyticsEventType
	keyPrefix string
}{
	{models.AnalyticsMessageSent, "message_sent"},
	{models.AnalyticsMessageEdited, "message_edited"},
	{models.AnalyticsMessageDeleted, "message_deleted"},
}

// RepairJob reconciles the global-recent message feed against the
// outbox: any message in the reconciliation window missing its
// expected MESSAGE_SENT/EDITED/DELETED analytics entry gets one
// re-inserted, idempotently, via the dedup unique index.
type RepairJob struct {
	messages store.MessageStore
	outbox   store.OutboxStore
	lock     store.DistributedLock
	logger   *logging.Logger

	lockTTL         time.Duration
	window          time.Duration
	batchSize       int
	interBatchDelay time.Duration
}

// NewRepairJob builds a RepairJob.
func NewRepairJob(
	messages store.MessageStore,
	outboxStore store.OutboxStore,
	lock store.DistributedLock,
	logger *logging.Logger,
	lockTTL, window time.Duration,
	batchSize int,
	interBatchDelay time.Duration,
) *RepairJob {
	return &RepairJob{
		messages:        messages,
		outbox:          outboxStore,
		lock:            lock,
		logger:          logger,
		lockTTL:         lockTTL,
		window:          window,
		batchSize:       batchSize,
		interBatchDelay: interBatchDelay,
	}
}

// RunOnce performs a single reconciliation sweep over the window. If
// the cluster lock is held elsewhere it returns immediately.
func (j *RepairJob) RunOnce(ctx context.Context) error {
	acquired, err := j.lock.TryAcquire(ctx, outboxRepairLockKey, j.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire outbox repair lock: %w", err)
	}
	if !acquired {
		j.logger.Debug(ctx, "outbox repair lock held elsewhere, skipping run")
		return nil
	}
	defer func() {
		if err := j.lock.Release(ctx, outboxRepairLockKey); err != nil {
			j.logger.Error(ctx, "failed to release outbox repair lock: %v", err)
		}
	}()

	windowStart := time.Now().UTC().Add(-j.window)
	var cursor *store.GlobalCursor
	reinserted := 0

	for {
		batch, err := j.messages.ListGlobalRecent(ctx, j.batchSize, cursor, windowStart)
		if err != nil {
			return fmt.Errorf("failed to list global-recent messages: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		n, err := j.reconcileBatch(ctx, batch)
		if err != nil {
			j.logger.Error(ctx, "failed to reconcile outbox batch: %v", err)
		} else {
			reinserted += n
		}

		last := batch[len(batch)-1]
		cursor = &store.GlobalCursor{CreatedAt: last.CreatedAt, ID: last.ID}

		if len(batch) < j.batchSize {
			break
		}

		select {
		case <-time.After(j.interBatchDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if reinserted > 0 {
		j.logger.Info(ctx, "outbox repair re-inserted %d missing analytics entries", reinserted)
	}
	return nil
}

func (j *RepairJob) reconcileBatch(ctx context.Context, batch []*models.Message) (int, error) {
	keys := make([]string, 0, len(batch)*len(candidateEvents))
	for _, m := range batch {
		for _, c := range candidateEvents {
			keys = append(keys, outbox.DedupKey(c.keyPrefix, m.ID.String()))
		}
	}

	existing, err := j.outbox.ExistsByDedupKeys(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing dedup keys: %w", err)
	}

	reinserted := 0
	for _, m := range batch {
		for _, c := range candidateEvents {
			key := outbox.DedupKey(c.keyPrefix, m.ID.String())
			if existing[key] {
				continue
			}
			entry := &models.OutboxEntry{
				ID:       uuid.New(),
				Type:     models.OutboxTypeAnalytics,
				Status:   models.OutboxPending,
				DedupKey: key,
				Payload: map[string]interface{}{
					"event_type": string(c.eventType),
					"user_id":    m.UserID.String(),
					"room_id":    m.RoomID.String(),
					"payload":    map[string]string{"message_id": m.ID.String()},
				},
				MaxRetries: 5,
				CreatedAt:  time.Now().UTC(),
			}
			inserted, err := j.outbox.Insert(ctx, entry)
			if err != nil {
				j.logger.Error(ctx, "failed to insert repaired outbox entry for key %s: %v", key, err)
				continue
			}
			if inserted {
				reinserted++
			}
		}
	}
	return reinserted, nil
}
