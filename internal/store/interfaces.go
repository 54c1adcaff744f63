// Package store defines the narrow, per-aggregate storage interfaces
// that services depend on. Each interface is small enough that a
// service's tests can be written against an in-memory fake instead of
// live infrastructure, the same shape as the narrow
// SyncEngineService/MessageWriterService interfaces a WebSocket
// connection manager depends on rather than a concrete client.
package store

import (
	"context"
	"time"

	"github.com/chatforge/realtime/internal/models"
	"github.com/google/uuid"
)

// TransactionRunner executes fn under ACID (or best-available)
// semantics across same-store writes. fn receives a context carrying
// the active transaction/session handle; every store call made with
// that context participates in the transaction. On normal return the
// transaction commits; on error it aborts and the error propagates.
//
// Stores that do not honor the handle in ctx (pub/sub, caches,
// cross-store writes like the analytics sink) are not rolled back by
// this mechanism — callers must treat them as at-least-once or
// reconcilable via the repair job, never as transactional.
type TransactionRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserStore persists User aggregates.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// GetByIDs resolves a set of unique user ids in a single batch
	// lookup. Users that no longer exist are simply absent from the
	// result map rather than causing an error.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RoomStore persists Room aggregates and their participant counters.
type RoomStore interface {
	Create(ctx context.Context, r *models.Room) error
	Get(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	Update(ctx context.Context, r *models.Room) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error)
	ListTopPublic(ctx context.Context, limit int) ([]*models.Room, error)
	Search(ctx context.Context, query string, limit int) ([]*models.Room, error)
	IncrementParticipants(ctx context.Context, roomID uuid.UUID) error
	DecrementParticipants(ctx context.Context, roomID uuid.UUID) error
}

// MembershipStore persists RoomMembership rows.
type MembershipStore interface {
	Exists(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	Save(ctx context.Context, m *models.RoomMembership) error
	Delete(ctx context.Context, roomID, userID uuid.UUID) error
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMembership, error)
}

// JoinRequestStore persists JoinRequest aggregates.
type JoinRequestStore interface {
	Save(ctx context.Context, jr *models.JoinRequest) error
	Get(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error)
	Update(ctx context.Context, jr *models.JoinRequest) error
	ExistsPending(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.JoinRequest, error)
}

// NotificationStore persists Notification aggregates.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	Get(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
}

// MessageStore persists Message aggregates under the four access
// paths described in the data model: by room, by user, by id, and a
// bounded global-recent feed used only by the repair job.
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	Update(ctx context.Context, m *models.Message) error
	Delete(ctx context.Context, id uuid.UUID, roomID, userID uuid.UUID, createdAt time.Time) error
	ListByRoom(ctx context.Context, roomID uuid.UUID, limit int, before *time.Time) ([]*models.Message, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error)
	// ListGlobalRecent pages the global-recent feed using a stable
	// (created_at, id) keyset cursor, strictly older than cursor when
	// cursor is non-nil.
	ListGlobalRecent(ctx context.Context, limit int, cursor *GlobalCursor, windowStart time.Time) ([]*models.Message, error)
}

// GlobalCursor is the keyset cursor used to page the global-recent
// message feed.
type GlobalCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// OutboxStore persists OutboxEntry aggregates and implements the
// worker/repair job's claim, completion, and dedup-key contracts.
type OutboxStore interface {
	// Insert performs an insert-if-absent on dedup_key; returns
	// (inserted=false, nil) when an entry with the same key already
	// exists, making re-enqueue of the same logical event a no-op.
	Insert(ctx context.Context, e *models.OutboxEntry) (inserted bool, err error)
	// ClaimPending atomically transitions up to limit PENDING entries
	// (oldest created_at first) to IN_PROGRESS with the given lease
	// horizon and returns them.
	ClaimPending(ctx context.Context, limit int, leaseUntil time.Time) ([]*models.OutboxEntry, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	MarkRetry(ctx context.Context, id uuid.UUID, retries int, lastError string) error
	// ReclaimExpiredLeases resets any IN_PROGRESS entry whose lease has
	// passed back to PENDING, so it becomes claimable again.
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error)
	// ExistsByDedupKeys returns the subset of keys that already have an
	// outbox entry.
	ExistsByDedupKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// UserSessionStore persists the cookie-bound UserSession with a
// sliding TTL.
type UserSessionStore interface {
	Create(ctx context.Context, s *models.UserSession, ttl time.Duration) error
	// Get returns the session, refreshing its TTL (and the user's
	// session-index TTL) to ttl when the remaining TTL is below
	// refreshThreshold. Returns (nil, nil) if absent.
	Get(ctx context.Context, id uuid.UUID, ttl, refreshThreshold time.Duration) (*models.UserSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// WSSessionStore persists WSSession connections.
type WSSessionStore interface {
	Create(ctx context.Context, s *models.WSSession, ttl time.Duration) error
	Get(ctx context.Context, id uuid.UUID) (*models.WSSession, error)
	UpdatePing(ctx context.Context, id uuid.UUID, at time.Time, ttl time.Duration) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.WSSession, error)
	// ListForUserInRoom returns the sessions of userID connected to
	// roomID, used for forced-disconnect.
	ListForUserInRoom(ctx context.Context, userID, roomID uuid.UUID) ([]*models.WSSession, error)
}

// PresenceStore maintains the room/user presence G-Sets.
type PresenceStore interface {
	AddUserToRoom(ctx context.Context, roomID, userID uuid.UUID, ttl time.Duration) error
	RemoveUserFromRoom(ctx context.Context, roomID, userID uuid.UUID) error
	RoomUsers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	UserRooms(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Message is a single item delivered from a PubSubBus subscription.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live pub/sub subscription handle.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// PubSubBus publishes and subscribes to the room/user channels that
// carry live broadcast events.
type PubSubBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// AnalyticsSink appends AnalyticsEvent rows to the append-only
// analytics store.
type AnalyticsSink interface {
	Append(ctx context.Context, e *models.AnalyticsEvent) error
}

// DistributedLock gates singleton-per-cluster background jobs.
type DistributedLock interface {
	// TryAcquire attempts a non-blocking acquisition of key with the
	// given lease. It returns (false, nil) if already held by someone
	// else, never blocking.
	TryAcquire(ctx context.Context, key string, lease time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}
