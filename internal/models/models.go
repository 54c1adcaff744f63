// Package models holds the domain entities shared by every store
// adapter and service. Persistence tags are added per field rather
// than per adapter, since the same entity crosses more than one
// storage technology (document store, wide-column store, KV cache).
package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomRole is a participant's role within a room.
type RoomRole string

const (
	RoomRoleOwner  RoomRole = "OWNER"
	RoomRoleMember RoomRole = "MEMBER"
)

// JoinRequestStatus is the lifecycle state of a JoinRequest.
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "PENDING"
	JoinRequestAccepted JoinRequestStatus = "ACCEPTED"
	JoinRequestRejected JoinRequestStatus = "REJECTED"
)

// NotificationType enumerates the kinds of Notification a user can receive.
type NotificationType string

const (
	NotificationMessageSent         NotificationType = "MESSAGE_SENT"
	NotificationMention             NotificationType = "MENTION"
	NotificationJoinRequestCreated  NotificationType = "JOIN_REQUEST_CREATED"
	NotificationJoinRequestAccepted NotificationType = "JOIN_REQUEST_ACCEPTED"
	NotificationJoinRequestRejected NotificationType = "JOIN_REQUEST_REJECTED"
	NotificationSystem              NotificationType = "SYSTEM"
)

// OutboxType distinguishes the two effect families drained by the
// outbox worker.
type OutboxType string

const (
	OutboxTypeNotification OutboxType = "NOTIFICATION"
	OutboxTypeAnalytics    OutboxType = "ANALYTICS"
)

// OutboxStatus is the lifecycle state of an OutboxEntry.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxInProgress OutboxStatus = "IN_PROGRESS"
	OutboxSent       OutboxStatus = "SENT"
	OutboxFailed     OutboxStatus = "FAILED"
)

// AnalyticsEventType enumerates the lifecycle events mirrored to the
// analytics sink.
type AnalyticsEventType string

const (
	AnalyticsUserRegistered       AnalyticsEventType = "user_registered"
	AnalyticsUserLoggedIn         AnalyticsEventType = "user_logged_in"
	AnalyticsUserLoggedOut        AnalyticsEventType = "user_logged_out"
	AnalyticsUserDeleted          AnalyticsEventType = "user_deleted"
	AnalyticsRoomCreated          AnalyticsEventType = "room_created"
	AnalyticsRoomUpdated          AnalyticsEventType = "room_updated"
	AnalyticsRoomDeleted          AnalyticsEventType = "room_deleted"
	AnalyticsUserJoinedRoom       AnalyticsEventType = "user_joined_room"
	AnalyticsUserLeftRoom         AnalyticsEventType = "user_left_room"
	AnalyticsJoinRequestCreated   AnalyticsEventType = "join_request_created"
	AnalyticsJoinRequestAccepted  AnalyticsEventType = "join_request_accepted"
	AnalyticsJoinRequestRejected  AnalyticsEventType = "join_request_rejected"
	AnalyticsMessageSent          AnalyticsEventType = "message_sent"
	AnalyticsMessageEdited        AnalyticsEventType = "message_edited"
	AnalyticsMessageDeleted       AnalyticsEventType = "message_deleted"
	AnalyticsUserConnected        AnalyticsEventType = "user_connected"
	AnalyticsUserDisconnected     AnalyticsEventType = "user_disconnected"
	AnalyticsUserForcedDisconnect AnalyticsEventType = "user_forced_disconnect"
)

// BroadcastEventType enumerates the events carried on the pub/sub wire
// format published to room and user channels.
type BroadcastEventType string

const (
	EventMessageCreated  BroadcastEventType = "MESSAGE_CREATED"
	EventMessageEdited   BroadcastEventType = "MESSAGE_EDITED"
	EventMessageDeleted  BroadcastEventType = "MESSAGE_DELETED"
	EventUserTyping      BroadcastEventType = "USER_TYPING"
	EventRoomUserOnline  BroadcastEventType = "ROOM_USER_ONLINE"
	EventRoomUserOffline BroadcastEventType = "ROOM_USER_OFFLINE"
	EventNotification    BroadcastEventType = "NOTIFICATION"
)

// User is a registered chat participant.
type User struct {
	ID           uuid.UUID `bson:"_id" json:"id"`
	Username     string    `bson:"username" json:"username"`
	PasswordHash string    `bson:"password_hash" json:"-"`
	LastActive   time.Time `bson:"last_active" json:"last_active"`
	LastLogin    time.Time `bson:"last_login" json:"last_login"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// Room is a chat room, public or private.
type Room struct {
	ID                uuid.UUID `bson:"_id" json:"id"`
	Name              string    `bson:"name" json:"name"`
	Description       string    `bson:"description" json:"description"`
	IsPublic          bool      `bson:"is_public" json:"is_public"`
	CreatedBy         uuid.UUID `bson:"created_by" json:"created_by"`
	ParticipantsCount int       `bson:"participants_count" json:"participants_count"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}

// RoomMembership is the (room, user) join table row.
type RoomMembership struct {
	RoomID   uuid.UUID `bson:"room_id" json:"room_id"`
	UserID   uuid.UUID `bson:"user_id" json:"user_id"`
	Role     RoomRole  `bson:"role" json:"role"`
	JoinedAt time.Time `bson:"joined_at" json:"joined_at"`
}

// JoinRequest is a pending/decided request to join a private room.
type JoinRequest struct {
	ID        uuid.UUID         `bson:"_id" json:"id"`
	RoomID    uuid.UUID         `bson:"room_id" json:"room_id"`
	UserID    uuid.UUID         `bson:"user_id" json:"user_id"`
	Status    JoinRequestStatus `bson:"status" json:"status"`
	HandledBy uuid.UUID         `bson:"handled_by,omitempty" json:"handled_by,omitempty"`
	Message   string            `bson:"message,omitempty" json:"message,omitempty"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at" json:"updated_at"`
}

// Message is a chat message. It is stored under four access paths by
// the wide-column message store (internal/store/pgmessage): by room
// (paginated history), by user (author index), by id (direct lookup
// for edit/delete), and a bounded global-recent feed.
type Message struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	UserID    uuid.UUID `json:"user_id"`
	Content   string    `json:"content"`
	Edited    bool      `json:"edited"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notification is a user-facing, persisted notification materialized
// by the outbox worker from a NOTIFICATION outbox entry.
type Notification struct {
	ID        uuid.UUID         `bson:"_id" json:"id"`
	UserID    uuid.UUID         `bson:"user_id" json:"user_id"`
	Type      NotificationType  `bson:"type" json:"type"`
	SourceID  uuid.UUID         `bson:"source_id,omitempty" json:"source_id,omitempty"`
	Payload   map[string]string `bson:"payload" json:"payload"`
	Read      bool              `bson:"read" json:"read"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at" json:"updated_at"`
}

// OutboxEntry is a durable, deduplicated side-effect queued in the
// same transaction as the domain mutation that produced it.
type OutboxEntry struct {
	ID              uuid.UUID              `bson:"_id" json:"id"`
	Type            OutboxType             `bson:"type" json:"type"`
	Status          OutboxStatus           `bson:"status" json:"status"`
	Payload         map[string]interface{} `bson:"payload" json:"payload"`
	DedupKey        string                 `bson:"dedup_key" json:"dedup_key"`
	Retries         int                    `bson:"retries" json:"retries"`
	MaxRetries      int                    `bson:"max_retries" json:"max_retries"`
	SentAt          *time.Time             `bson:"sent_at,omitempty" json:"sent_at,omitempty"`
	LastError       string                 `bson:"last_error,omitempty" json:"last_error,omitempty"`
	InProgressUntil *time.Time             `bson:"in_progress_until,omitempty" json:"in_progress_until,omitempty"`
	CreatedAt       time.Time              `bson:"created_at" json:"created_at"`
}

// AnalyticsEvent is an append-only row in the analytics sink.
type AnalyticsEvent struct {
	ID        uuid.UUID          `json:"id"`
	EventType AnalyticsEventType `json:"event_type"`
	UserID    uuid.UUID          `json:"user_id,omitempty"`
	RoomID    uuid.UUID          `json:"room_id,omitempty"`
	Payload   map[string]string  `json:"payload"`
	CreatedAt time.Time          `json:"created_at"`
}

// UserSession is the cookie-bound, KV-stored session created at login.
// It has a sliding TTL: a read that finds less than the refresh
// threshold remaining extends its expiry back to the full TTL.
type UserSession struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// WSSession is a single WebSocket connection, bound to a room, a user,
// and the cookie UserSession that authenticated it.
type WSSession struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	RoomID        uuid.UUID `json:"room_id"`
	UserSessionID uuid.UUID `json:"user_session_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastPingAt    time.Time `json:"last_ping_at"`
	IPAddress     string    `json:"ip_address"`
}

// EventPayload is the wire shape of a broadcast event's payload.
type EventPayload struct {
	UserID    uuid.UUID              `json:"user_id,omitempty"`
	Username  string                 `json:"username,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Content   string                 `json:"content,omitempty"`
	IsTyping  *bool                  `json:"is_typing,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// BroadcastEvent is the server-to-client envelope published on every
// room and user pub/sub channel.
type BroadcastEvent struct {
	EventType BroadcastEventType `json:"event_type"`
	RoomID    uuid.UUID          `json:"room_id,omitempty"`
	Payload   EventPayload       `json:"payload"`
}
