// Package errs defines the domain error taxonomy shared by services
// and the HTTP edge. Services return *Error so handlers can map a
// Kind to a status code without string matching.
package errs

import "fmt"

// Kind classifies a domain error for the HTTP edge.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindAuth       Kind = "AUTH"
	KindPermission Kind = "PERMISSION"
	KindTransient  Kind = "TRANSIENT"
	KindInvalid    Kind = "INVALID"
)

// Subject identifies which aggregate an error concerns.
type Subject string

const (
	SubjectUser           Subject = "user"
	SubjectRoom           Subject = "room"
	SubjectMembership     Subject = "membership"
	SubjectJoinRequest    Subject = "join_request"
	SubjectMessage        Subject = "message"
	SubjectNotification   Subject = "notification"
	SubjectSession        Subject = "session"
	SubjectWSSession      Subject = "ws_session"
	SubjectOutboxEntry    Subject = "outbox_entry"
	SubjectRoomStats      Subject = "room_stats"
	SubjectUserActivity   Subject = "user_activity"
)

// Error is a domain error carrying enough structure for the edge to
// respond without inspecting message text.
type Error struct {
	Kind    Kind
	Subject Subject
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Subject, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Subject, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error. message is required context the caller can
// safely surface to a client.
func New(kind Kind, subject Subject, message string) *Error {
	return &Error{Kind: kind, Subject: subject, Message: message}
}

// Wrap builds an *Error around an underlying cause, for errors whose
// message is not safe to surface as-is (e.g. driver errors).
func Wrap(kind Kind, subject Subject, message string, cause error) *Error {
	return &Error{Kind: kind, Subject: subject, Message: message, Err: cause}
}

// NotFound is a convenience constructor for the common case.
func NotFound(subject Subject, message string) *Error {
	return New(KindNotFound, subject, message)
}

// Conflict is a convenience constructor for the common case.
func Conflict(subject Subject, message string) *Error {
	return New(KindConflict, subject, message)
}

// Permission is a convenience constructor for the common case.
func Permission(subject Subject, message string) *Error {
	return New(KindPermission, subject, message)
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// defaulting to KindTransient for anything else — an error this
// package did not produce is treated as an infrastructure failure,
// not a client-addressable one.
func KindOf(err error) Kind {
	var de *Error
	if ok := asError(err, &de); ok {
		return de.Kind
	}
	return KindTransient
}

func asError(err error, target **Error) bool {
	for err != nil {
		if de, ok := err.(*Error); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
