/*
Package store defines the backing-store contract the chat core depends on: a transactional
table store (rooms, participants, messages, requests, notifications, users) with a
subscribable row-level change feed.

Two implementations exist: Memory in this package, used by tests and local development, and
the PostgreSQL store in package db.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/feed"
	"trainchat/internal/app/user"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write violates a unique constraint, e.g. a second
	// direct room for the same pair or a second auto-created group of one category.
	ErrConflict = errors.New("store: unique constraint violated")
)

// Error wraps any other backing-store failure (network, permission, serialization).
// The core never retries it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err unchanged when it is nil or one of the sentinels, and an *Error
// tagged with op otherwise.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Notification is a row of chat_notifications.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Content   string
	RoomID    string
	RequestID string
	CreatedAt time.Time
}

// Rooms is the chat_rooms / chat_room_participants relation pair.
type Rooms interface {
	// InsertRoom stores the room and all its participant rows atomically and returns the
	// stored room with ID and timestamps assigned. Returns ErrConflict if a unique
	// constraint (direct pair, auto-created group category) is already taken.
	InsertRoom(ctx context.Context, room chat.Room) (chat.Room, error)

	GetRoom(ctx context.Context, roomID string) (chat.Room, error)

	// FindDirectRoom returns the non-archived Direct room whose participants are exactly
	// {a, b}, or ErrNotFound.
	FindDirectRoom(ctx context.Context, a, b string) (chat.Room, error)

	// FindGroupRoom returns the non-archived auto-created group of the category, or ErrNotFound.
	FindGroupRoom(ctx context.Context, category chat.Category) (chat.Room, error)

	// AddParticipant inserts the membership row if absent. Re-adding is a no-op.
	AddParticipant(ctx context.Context, roomID, userID string) error

	// ListRoomsForUser returns the non-archived rooms userID belongs to, most recently
	// updated first.
	ListRoomsForUser(ctx context.Context, userID string) ([]chat.Room, error)

	// TouchRoom sets updated_at.
	TouchRoom(ctx context.Context, roomID string, at time.Time) error

	// ArchiveRoom sets archived_at if unset.
	ArchiveRoom(ctx context.Context, roomID string, at time.Time) error
}

// Messages is the chat_messages relation.
type Messages interface {
	// InsertMessage stores msg and returns it with the server-assigned ID and CreatedAt.
	InsertMessage(ctx context.Context, msg chat.Message) (chat.Message, error)

	// GetMessage returns the message with SenderName filled from the users relation.
	GetMessage(ctx context.Context, messageID string) (chat.Message, error)

	// ListMessages returns the messages of a room ordered by (created_at, id).
	ListMessages(ctx context.Context, roomID string) ([]chat.Message, error)

	// MarkRead sets is_read on every unread message of the room not sent by readerID and
	// returns how many rows changed.
	MarkRead(ctx context.Context, roomID, readerID string) (int, error)
}

// Requests is the chat_requests relation.
type Requests interface {
	InsertRequest(ctx context.Context, req chat.Request) (chat.Request, error)
	GetRequest(ctx context.Context, requestID string) (chat.Request, error)

	// FindPendingRequest returns the pending request from requesterID to targetID, or ErrNotFound.
	FindPendingRequest(ctx context.Context, requesterID, targetID string) (chat.Request, error)

	// ListPendingRequests returns every pending request, oldest first.
	ListPendingRequests(ctx context.Context) ([]chat.Request, error)

	// ResolveRequest moves a pending request to a terminal status. Returns ErrConflict if
	// the request is no longer pending.
	ResolveRequest(ctx context.Context, req chat.Request) (chat.Request, error)
}

// Notifications is the write-only chat_notifications relation.
type Notifications interface {
	InsertNotification(ctx context.Context, n Notification) error
}

// Feed is the subscribable change feed.
type Feed interface {
	Subscribe(filter feed.Filter, handler feed.Handler) *feed.Subscription
}

// Store is the full backing store.
type Store interface {
	Rooms
	Messages
	Requests
	Notifications
	user.Directory
	Feed
}
