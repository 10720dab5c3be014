/*
Package notify records out-of-band notifications for users who are not watching a room live.

Delivery mechanics (push, e-mail) belong to downstream consumers of the chat_notifications
relation. Dispatch is best effort: callers log and ignore its errors.
*/
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"trainchat/internal/app/store"
	"trainchat/internal/pkg/logx"
)

// Kind classifies a notification.
type Kind uint8

const (
	KindMessage Kind = iota + 1
	KindChatRequest
	KindSystemEvent
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindChatRequest:
		return "chat_request"
	case KindSystemEvent:
		return "system_event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type Notification struct {
	Kind      Kind
	RoomID    string
	RequestID string
	Title     string
	Summary   string
}

// Dispatcher delivers a notification to a set of users.
type Dispatcher interface {
	Notify(ctx context.Context, recipientIDs []string, n Notification) error
}

// Presence reports whether a user currently has a live session.
type Presence interface {
	IsOnline(userID string) bool
}

// StoreDispatcher writes one chat_notifications row per recipient.
type StoreDispatcher struct {
	store    store.Notifications
	presence Presence
	logger   zerolog.Logger
}

// NewStoreDispatcher returns a dispatcher writing to s. presence may be nil, in which case
// every recipient is considered offline.
func NewStoreDispatcher(s store.Notifications, presence Presence) *StoreDispatcher {
	return &StoreDispatcher{
		store:    s,
		presence: presence,
		logger:   logx.Component("Notify"),
	}
}

// SetPresence replaces the presence source. It must be called before the dispatcher is used.
func (d *StoreDispatcher) SetPresence(p Presence) {
	d.presence = p
}

// Notify records n for every recipient. Message notifications skip online recipients, who
// receive the message on their live feed. All rows are attempted; failures are joined.
func (d *StoreDispatcher) Notify(ctx context.Context, recipientIDs []string, n Notification) error {
	var errs []error
	written := 0

	for _, userID := range recipientIDs {
		if n.Kind == KindMessage && d.presence != nil && d.presence.IsOnline(userID) {
			continue
		}

		err := d.store.InsertNotification(ctx, store.Notification{
			UserID:    userID,
			Type:      n.Kind.String(),
			Title:     n.Title,
			Content:   n.Summary,
			RoomID:    n.RoomID,
			RequestID: n.RequestID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", userID, err))
			continue
		}
		written++
	}

	d.logger.Debug().
		Stringer("kind", n.Kind).
		Int("recipients", len(recipientIDs)).
		Int("written", written).
		Msg("Notifications dispatched.")

	return errors.Join(errs...)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, []string, Notification) error { return nil }
