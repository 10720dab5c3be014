/*
Package feed implements the subscribable change feed of the backing store.

Stores publish one Event per row-level insert, update or delete. Consumers register a
Filter with Subscribe and receive matching events on their handler until they call
Unsubscribe on the returned handle. The Hub performs no I/O; the PostgreSQL listener and the
in-memory store both publish into one.
*/
package feed

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"trainchat/internal/pkg/logx"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"

	// OpResync carries no table or row. It is published after a gap in delivery, during
	// which changes may have been missed, and tells consumers to reload their state.
	OpResync Op = "RESYNC"
)

// Relations published on the feed.
const (
	TableRooms        = "chat_rooms"
	TableParticipants = "chat_room_participants"
	TableMessages     = "chat_messages"
	TableRequests     = "chat_requests"
)

// Event is a single row change.
type Event struct {
	Table string `json:"table"`
	Op    Op     `json:"op"`

	// ID is the primary key of the changed row.
	ID string `json:"id"`

	// Fields carries the filterable columns of the row (e.g. "chat_room_id").
	Fields map[string]string `json:"fields,omitempty"`
}

// ResyncEvent returns the event published after a delivery gap.
func ResyncEvent() Event {
	return Event{Op: OpResync}
}

// Filter selects events. Empty fields match anything; Column and Value form an equality
// predicate on Event.Fields.
type Filter struct {
	Table  string
	Op     Op
	Column string
	Value  string
}

// Match reports whether e satisfies the filter.
func (f Filter) Match(e Event) bool {
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	if f.Op != "" && f.Op != e.Op {
		return false
	}
	if f.Column != "" && e.Fields[f.Column] != f.Value {
		return false
	}
	return true
}

// Handler receives matching events. Handlers run on the publisher's goroutine and must not
// block for long.
type Handler func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	filter  Filter
	handler Handler
	hub     *Hub
	closed  atomic.Bool
}

// Unsubscribe stops delivery. It is safe to call more than once and after the hub closed.
func (s *Subscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.hub.remove(s.id)
}

// Hub fans events out to subscriptions.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool

	logger zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logx.Component("Feed"),
	}
}

// Subscribe registers handler for events matching filter.
func (h *Hub) Subscribe(filter Filter, handler Handler) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{id: h.nextID, filter: filter, handler: handler, hub: h}

	if h.closed {
		sub.closed.Store(true)
		return sub
	}

	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, id)
}

// Publish delivers e to every matching subscription, in subscription order.
// Handlers are called without the hub lock held, so they may subscribe or unsubscribe.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	matched := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.filter.Match(e) {
			matched = append(matched, sub)
		}
	}
	h.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *Subscription) int { return cmp.Compare(a.id, b.id) })

	for _, sub := range matched {
		if sub.closed.Load() {
			continue
		}
		h.deliver(sub, e)
	}
}

func (h *Hub) deliver(sub *Subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Interface("panic", r).
				Str("table", e.Table).
				Str("row_id", e.ID).
				Msg("Recovered from panic in feed handler.")
		}
	}()

	sub.handler(e)
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Close drops every subscription. Later Subscribe calls return inert handles.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		sub.closed.Store(true)
	}
	h.subs = make(map[uint64]*Subscription)
	h.closed = true
}
