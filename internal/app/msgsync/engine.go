/*
Package msgsync keeps a user's local, per-room message logs consistent with the change feed
of the backing store.

The change feed is the single writer of a room log. SendMessage persists and returns the
stored message but never inserts it locally; the INSERT event echoed by the feed does. A
feed event whose message id is already present is skipped, and every insertion keeps the
log ordered by (createdAt, id), so duplicated or reordered delivery converges to the same log.
*/
package msgsync

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/feed"
	"trainchat/internal/app/notify"
	"trainchat/internal/app/permission"
	"trainchat/internal/app/store"
	"trainchat/internal/app/user"
	"trainchat/internal/pkg/logx"
)

var (
	ErrNotParticipant = errors.New("msgsync: user is not a participant of the room")
	ErrReadOnlyRoom   = errors.New("msgsync: user may not post in this read-only room")
	ErrEmptyContent   = errors.New("msgsync: message content is empty")
	ErrRoomArchived   = errors.New("msgsync: room is archived")
)

// MaxContentLength bounds the content of a message, in characters.
const MaxContentLength = 4000

const fetchTimeout = 10 * time.Second

// Store is the slice of the backing store the engine needs.
type Store interface {
	store.Messages
	store.Feed
	GetRoom(ctx context.Context, roomID string) (chat.Room, error)
	TouchRoom(ctx context.Context, roomID string, at time.Time) error
}

// ChangeKind says what happened to a message in a local log.
type ChangeKind uint8

const (
	ChangeInserted ChangeKind = iota + 1
	ChangeUpdated
)

// Change is reported to OnChange listeners after a log mutation caused by the feed.
type Change struct {
	Kind    ChangeKind
	RoomID  string
	Message chat.Message
}

// reload tracks the FetchMessages calls in flight for a room and the feed inserts they
// must carry over into the replacement log.
type reload struct {
	active   int
	inserted map[string]uint64
}

type roomSubscription struct {
	sub  *feed.Subscription
	refs int
}

// Engine holds the message logs of one user. It is safe for concurrent use.
type Engine struct {
	user     user.User
	store    Store
	rules    *permission.Engine
	notifier notify.Dispatcher
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	logs      map[string][]chat.Message
	gens      map[string]uint64
	reloads   map[string]*reload
	subs      map[string]*roomSubscription
	listeners []func(Change)
	closed    bool
}

func New(u user.User, s Store, rules *permission.Engine, notifier notify.Dispatcher) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		user:     u,
		store:    s,
		rules:    rules,
		notifier: notifier,
		logger:   logx.Component("MessageSync").With().Str("user_id", u.ID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		logs:     make(map[string][]chat.Message),
		gens:     make(map[string]uint64),
		reloads:  make(map[string]*reload),
		subs:     make(map[string]*roomSubscription),
	}
}

// UserID returns the id of the user whose logs the engine holds.
func (e *Engine) UserID() string {
	return e.user.ID
}

// SendMessage validates and persists a message from the engine's user. The message reaches
// the local log through the change feed, not through this call.
func (e *Engine) SendMessage(ctx context.Context, roomID, content string, msgType chat.MessageType) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return chat.Message{}, &chat.ValidationError{Field: "content", Reason: "too long"}
	}
	if !msgType.IsValid() {
		return chat.Message{}, &chat.ValidationError{Field: "type", Reason: "unknown message type"}
	}

	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return chat.Message{}, err
	}
	if err := e.checkPosting(room); err != nil {
		return chat.Message{}, err
	}

	msg, err := e.store.InsertMessage(ctx, chat.Message{
		RoomID:   roomID,
		SenderID: e.user.ID,
		Content:  content,
		Type:     msgType,
	})
	if err != nil {
		return chat.Message{}, err
	}

	if err := e.store.TouchRoom(ctx, roomID, msg.CreatedAt); err != nil {
		e.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to bump room activity.")
	}

	e.notifyRecipients(ctx, room, msg)
	return msg, nil
}

func (e *Engine) checkPosting(room chat.Room) error {
	if room.IsArchived() {
		return ErrRoomArchived
	}
	if !room.HasParticipant(e.user.ID) {
		return ErrNotParticipant
	}
	if !room.IsReadOnly {
		return nil
	}
	def, ok := e.rules.GroupFor(room.Category)
	if !ok || !e.rules.CanPostInGroup(e.user, def) {
		return ErrReadOnlyRoom
	}
	return nil
}

func (e *Engine) notifyRecipients(ctx context.Context, room chat.Room, msg chat.Message) {
	recipients := room.OtherParticipants(e.user.ID)
	if len(recipients) == 0 {
		return
	}

	summary := msg.Content
	if msg.Type.IsAttachment() {
		summary = "[" + msg.Type.String() + "]"
	}
	title := e.user.DisplayName
	if room.Kind == chat.KindGroup && room.Name != "" {
		title = room.Name + ": " + title
	}

	err := e.notifier.Notify(ctx, recipients, notify.Notification{
		Kind:    notify.KindMessage,
		RoomID:  room.ID,
		Title:   title,
		Summary: summary,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("room_id", room.ID).Msg("Failed to notify message recipients.")
	}
}

// FetchMessages reloads the room from the backing store and replaces the local log with the
// de-duplicated, ordered result. Messages the feed inserted while the reload ran are kept,
// and a message read locally stays read.
func (e *Engine) FetchMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(e.user.ID) {
		return nil, ErrNotParticipant
	}

	startGen := e.beginReload(roomID)
	rows, err := e.store.ListMessages(ctx, roomID)
	if err != nil {
		e.mu.Lock()
		e.endReloadLocked(roomID)
		e.mu.Unlock()
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	msgs := make([]chat.Message, 0, len(rows))
	for _, m := range rows {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		msgs = append(msgs, m)
	}

	e.mu.Lock()
	inserted := e.reloads[roomID].inserted
	local := e.logs[roomID]
	read := make(map[string]bool, len(local))
	for _, m := range local {
		if m.IsRead {
			read[m.ID] = true
		}
		if !seen[m.ID] && inserted[m.ID] > startGen {
			seen[m.ID] = true
			msgs = append(msgs, m)
		}
	}
	for i := range msgs {
		if read[msgs[i].ID] {
			msgs[i].IsRead = true
		}
	}
	slices.SortFunc(msgs, chat.Compare)
	e.logs[roomID] = msgs
	e.endReloadLocked(roomID)
	e.mu.Unlock()

	return slices.Clone(msgs), nil
}

// beginReload registers a reload of the room and returns the feed generation it starts at.
func (e *Engine) beginReload(roomID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.reloads[roomID]
	if !ok {
		r = &reload{inserted: make(map[string]uint64)}
		e.reloads[roomID] = r
	}
	r.active++
	return e.gens[roomID]
}

func (e *Engine) endReloadLocked(roomID string) {
	r := e.reloads[roomID]
	r.active--
	if r.active == 0 {
		delete(e.reloads, roomID)
	}
}

// MarkAsRead marks every message of the room not sent by the engine's user as read, in the
// backing store and in the local log.
func (e *Engine) MarkAsRead(ctx context.Context, roomID string) (int, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if !room.HasParticipant(e.user.ID) {
		return 0, ErrNotParticipant
	}

	n, err := e.store.MarkRead(ctx, roomID, e.user.ID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	log := e.logs[roomID]
	for i := range log {
		if log[i].IsUnreadFor(e.user.ID) {
			log[i].IsRead = true
		}
	}
	e.mu.Unlock()

	return n, nil
}

// UnreadCount counts the messages of the local room log sent by others and not yet read.
func (e *Engine) UnreadCount(roomID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.unreadLocked(roomID)
}

// TotalUnreadCount sums UnreadCount over every local room log.
func (e *Engine) TotalUnreadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	for roomID := range e.logs {
		total += e.unreadLocked(roomID)
	}
	return total
}

func (e *Engine) unreadLocked(roomID string) int {
	n := 0
	for _, m := range e.logs[roomID] {
		if m.IsUnreadFor(e.user.ID) {
			n++
		}
	}
	return n
}

// Messages returns a snapshot of the local room log.
func (e *Engine) Messages(roomID string) []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.logs[roomID])
}

// OnChange registers fn to be called after every feed-driven log mutation. fn runs on the
// feed's delivery goroutine, without the engine lock held.
func (e *Engine) OnChange(fn func(Change)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, fn)
}

// Subscribe starts following the room's message feed. Subscriptions are reference counted:
// subscribing again to the same room shares the feed subscription, so no event is delivered
// twice. The returned function releases this reference; it is idempotent and safe to call
// after the room was archived or the engine closed.
func (e *Engine) Subscribe(roomID string) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return func() {}
	}

	if rs, ok := e.subs[roomID]; ok {
		rs.refs++
	} else {
		sub := e.store.Subscribe(feed.Filter{
			Table:  feed.TableMessages,
			Column: "chat_room_id",
			Value:  roomID,
		}, func(ev feed.Event) {
			e.handleEvent(roomID, ev)
		})
		e.subs[roomID] = &roomSubscription{sub: sub, refs: 1}
	}

	var once sync.Once
	return func() {
		once.Do(func() { e.release(roomID) })
	}
}

// Subscribed reports whether the engine follows the room.
func (e *Engine) Subscribed(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.subs[roomID]
	return ok
}

func (e *Engine) release(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.subs[roomID]
	if !ok {
		return
	}
	rs.refs--
	if rs.refs > 0 {
		return
	}
	rs.sub.Unsubscribe()
	delete(e.subs, roomID)
}

// Close drops every subscription and listener. Later Subscribe calls are no-ops.
func (e *Engine) Close() {
	e.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	for roomID, rs := range e.subs {
		rs.sub.Unsubscribe()
		delete(e.subs, roomID)
	}
	e.listeners = nil
	e.closed = true
}

func (e *Engine) handleEvent(roomID string, ev feed.Event) {
	switch ev.Op {
	case feed.OpInsert:
		e.handleInsert(roomID, ev.ID)
	case feed.OpUpdate:
		e.handleUpdate(roomID, ev.ID)
	}
}

func (e *Engine) handleInsert(roomID, messageID string) {
	if e.has(roomID, messageID) {
		e.logger.Debug().Str("room_id", roomID).Str("message_id", messageID).Msg("Skipping message already in log.")
		return
	}

	msg, ok := e.fetch(roomID, messageID)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	log := e.logs[roomID]
	i, found := slices.BinarySearchFunc(log, msg, chat.Compare)
	if found || slices.ContainsFunc(log, func(m chat.Message) bool { return m.ID == msg.ID }) {
		e.mu.Unlock()
		e.logger.Debug().Str("room_id", roomID).Str("message_id", messageID).Msg("Skipping message inserted concurrently.")
		return
	}
	e.logs[roomID] = slices.Insert(log, i, msg)
	e.gens[roomID]++
	if r, ok := e.reloads[roomID]; ok {
		r.inserted[msg.ID] = e.gens[roomID]
	}
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	emit(listeners, Change{Kind: ChangeInserted, RoomID: roomID, Message: msg})
}

func (e *Engine) handleUpdate(roomID, messageID string) {
	e.mu.Lock()
	idx := slices.IndexFunc(e.logs[roomID], func(m chat.Message) bool { return m.ID == messageID })
	known := idx >= 0 && e.logs[roomID][idx].IsRead
	e.mu.Unlock()

	// Unknown messages arrive with their INSERT or the next fetch; read is a one-way flag.
	if idx < 0 || known {
		return
	}

	msg, ok := e.fetch(roomID, messageID)
	if !ok || !msg.IsRead {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	log := e.logs[roomID]
	idx = slices.IndexFunc(log, func(m chat.Message) bool { return m.ID == messageID })
	if idx < 0 || log[idx].IsRead {
		e.mu.Unlock()
		return
	}
	log[idx].IsRead = true
	updated := log[idx]
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	emit(listeners, Change{Kind: ChangeUpdated, RoomID: roomID, Message: updated})
}

func (e *Engine) has(roomID, messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.ContainsFunc(e.logs[roomID], func(m chat.Message) bool { return m.ID == messageID })
}

func (e *Engine) fetch(roomID, messageID string) (chat.Message, bool) {
	ctx, cancel := context.WithTimeout(e.ctx, fetchTimeout)
	defer cancel()

	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		e.logger.Warn().Err(err).Str("room_id", roomID).Str("message_id", messageID).Msg("Failed to fetch message from feed event.")
		return chat.Message{}, false
	}
	if msg.RoomID != roomID {
		e.logger.Warn().Str("room_id", roomID).Str("message_id", messageID).Msg("Feed event room does not match message.")
		return chat.Message{}, false
	}
	return msg, true
}

func emit(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}
