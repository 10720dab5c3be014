package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/feed"
	"trainchat/internal/app/user"
	"trainchat/internal/pkg/randx"
)

// Memory is an in-process Store. It enforces the same unique constraints as the
// PostgreSQL schema and publishes change events after its lock is released, so feed
// handlers may call back into the store.
type Memory struct {
	mu sync.Mutex

	users         map[string]user.User
	rooms         map[string]*chat.Room
	directKeys    map[string]string
	groupKeys     map[chat.Category]string
	messages      map[string]chat.Message
	roomMessages  map[string][]string
	requests      map[string]chat.Request
	notifications []Notification
	faults        map[string]error

	hub *feed.Hub
	now func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces the timestamp source used for created_at and updated_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithUsers seeds the directory.
func WithUsers(users ...user.User) MemoryOption {
	return func(m *Memory) {
		for _, u := range users {
			m.users[u.ID] = u
		}
	}
}

// NewMemory returns an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		users:        make(map[string]user.User),
		rooms:        make(map[string]*chat.Room),
		directKeys:   make(map[string]string),
		groupKeys:    make(map[chat.Category]string),
		messages:     make(map[string]chat.Message),
		roomMessages: make(map[string][]string),
		requests:     make(map[string]chat.Request),
		faults:       make(map[string]error),
		hub:          feed.NewHub(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PutUser inserts or replaces a directory record.
func (m *Memory) PutUser(u user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[u.ID] = u
}

// FailNext makes the next call of the named operation (e.g. "InsertRoom") fail with err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.faults[op] = err
}

// Notifications returns a copy of every stored notification row.
func (m *Memory) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.notifications)
}

// Hub exposes the change feed for publishers outside the store (tests).
func (m *Memory) Hub() *feed.Hub {
	return m.hub
}

// Close drops every feed subscription.
func (m *Memory) Close() {
	m.hub.Close()
}

// fault must be called with m.mu held.
func (m *Memory) fault(op string) error {
	err, ok := m.faults[op]
	if !ok {
		return nil
	}
	delete(m.faults, op)
	return Wrap(op, err)
}

func (m *Memory) publish(events []feed.Event) {
	for _, e := range events {
		m.hub.Publish(e)
	}
}

func (m *Memory) Subscribe(filter feed.Filter, handler feed.Handler) *feed.Subscription {
	return m.hub.Subscribe(filter, handler)
}

func (m *Memory) GetUser(_ context.Context, id string) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("GetUser"); err != nil {
		return user.User{}, err
	}
	u, ok := m.users[id]
	if !ok {
		return user.User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) ListUsersByRole(_ context.Context, role user.Role) ([]user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("ListUsersByRole"); err != nil {
		return nil, err
	}
	var out []user.User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, cloneUser(u))
		}
	}
	slices.SortFunc(out, func(a, b user.User) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) InsertRoom(_ context.Context, room chat.Room) (chat.Room, error) {
	m.mu.Lock()

	if err := m.fault("InsertRoom"); err != nil {
		m.mu.Unlock()
		return chat.Room{}, err
	}

	var directKey string
	if room.Kind == chat.KindDirect {
		if len(room.ParticipantIDs) != 2 {
			m.mu.Unlock()
			return chat.Room{}, &Error{Op: "InsertRoom", Err: fmt.Errorf("direct room with %d participants", len(room.ParticipantIDs))}
		}
		directKey = chat.DirectKey(room.ParticipantIDs[0], room.ParticipantIDs[1])
		if _, taken := m.directKeys[directKey]; taken {
			m.mu.Unlock()
			return chat.Room{}, ErrConflict
		}
	}
	groupKey := room.Kind == chat.KindGroup && room.AutoCreated
	if groupKey {
		if _, taken := m.groupKeys[room.Category]; taken {
			m.mu.Unlock()
			return chat.Room{}, ErrConflict
		}
	}

	now := m.now()
	stored := cloneRoom(room)
	stored.ID = randx.ID()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.ArchivedAt = nil

	m.rooms[stored.ID] = &stored
	if directKey != "" {
		m.directKeys[directKey] = stored.ID
	}
	if groupKey {
		m.groupKeys[stored.Category] = stored.ID
	}

	events := []feed.Event{roomEvent(feed.OpInsert, stored)}
	for _, userID := range stored.ParticipantIDs {
		events = append(events, participantEvent(stored.ID, userID))
	}
	out := cloneRoom(stored)
	m.mu.Unlock()

	m.publish(events)
	return out, nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (chat.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("GetRoom"); err != nil {
		return chat.Room{}, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return chat.Room{}, ErrNotFound
	}
	return cloneRoom(*room), nil
}

func (m *Memory) FindDirectRoom(_ context.Context, a, b string) (chat.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("FindDirectRoom"); err != nil {
		return chat.Room{}, err
	}
	id, ok := m.directKeys[chat.DirectKey(a, b)]
	if !ok {
		return chat.Room{}, ErrNotFound
	}
	return cloneRoom(*m.rooms[id]), nil
}

func (m *Memory) FindGroupRoom(_ context.Context, category chat.Category) (chat.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("FindGroupRoom"); err != nil {
		return chat.Room{}, err
	}
	id, ok := m.groupKeys[category]
	if !ok {
		return chat.Room{}, ErrNotFound
	}
	return cloneRoom(*m.rooms[id]), nil
}

func (m *Memory) AddParticipant(_ context.Context, roomID, userID string) error {
	m.mu.Lock()

	if err := m.fault("AddParticipant"); err != nil {
		m.mu.Unlock()
		return err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if room.HasParticipant(userID) {
		m.mu.Unlock()
		return nil
	}
	if room.Kind == chat.KindDirect {
		m.mu.Unlock()
		return &Error{Op: "AddParticipant", Err: fmt.Errorf("direct room %s is closed to new participants", roomID)}
	}
	room.ParticipantIDs = append(room.ParticipantIDs, userID)
	m.mu.Unlock()

	m.publish([]feed.Event{participantEvent(roomID, userID)})
	return nil
}

func (m *Memory) ListRoomsForUser(_ context.Context, userID string) ([]chat.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("ListRoomsForUser"); err != nil {
		return nil, err
	}
	var out []chat.Room
	for _, room := range m.rooms {
		if room.IsArchived() || !room.HasParticipant(userID) {
			continue
		}
		out = append(out, cloneRoom(*room))
	}
	slices.SortFunc(out, func(a, b chat.Room) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) TouchRoom(_ context.Context, roomID string, at time.Time) error {
	m.mu.Lock()

	if err := m.fault("TouchRoom"); err != nil {
		m.mu.Unlock()
		return err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	room.UpdatedAt = at
	e := roomEvent(feed.OpUpdate, *room)
	m.mu.Unlock()

	m.publish([]feed.Event{e})
	return nil
}

func (m *Memory) ArchiveRoom(_ context.Context, roomID string, at time.Time) error {
	m.mu.Lock()

	if err := m.fault("ArchiveRoom"); err != nil {
		m.mu.Unlock()
		return err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if room.IsArchived() {
		m.mu.Unlock()
		return nil
	}
	archivedAt := at
	room.ArchivedAt = &archivedAt
	if room.Kind == chat.KindDirect {
		key := chat.DirectKey(room.ParticipantIDs[0], room.ParticipantIDs[1])
		if m.directKeys[key] == room.ID {
			delete(m.directKeys, key)
		}
	}
	if m.groupKeys[room.Category] == room.ID {
		delete(m.groupKeys, room.Category)
	}
	e := roomEvent(feed.OpUpdate, *room)
	m.mu.Unlock()

	m.publish([]feed.Event{e})
	return nil
}

func (m *Memory) InsertMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	m.mu.Lock()

	if err := m.fault("InsertMessage"); err != nil {
		m.mu.Unlock()
		return chat.Message{}, err
	}
	if _, ok := m.rooms[msg.RoomID]; !ok {
		m.mu.Unlock()
		return chat.Message{}, ErrNotFound
	}

	msg.ID = randx.ID()
	msg.CreatedAt = m.now()
	msg.IsRead = false
	msg.SenderName = ""

	m.messages[msg.ID] = msg
	m.roomMessages[msg.RoomID] = append(m.roomMessages[msg.RoomID], msg.ID)

	out := m.withSenderName(msg)
	e := messageEvent(feed.OpInsert, msg)
	m.mu.Unlock()

	m.publish([]feed.Event{e})
	return out, nil
}

func (m *Memory) GetMessage(_ context.Context, messageID string) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("GetMessage"); err != nil {
		return chat.Message{}, err
	}
	msg, ok := m.messages[messageID]
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	return m.withSenderName(msg), nil
}

func (m *Memory) ListMessages(_ context.Context, roomID string) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("ListMessages"); err != nil {
		return nil, err
	}
	ids := m.roomMessages[roomID]
	out := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.withSenderName(m.messages[id]))
	}
	slices.SortFunc(out, chat.Compare)
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, roomID, readerID string) (int, error) {
	m.mu.Lock()

	if err := m.fault("MarkRead"); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	var events []feed.Event
	for _, id := range m.roomMessages[roomID] {
		msg := m.messages[id]
		if !msg.IsUnreadFor(readerID) {
			continue
		}
		msg.IsRead = true
		m.messages[id] = msg
		events = append(events, messageEvent(feed.OpUpdate, msg))
	}
	m.mu.Unlock()

	m.publish(events)
	return len(events), nil
}

func (m *Memory) InsertRequest(_ context.Context, req chat.Request) (chat.Request, error) {
	m.mu.Lock()

	if err := m.fault("InsertRequest"); err != nil {
		m.mu.Unlock()
		return chat.Request{}, err
	}
	if req.Status == chat.RequestPending {
		for _, existing := range m.requests {
			if existing.Status == chat.RequestPending && existing.RequesterID == req.RequesterID && existing.TargetUserID == req.TargetUserID {
				m.mu.Unlock()
				return chat.Request{}, ErrConflict
			}
		}
	}

	req.ID = randx.ID()
	req.CreatedAt = m.now()
	m.requests[req.ID] = req
	e := requestEvent(feed.OpInsert, req)
	m.mu.Unlock()

	m.publish([]feed.Event{e})
	return req, nil
}

func (m *Memory) GetRequest(_ context.Context, requestID string) (chat.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("GetRequest"); err != nil {
		return chat.Request{}, err
	}
	req, ok := m.requests[requestID]
	if !ok {
		return chat.Request{}, ErrNotFound
	}
	return req, nil
}

func (m *Memory) FindPendingRequest(_ context.Context, requesterID, targetID string) (chat.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("FindPendingRequest"); err != nil {
		return chat.Request{}, err
	}
	for _, req := range m.requests {
		if req.Status == chat.RequestPending && req.RequesterID == requesterID && req.TargetUserID == targetID {
			return req, nil
		}
	}
	return chat.Request{}, ErrNotFound
}

func (m *Memory) ListPendingRequests(_ context.Context) ([]chat.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("ListPendingRequests"); err != nil {
		return nil, err
	}
	var out []chat.Request
	for _, req := range m.requests {
		if req.Status == chat.RequestPending {
			out = append(out, req)
		}
	}
	slices.SortFunc(out, func(a, b chat.Request) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) ResolveRequest(_ context.Context, req chat.Request) (chat.Request, error) {
	m.mu.Lock()

	if err := m.fault("ResolveRequest"); err != nil {
		m.mu.Unlock()
		return chat.Request{}, err
	}
	current, ok := m.requests[req.ID]
	if !ok {
		m.mu.Unlock()
		return chat.Request{}, ErrNotFound
	}
	if current.Status != chat.RequestPending {
		m.mu.Unlock()
		return chat.Request{}, ErrConflict
	}

	current.Status = req.Status
	current.ResolvedBy = req.ResolvedBy
	current.RoomID = req.RoomID
	resolvedAt := m.now()
	if req.ResolvedAt != nil {
		resolvedAt = *req.ResolvedAt
	}
	current.ResolvedAt = &resolvedAt
	m.requests[current.ID] = current
	e := requestEvent(feed.OpUpdate, current)
	m.mu.Unlock()

	m.publish([]feed.Event{e})
	return current, nil
}

func (m *Memory) InsertNotification(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("InsertNotification"); err != nil {
		return err
	}
	n.ID = randx.ID()
	n.CreatedAt = m.now()
	m.notifications = append(m.notifications, n)
	return nil
}

// withSenderName must be called with m.mu held.
func (m *Memory) withSenderName(msg chat.Message) chat.Message {
	if u, ok := m.users[msg.SenderID]; ok {
		msg.SenderName = u.DisplayName
	}
	return msg
}

func roomEvent(op feed.Op, room chat.Room) feed.Event {
	return feed.Event{
		Table:  feed.TableRooms,
		Op:     op,
		ID:     room.ID,
		Fields: map[string]string{"chat_category": room.Category.String()},
	}
}

func participantEvent(roomID, userID string) feed.Event {
	return feed.Event{
		Table:  feed.TableParticipants,
		Op:     feed.OpInsert,
		ID:     roomID + ":" + userID,
		Fields: map[string]string{"chat_room_id": roomID, "user_id": userID},
	}
}

func messageEvent(op feed.Op, msg chat.Message) feed.Event {
	return feed.Event{
		Table:  feed.TableMessages,
		Op:     op,
		ID:     msg.ID,
		Fields: map[string]string{"chat_room_id": msg.RoomID, "sender_id": msg.SenderID},
	}
}

func requestEvent(op feed.Op, req chat.Request) feed.Event {
	return feed.Event{
		Table: feed.TableRequests,
		Op:    op,
		ID:    req.ID,
		Fields: map[string]string{
			"requester_id":   req.RequesterID,
			"target_user_id": req.TargetUserID,
			"status":         req.Status.String(),
		},
	}
}

func cloneRoom(r chat.Room) chat.Room {
	r.ParticipantIDs = slices.Clone(r.ParticipantIDs)
	if r.ArchivedAt != nil {
		at := *r.ArchivedAt
		r.ArchivedAt = &at
	}
	return r
}

func cloneUser(u user.User) user.User {
	u.Specializations = slices.Clone(u.Specializations)
	return u
}
