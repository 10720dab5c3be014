package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/feed"
	"trainchat/internal/app/msgsync"
	"trainchat/internal/app/permission"
	"trainchat/internal/app/store"
	"trainchat/internal/app/user"
	"trainchat/internal/pkg/errs"
)

var (
	alice = user.User{ID: "alice", DisplayName: "Alice", Role: user.RoleSupervisor, Specializations: []string{"first-aid"}}
	bob   = user.User{ID: "bob", DisplayName: "Bob", Role: user.RoleTrainer, Specializations: []string{"first-aid"}}
	admin = user.User{ID: "admin", DisplayName: "Admin", Role: user.RoleAdmin}
)

const waitFor = 2 * time.Second

func rules() *permission.Engine {
	return permission.MustNewEngine(permission.DefaultRuleSet())
}

func newManager(t *testing.T, mem *store.Memory, idle time.Duration) *Manager {
	t.Helper()
	m := NewManager(Deps{Store: mem, Rules: rules(), IdleTimeout: idle})
	t.Cleanup(m.Shutdown)
	return m
}

func directRoom(t *testing.T, mem *store.Memory, a, b string) chat.Room {
	t.Helper()
	room, err := mem.InsertRoom(context.Background(), chat.Room{
		Kind: chat.KindDirect, Category: chat.CategoryAutoDirect, ParticipantIDs: []string{a, b}, AutoCreated: true,
	})
	require.NoError(t, err)
	return room
}

func recv(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(waitFor):
		t.Fatal("no frame received")
		return Frame{}
	}
}

// recvType skips frames until one of type want arrives.
func recvType(t *testing.T, c *Client, want FrameType) Frame {
	t.Helper()
	for range 16 {
		if f := recv(t, c); f.Type == want {
			return f
		}
	}
	t.Fatalf("no %s frame received", want)
	return Frame{}
}

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func connect(t *testing.T, s *Session) *Client {
	t.Helper()
	c := NewClient(s, nil)
	require.True(t, s.RegisterClient(c))
	return c
}

func isClosed(c *Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func inbound(t *testing.T, typ FrameType, roomID, tempID string, payload any) []byte {
	t.Helper()
	f := Frame{Type: typ, RoomID: roomID, TempID: tempID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		f.Payload = raw
	}
	data, err := json.Marshal(f)
	require.NoError(t, err)
	return data
}

func TestSession_InitAndLiveMessages(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob))
	room := directRoom(t, mem, alice.ID, bob.ID)
	m := newManager(t, mem, time.Minute)

	s, err := m.Open(ctx, alice)
	require.NoError(t, err)
	assert.False(t, m.IsOnline(alice.ID))

	c := connect(t, s)
	init := recv(t, c)
	require.Equal(t, FrameInit, init.Type)
	payload := decode[InitPayload](t, init)
	assert.Equal(t, alice.ID, payload.User.ID)
	require.Len(t, payload.Rooms, 1)
	assert.Equal(t, room.ID, payload.Rooms[0].Room.ID)
	assert.True(t, m.IsOnline(alice.ID))

	peer := msgsync.New(bob, mem, rules(), nil)
	defer peer.Close()
	sent, err := peer.SendMessage(ctx, room.ID, "hi", chat.TypeText)
	require.NoError(t, err)

	f := recv(t, c)
	assert.Equal(t, FrameMessage, f.Type)
	assert.Equal(t, room.ID, f.RoomID)
	got := decode[chat.Message](t, f)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "Bob", got.SenderName)
	assert.Equal(t, 1, s.Engine().UnreadCount(room.ID))
}

func TestSession_InitCarriesUnreadCounts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob))
	room := directRoom(t, mem, alice.ID, bob.ID)
	for _, text := range []string{"one", "two"} {
		_, err := mem.InsertMessage(ctx, chat.Message{RoomID: room.ID, SenderID: bob.ID, Content: text, Type: chat.TypeText})
		require.NoError(t, err)
	}

	s, err := newManager(t, mem, time.Minute).Open(ctx, alice)
	require.NoError(t, err)
	c := connect(t, s)

	payload := decode[InitPayload](t, recvType(t, c, FrameInit))
	assert.Equal(t, 2, payload.TotalUnread)
	assert.Equal(t, 2, payload.Rooms[0].Unread)

	c.processInbound(inbound(t, FrameRead, room.ID, "", nil))

	unread := decode[UnreadPayload](t, recvType(t, c, FrameUnread))
	assert.Equal(t, UnreadPayload{Marked: 2, Unread: 0, TotalUnread: 0}, unread)
}

func TestSession_FollowsRoomsJoinedWhileOnline(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob, admin))
	s, err := newManager(t, mem, time.Minute).Open(ctx, alice)
	require.NoError(t, err)
	c := connect(t, s)
	assert.Empty(t, decode[InitPayload](t, recvType(t, c, FrameInit)).Rooms)

	room := directRoom(t, mem, alice.ID, bob.ID)

	f := recvType(t, c, FrameRoom)
	assert.Equal(t, room.ID, f.RoomID)
	assert.True(t, s.Following(room.ID))

	_, err = mem.InsertMessage(ctx, chat.Message{RoomID: room.ID, SenderID: bob.ID, Content: "welcome", Type: chat.TypeText})
	require.NoError(t, err)
	assert.Equal(t, "welcome", decode[chat.Message](t, recvType(t, c, FrameMessage)).Content)
}

func TestClient_SendIsAcknowledgedAndEchoed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob))
	room := directRoom(t, mem, alice.ID, bob.ID)
	s, err := newManager(t, mem, time.Minute).Open(ctx, alice)
	require.NoError(t, err)
	c := connect(t, s)
	recvType(t, c, FrameInit)

	c.processInbound(inbound(t, FrameSend, room.ID, "tmp-1", SendPayload{Content: "on my way"}))

	frames := map[FrameType]Frame{}
	for range 2 {
		f := recv(t, c)
		frames[f.Type] = f
	}
	require.Contains(t, frames, FrameAck)
	require.Contains(t, frames, FrameMessage)

	ack := frames[FrameAck]
	assert.Equal(t, "tmp-1", ack.TempID)
	echoed := decode[chat.Message](t, frames[FrameMessage])
	assert.Equal(t, decode[AckPayload](t, ack).MessageID, echoed.ID)
	assert.Equal(t, chat.TypeText, echoed.Type)
	assert.Len(t, s.Engine().Messages(room.ID), 1)
}

func TestClient_ErrorsCarryBusinessCodes(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob, admin))
	announcement, err := mem.InsertRoom(ctx, chat.Room{
		Name: "Announcements", Kind: chat.KindGroup, Category: chat.CategoryAnnouncement,
		ParticipantIDs: []string{admin.ID, alice.ID}, IsReadOnly: true, AutoCreated: true,
	})
	require.NoError(t, err)
	foreign := directRoom(t, mem, admin.ID, bob.ID)

	s, err := newManager(t, mem, time.Minute).Open(ctx, alice)
	require.NoError(t, err)
	c := connect(t, s)
	recvType(t, c, FrameInit)

	cases := []struct {
		name  string
		frame []byte
		code  int
	}{
		{"read-only group", inbound(t, FrameSend, announcement.ID, "t1", SendPayload{Content: "hello all"}), errs.ErrRoomReadOnly},
		{"not a member", inbound(t, FrameSend, foreign.ID, "t2", SendPayload{Content: "hi"}), errs.ErrNotParticipant},
		{"empty", inbound(t, FrameSend, announcement.ID, "t3", SendPayload{Content: "  "}), errs.ErrMessageEmpty},
		{"fetch foreign", inbound(t, FrameFetch, foreign.ID, "t4", nil), errs.ErrNotParticipant},
		{"unknown room", inbound(t, FrameSend, "nope", "t5", SendPayload{Content: "hi"}), errs.ErrRoomNotFound},
		{"foreign attachment key", inbound(t, FrameSend, announcement.ID, "t6", SendPayload{Content: "rooms/elsewhere/AbCdEfGhIjKlMnOp.png", Type: chat.TypeImage}), errs.ErrAttachmentKeyInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c.processInbound(tc.frame)

			f := recvType(t, c, FrameError)
			var sent Frame
			require.NoError(t, json.Unmarshal(tc.frame, &sent))
			assert.Equal(t, sent.TempID, f.TempID)
			assert.Equal(t, tc.code, decode[ErrorPayload](t, f).Code)
		})
	}
}

func TestClient_FetchReturnsRoomLog(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob))
	room := directRoom(t, mem, alice.ID, bob.ID)
	_, err := mem.InsertMessage(ctx, chat.Message{RoomID: room.ID, SenderID: bob.ID, Content: "first", Type: chat.TypeText})
	require.NoError(t, err)

	s, err := newManager(t, mem, time.Minute).Open(ctx, alice)
	require.NoError(t, err)
	c := connect(t, s)
	recvType(t, c, FrameInit)

	c.processInbound(inbound(t, FrameFetch, room.ID, "", nil))

	msgs := decode[[]chat.Message](t, recvType(t, c, FrameMessages))
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
}

func TestSession_KicksOldestClient(t *testing.T) {
	mem := store.NewMemory(store.WithUsers(alice))
	s, err := newManager(t, mem, time.Minute).Open(context.Background(), alice)
	require.NoError(t, err)

	clients := make([]*Client, 0, MaxClientsPerUser+1)
	for range MaxClientsPerUser + 1 {
		clients = append(clients, connect(t, s))
	}

	assert.Eventually(t, func() bool { return isClosed(clients[0]) }, waitFor, 5*time.Millisecond)
	assert.NotEmpty(t, clients[0].closeFrame)
	assert.False(t, isClosed(clients[1]))
	assert.Eventually(t, func() bool { return s.ClientCount() == MaxClientsPerUser }, waitFor, 5*time.Millisecond)
}

func TestManager_OpenReusesRunningSession(t *testing.T) {
	mem := store.NewMemory(store.WithUsers(alice))
	m := newManager(t, mem, time.Minute)

	first, err := m.Open(context.Background(), alice)
	require.NoError(t, err)
	second, err := m.Open(context.Background(), alice)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, m.Len())
	assert.Same(t, first, m.Get(alice.ID))
}

func TestManager_IdleSessionIsRemoved(t *testing.T) {
	mem := store.NewMemory(store.WithUsers(alice))
	m := newManager(t, mem, 200*time.Millisecond)

	s, err := m.Open(context.Background(), alice)
	require.NoError(t, err)
	c := connect(t, s)
	recvType(t, c, FrameInit)

	s.UnregisterClient(c)

	assert.Eventually(t, func() bool { return m.Len() == 0 }, waitFor, 5*time.Millisecond)
	assert.True(t, isClosed(c))
	assert.Nil(t, m.Get(alice.ID))
	assert.Equal(t, 0, mem.Hub().Len())
	assert.False(t, s.RegisterClient(NewClient(s, nil)))
}

func TestManager_OpenFailureLeavesNoSubscription(t *testing.T) {
	mem := store.NewMemory(store.WithUsers(alice))
	m := newManager(t, mem, time.Minute)
	mem.FailNext("ListRoomsForUser", errors.New("database unavailable"))

	s, err := m.Open(context.Background(), alice)

	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, mem.Hub().Len())
}

func TestManager_Shutdown(t *testing.T) {
	mem := store.NewMemory(store.WithUsers(alice))
	m := NewManager(Deps{Store: mem, Rules: rules()})

	s, err := m.Open(context.Background(), alice)
	require.NoError(t, err)
	c := connect(t, s)

	m.Shutdown()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
	}
	assert.True(t, isClosed(c))
	_, err = m.Open(context.Background(), alice)
	assert.ErrorIs(t, err, ErrShutdown)
}

type written struct {
	kind int
	data []byte
}

// fakeConn stands in for a *websocket.Conn. Closing reads makes ReadMessage fail like a
// normal closure.
type fakeConn struct {
	mu     sync.Mutex
	writes []written
	reads  chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 8)}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) Close() error                      { return nil }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.reads
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, written{kind: kind, data: data})
	return nil
}

func (f *fakeConn) snapshot() []written {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]written(nil), f.writes...)
}

func TestClient_Pumps(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob))
	room := directRoom(t, mem, alice.ID, bob.ID)
	s, err := newManager(t, mem, time.Minute).Open(ctx, alice)
	require.NoError(t, err)

	conn := newFakeConn()
	c := NewClient(s, conn)
	writerDone := make(chan struct{})
	go func() {
		c.WritePump()
		close(writerDone)
	}()
	require.True(t, s.RegisterClient(c))

	readerDone := make(chan struct{})
	go func() {
		c.ReadPump()
		close(readerDone)
	}()

	conn.reads <- inbound(t, FrameSend, room.ID, "tmp-9", SendPayload{Content: "ping"})

	assert.Eventually(t, func() bool {
		for _, w := range conn.snapshot() {
			var f Frame
			if w.kind == websocket.TextMessage && json.Unmarshal(w.data, &f) == nil && f.Type == FrameAck {
				return f.TempID == "tmp-9"
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)

	close(conn.reads)

	for _, done := range []chan struct{}{readerDone, writerDone} {
		select {
		case <-done:
		case <-time.After(waitFor):
			t.Fatal("pump did not stop")
		}
	}
	writes := conn.snapshot()
	assert.Equal(t, websocket.CloseMessage, writes[len(writes)-1].kind)
	assert.Equal(t, 0, s.ClientCount())
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(FrameUnread, "r1", nil)
	require.NoError(t, err)
	assert.Nil(t, f.Payload)
	assert.NotZero(t, f.Timestamp)

	f, err = NewFrame(FrameError, "", ErrorPayload{Code: 2105, Message: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":2105,"message":"x"}`, string(f.Payload))
}

func TestClient_CloseStopsWritePumpWithNormalClosure(t *testing.T) {
	mem := store.NewMemory(store.WithUsers(alice))
	s, err := newManager(t, mem, time.Minute).Open(context.Background(), alice)
	require.NoError(t, err)

	conn := newFakeConn()
	c := NewClient(s, conn)
	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	c.Close()
	c.Close()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("write pump did not stop")
	}

	writes := conn.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, websocket.CloseMessage, writes[0].kind)
	assert.Equal(t, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), writes[0].data)
}

func TestManager_ResyncRecoversMessagesMissedDuringGap(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob))
	room := directRoom(t, mem, alice.ID, bob.ID)
	m := newManager(t, mem, time.Minute)

	s, err := m.Open(ctx, alice)
	require.NoError(t, err)
	c := connect(t, s)
	require.Equal(t, FrameInit, recv(t, c).Type)

	// The feed event arrives but the message cannot be loaded, as if the listener was down.
	mem.FailNext("GetMessage", errors.New("connection reset"))
	missed, err := mem.InsertMessage(ctx, chat.Message{RoomID: room.ID, SenderID: bob.ID, Content: "missed", Type: chat.TypeText})
	require.NoError(t, err)
	require.Empty(t, s.Engine().Messages(room.ID))

	mem.Hub().Publish(feed.ResyncEvent())

	f := recvType(t, c, FrameMessages)
	assert.Equal(t, room.ID, f.RoomID)
	msgs := decode[[]chat.Message](t, f)
	require.Len(t, msgs, 1)
	assert.Equal(t, missed.ID, msgs[0].ID)

	init := decode[InitPayload](t, recvType(t, c, FrameInit))
	assert.Equal(t, 1, init.TotalUnread)
	assert.Equal(t, 1, s.Engine().UnreadCount(room.ID))
}

func TestSession_ResyncFollowsRoomsJoinedDuringGap(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(store.WithUsers(alice, bob))
	m := newManager(t, mem, time.Minute)

	s, err := m.Open(ctx, alice)
	require.NoError(t, err)
	c := connect(t, s)
	require.Equal(t, FrameInit, recv(t, c).Type)

	// Insert the room behind the session's back: no participant event reaches it.
	s.mu.Lock()
	s.membership.Unsubscribe()
	s.mu.Unlock()
	room := directRoom(t, mem, alice.ID, bob.ID)
	require.False(t, s.Following(room.ID))

	s.Resync(ctx)

	assert.True(t, s.Following(room.ID))
	f := recvType(t, c, FrameMessages)
	assert.Equal(t, room.ID, f.RoomID)
	init := decode[InitPayload](t, recvType(t, c, FrameInit))
	require.Len(t, init.Rooms, 1)
	assert.Equal(t, room.ID, init.Rooms[0].Room.ID)
}
