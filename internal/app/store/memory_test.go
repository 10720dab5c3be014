package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/feed"
	"trainchat/internal/app/user"
)

func directRoom(a, b string) chat.Room {
	return chat.Room{Kind: chat.KindDirect, Category: chat.CategoryAutoDirect, ParticipantIDs: []string{a, b}, AutoCreated: true}
}

func stepClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	}
}

func TestMemory_DirectRoomUniquePerPair(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	room, err := m.InsertRoom(ctx, directRoom("a", "b"))
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.False(t, room.CreatedAt.IsZero())

	_, err = m.InsertRoom(ctx, directRoom("b", "a"))
	assert.ErrorIs(t, err, ErrConflict)

	found, err := m.FindDirectRoom(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, room.ID, found.ID)

	_, err = m.FindDirectRoom(ctx, "a", "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ArchiveReleasesUniqueKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	room, err := m.InsertRoom(ctx, directRoom("a", "b"))
	require.NoError(t, err)
	require.NoError(t, m.ArchiveRoom(ctx, room.ID, time.Now()))
	require.NoError(t, m.ArchiveRoom(ctx, room.ID, time.Now()))

	_, err = m.FindDirectRoom(ctx, "a", "b")
	assert.ErrorIs(t, err, ErrNotFound)

	rooms, err := m.ListRoomsForUser(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	_, err = m.InsertRoom(ctx, directRoom("a", "b"))
	assert.NoError(t, err)
}

func TestMemory_AutoCreatedGroupUniquePerCategory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	group := chat.Room{Kind: chat.KindGroup, Category: chat.CategoryCoordination, ParticipantIDs: []string{"a"}, AutoCreated: true}
	_, err := m.InsertRoom(ctx, group)
	require.NoError(t, err)

	_, err = m.InsertRoom(ctx, group)
	assert.ErrorIs(t, err, ErrConflict)

	group.AutoCreated = false
	_, err = m.InsertRoom(ctx, group)
	assert.NoError(t, err)
}

func TestMemory_AddParticipant(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	room, err := m.InsertRoom(ctx, chat.Room{Kind: chat.KindGroup, Category: chat.CategoryTrainingTeam, ParticipantIDs: []string{"a"}})
	require.NoError(t, err)

	var events []feed.Event
	m.Subscribe(feed.Filter{Table: feed.TableParticipants, Column: "user_id", Value: "b"}, func(e feed.Event) {
		events = append(events, e)
	})

	require.NoError(t, m.AddParticipant(ctx, room.ID, "b"))
	require.NoError(t, m.AddParticipant(ctx, room.ID, "b"))

	stored, err := m.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stored.ParticipantIDs)
	assert.Len(t, events, 1)

	direct, err := m.InsertRoom(ctx, directRoom("a", "b"))
	require.NoError(t, err)
	err = m.AddParticipant(ctx, direct.ID, "c")
	var storeErr *Error
	assert.ErrorAs(t, err, &storeErr)
}

func TestMemory_ListRoomsForUserOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(stepClock(base)))

	first, err := m.InsertRoom(ctx, directRoom("a", "b"))
	require.NoError(t, err)
	second, err := m.InsertRoom(ctx, directRoom("a", "c"))
	require.NoError(t, err)
	_, err = m.InsertRoom(ctx, directRoom("b", "c"))
	require.NoError(t, err)

	require.NoError(t, m.TouchRoom(ctx, first.ID, base.Add(time.Minute)))

	rooms, err := m.ListRoomsForUser(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, first.ID, rooms[0].ID)
	assert.Equal(t, second.ID, rooms[1].ID)
}

func TestMemory_Messages(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemory(
		WithClock(stepClock(base, base.Add(3*time.Second), base.Add(time.Second), base.Add(2*time.Second))),
		WithUsers(user.User{ID: "a", DisplayName: "Amina", Role: user.RoleSupervisor}),
	)

	room, err := m.InsertRoom(ctx, directRoom("a", "b"))
	require.NoError(t, err)

	var inserted []string
	m.Subscribe(feed.Filter{Table: feed.TableMessages, Op: feed.OpInsert, Column: "chat_room_id", Value: room.ID}, func(e feed.Event) {
		inserted = append(inserted, e.ID)
	})

	var sent []chat.Message
	for _, content := range []string{"third", "first", "second"} {
		msg, err := m.InsertMessage(ctx, chat.Message{RoomID: room.ID, SenderID: "a", Content: content, Type: chat.TypeText})
		require.NoError(t, err)
		assert.Equal(t, "Amina", msg.SenderName)
		sent = append(sent, msg)
	}
	assert.Equal(t, []string{sent[0].ID, sent[1].ID, sent[2].ID}, inserted)

	list, err := m.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{list[0].Content, list[1].Content, list[2].Content})

	n, err := m.MarkRead(ctx, room.ID, "a")
	require.NoError(t, err)
	assert.Zero(t, n, "own messages are never unread")

	n, err = m.MarkRead(ctx, room.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := m.GetMessage(ctx, sent[0].ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)

	_, err = m.InsertMessage(ctx, chat.Message{RoomID: "missing", SenderID: "a", Content: "x", Type: chat.TypeText})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Requests(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	req, err := m.InsertRequest(ctx, chat.Request{RequesterID: "pm", TargetUserID: "t", Status: chat.RequestPending})
	require.NoError(t, err)

	_, err = m.InsertRequest(ctx, chat.Request{RequesterID: "pm", TargetUserID: "t", Status: chat.RequestPending})
	assert.ErrorIs(t, err, ErrConflict)

	found, err := m.FindPendingRequest(ctx, "pm", "t")
	require.NoError(t, err)
	assert.Equal(t, req.ID, found.ID)

	pending, err := m.ListPendingRequests(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	resolved, err := m.ResolveRequest(ctx, chat.Request{ID: req.ID, Status: chat.RequestDenied, ResolvedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, chat.RequestDenied, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = m.ResolveRequest(ctx, chat.Request{ID: req.ID, Status: chat.RequestApproved})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = m.FindPendingRequest(ctx, "pm", "t")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_FailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.FailNext("InsertRoom", errors.New("connection reset"))

	_, err := m.InsertRoom(ctx, directRoom("a", "b"))
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "InsertRoom", storeErr.Op)

	_, err = m.InsertRoom(ctx, directRoom("a", "b"))
	assert.NoError(t, err)
}

func TestMemory_DirectoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithUsers(
		user.User{ID: "t2", Role: user.RoleTrainer, Specializations: []string{"first-aid"}},
		user.User{ID: "t1", Role: user.RoleTrainer},
		user.User{ID: "s1", Role: user.RoleSupervisor},
	))

	trainers, err := m.ListUsersByRole(ctx, user.RoleTrainer)
	require.NoError(t, err)
	require.Len(t, trainers, 2)
	assert.Equal(t, "t1", trainers[0].ID)

	u, err := m.GetUser(ctx, "t2")
	require.NoError(t, err)
	u.Specializations[0] = "changed"

	again, err := m.GetUser(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, []string{"first-aid"}, again.Specializations)

	_, err = m.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("op", nil))
	assert.Same(t, ErrNotFound, Wrap("op", ErrNotFound))

	err := Wrap("GetRoom", errors.New("timeout"))
	assert.EqualError(t, err, "store: GetRoom: timeout")
	assert.Same(t, err, Wrap("other", err))
}

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(`
users:
  - id: u1
    displayName: Amina
    role: supervisor
    specializations: [first-aid]
  - id: u2
    displayName: Jonas
    role: trainer
`))
	require.NoError(t, err)
	require.Len(t, seed.Users, 2)
	assert.Equal(t, user.RoleSupervisor, seed.Users[0].Role)
	assert.Equal(t, []string{"first-aid"}, seed.Users[0].Specializations)

	_, err = ParseSeed([]byte("users:\n  - id: u1\n    role: \"*\"\n"))
	assert.Error(t, err)

	_, err = ParseSeed([]byte("users:\n  - id: u1\n    role: admin\n  - id: u1\n    role: admin\n"))
	assert.Error(t, err)
}
