package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/feed"
	"trainchat/internal/app/store"
	"trainchat/internal/app/user"
)

// Store is the PostgreSQL implementation of store.Store. Change events arrive through a
// Listener publishing into the same hub.
type Store struct {
	pool *pgxpool.Pool
	hub  *feed.Hub
}

var _ store.Store = (*Store)(nil)

// NewStore returns a Store over pool whose Subscribe reads from hub.
func NewStore(pool *pgxpool.Pool, hub *feed.Hub) *Store {
	return &Store{pool: pool, hub: hub}
}

func (s *Store) Subscribe(filter feed.Filter, handler feed.Handler) *feed.Subscription {
	return s.hub.Subscribe(filter, handler)
}

const userColumns = `id, display_name, role, specializations`

func scanUser(row pgx.Row) (user.User, error) {
	var (
		u    user.User
		role string
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &role, &u.Specializations); err != nil {
		return user.User{}, err
	}
	parsed, err := user.ParseRole(role)
	if err != nil {
		return user.User{}, err
	}
	u.Role = parsed
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, mapError("GetUser", err)
}

func (s *Store) ListUsersByRole(ctx context.Context, role user.Role) ([]user.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY id`, role.String())
	if err != nil {
		return nil, mapError("ListUsersByRole", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (user.User, error) {
		return scanUser(row)
	})
	return users, mapError("ListUsersByRole", err)
}

// UpsertUser writes a directory record. Used to load a directory seed.
func (s *Store) UpsertUser(ctx context.Context, u user.User) error {
	specs := u.Specializations
	if specs == nil {
		specs = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, display_name, role, specializations)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    role = EXCLUDED.role,
		    specializations = EXCLUDED.specializations`,
		u.ID, u.DisplayName, u.Role.String(), specs)
	return mapError("UpsertUser", err)
}

const roomColumns = `r.id, r.name, r.kind, r.chat_category, r.is_read_only, r.auto_created, r.created_by,
	r.created_at, r.updated_at, r.archived_at,
	ARRAY(SELECT p.user_id FROM chat_room_participants p WHERE p.chat_room_id = r.id ORDER BY p.seq)`

func scanRoom(row pgx.Row) (chat.Room, error) {
	var (
		room     chat.Room
		kind     string
		category string
	)
	err := row.Scan(&room.ID, &room.Name, &kind, &category, &room.IsReadOnly, &room.AutoCreated, &room.CreatedBy,
		&room.CreatedAt, &room.UpdatedAt, &room.ArchivedAt, &room.ParticipantIDs)
	if err != nil {
		return chat.Room{}, err
	}
	if room.Kind, err = chat.ParseRoomKind(kind); err != nil {
		return chat.Room{}, err
	}
	if room.Category, err = chat.ParseCategory(category); err != nil {
		return chat.Room{}, err
	}
	return room, nil
}

func collectRooms(rows pgx.Rows) ([]chat.Room, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Room, error) {
		return scanRoom(row)
	})
}

func (s *Store) InsertRoom(ctx context.Context, room chat.Room) (chat.Room, error) {
	var directKey *string
	if room.Kind == chat.KindDirect {
		if len(room.ParticipantIDs) != 2 {
			return chat.Room{}, &store.Error{Op: "InsertRoom", Err: fmt.Errorf("direct room with %d participants", len(room.ParticipantIDs))}
		}
		key := chat.DirectKey(room.ParticipantIDs[0], room.ParticipantIDs[1])
		directKey = &key
	}

	var stored chat.Room
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		stored = room
		stored.ArchivedAt = nil
		err := tx.QueryRow(ctx, `
			INSERT INTO chat_rooms (name, kind, chat_category, direct_key, is_read_only, auto_created, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at`,
			room.Name, room.Kind.String(), room.Category.String(), directKey, room.IsReadOnly, room.AutoCreated, room.CreatedBy,
		).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
		if err != nil {
			return err
		}

		for _, userID := range room.ParticipantIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_room_participants (chat_room_id, user_id) VALUES ($1, $2)`,
				stored.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return chat.Room{}, mapError("InsertRoom", err)
	}
	return stored, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (chat.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_rooms r WHERE r.id = $1`, roomID))
	return room, mapError("GetRoom", err)
}

func (s *Store) FindDirectRoom(ctx context.Context, a, b string) (chat.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM chat_rooms r WHERE r.direct_key = $1 AND r.archived_at IS NULL`,
		chat.DirectKey(a, b)))
	return room, mapError("FindDirectRoom", err)
}

func (s *Store) FindGroupRoom(ctx context.Context, category chat.Category) (chat.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM chat_rooms r
		WHERE r.chat_category = $1 AND r.kind = 'group' AND r.auto_created AND r.archived_at IS NULL`,
		category.String()))
	return room, mapError("FindGroupRoom", err)
}

func (s *Store) AddParticipant(ctx context.Context, roomID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chat_room_participants (chat_room_id, user_id)
		SELECT r.id, $2 FROM chat_rooms r WHERE r.id = $1 AND r.kind = 'group'
		ON CONFLICT (chat_room_id, user_id) DO NOTHING`,
		roomID, userID)
	if err != nil {
		return mapError("AddParticipant", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HasParticipant(userID) {
		return nil
	}
	return &store.Error{Op: "AddParticipant", Err: fmt.Errorf("direct room %s is closed to new participants", roomID)}
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]chat.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM chat_rooms r
		JOIN chat_room_participants me ON me.chat_room_id = r.id AND me.user_id = $1
		WHERE r.archived_at IS NULL
		ORDER BY r.updated_at DESC, r.id`,
		userID)
	if err != nil {
		return nil, mapError("ListRoomsForUser", err)
	}
	rooms, err := collectRooms(rows)
	return rooms, mapError("ListRoomsForUser", err)
}

func (s *Store) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chat_rooms SET updated_at = $2 WHERE id = $1`, roomID, at)
	if err != nil {
		return mapError("TouchRoom", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ArchiveRoom(ctx context.Context, roomID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_rooms SET archived_at = $2 WHERE id = $1 AND archived_at IS NULL`,
		roomID, at)
	if err != nil {
		return mapError("ArchiveRoom", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	_, err = s.GetRoom(ctx, roomID)
	return err
}

const messageColumns = `m.id, m.chat_room_id, m.sender_id, COALESCE(u.display_name, ''), m.content, m.message_type, m.created_at, m.is_read`

func scanMessage(row pgx.Row) (chat.Message, error) {
	var (
		msg      chat.Message
		typeName string
	)
	err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.Content, &typeName, &msg.CreatedAt, &msg.IsRead)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.Type, err = chat.ParseMessageType(typeName); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	stored, err := scanMessage(s.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO chat_messages (chat_room_id, sender_id, content, message_type)
			SELECT r.id, $2, $3, $4 FROM chat_rooms r WHERE r.id = $1
			RETURNING *
		)
		SELECT `+messageColumns+` FROM m LEFT JOIN users u ON u.id = m.sender_id`,
		msg.RoomID, msg.SenderID, msg.Content, msg.Type.String()))
	return stored, mapError("InsertMessage", err)
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (chat.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM chat_messages m LEFT JOIN users u ON u.id = m.sender_id WHERE m.id = $1`,
		messageID))
	return msg, mapError("GetMessage", err)
}

func (s *Store) ListMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM chat_messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.chat_room_id = $1
		ORDER BY m.created_at, m.id`,
		roomID)
	if err != nil {
		return nil, mapError("ListMessages", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		return scanMessage(row)
	})
	return msgs, mapError("ListMessages", err)
}

func (s *Store) MarkRead(ctx context.Context, roomID, readerID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET is_read = true
		WHERE chat_room_id = $1 AND sender_id <> $2 AND NOT is_read`,
		roomID, readerID)
	if err != nil {
		return 0, mapError("MarkRead", err)
	}
	return int(tag.RowsAffected()), nil
}

const requestColumns = `id, requester_id, target_user_id, reason, status, created_at,
	COALESCE(resolved_by, ''), resolved_at, COALESCE(chat_room_id, '')`

func scanRequest(row pgx.Row) (chat.Request, error) {
	var (
		req    chat.Request
		status string
	)
	err := row.Scan(&req.ID, &req.RequesterID, &req.TargetUserID, &req.Reason, &status, &req.CreatedAt,
		&req.ResolvedBy, &req.ResolvedAt, &req.RoomID)
	if err != nil {
		return chat.Request{}, err
	}
	if req.Status, err = chat.ParseRequestStatus(status); err != nil {
		return chat.Request{}, err
	}
	return req, nil
}

func (s *Store) InsertRequest(ctx context.Context, req chat.Request) (chat.Request, error) {
	stored, err := scanRequest(s.pool.QueryRow(ctx, `
		INSERT INTO chat_requests (requester_id, target_user_id, reason, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+requestColumns,
		req.RequesterID, req.TargetUserID, req.Reason, req.Status.String()))
	return stored, mapError("InsertRequest", err)
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (chat.Request, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM chat_requests WHERE id = $1`, requestID))
	return req, mapError("GetRequest", err)
}

func (s *Store) FindPendingRequest(ctx context.Context, requesterID, targetID string) (chat.Request, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM chat_requests
		WHERE requester_id = $1 AND target_user_id = $2 AND status = 'pending'`,
		requesterID, targetID))
	return req, mapError("FindPendingRequest", err)
}

func (s *Store) ListPendingRequests(ctx context.Context) ([]chat.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM chat_requests WHERE status = 'pending' ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError("ListPendingRequests", err)
	}
	reqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Request, error) {
		return scanRequest(row)
	})
	return reqs, mapError("ListPendingRequests", err)
}

func (s *Store) ResolveRequest(ctx context.Context, req chat.Request) (chat.Request, error) {
	resolvedAt := time.Now().UTC()
	if req.ResolvedAt != nil {
		resolvedAt = *req.ResolvedAt
	}
	var roomID *string
	if req.RoomID != "" {
		roomID = &req.RoomID
	}

	stored, err := scanRequest(s.pool.QueryRow(ctx, `
		UPDATE chat_requests
		SET status = $2, resolved_by = $3, resolved_at = $4, chat_room_id = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns,
		req.ID, req.Status.String(), req.ResolvedBy, resolvedAt, roomID))
	if err == nil {
		return stored, nil
	}
	if mapped := mapError("ResolveRequest", err); !errors.Is(mapped, store.ErrNotFound) {
		return chat.Request{}, mapped
	}

	if _, err := s.GetRequest(ctx, req.ID); err != nil {
		return chat.Request{}, err
	}
	return chat.Request{}, store.ErrConflict
}

func (s *Store) InsertNotification(ctx context.Context, n store.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_notifications (user_id, type, title, content, chat_room_id, request_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`,
		n.UserID, n.Type, n.Title, n.Content, n.RoomID, n.RequestID)
	return mapError("InsertNotification", err)
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
