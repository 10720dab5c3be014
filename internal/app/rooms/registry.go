/*
Package rooms persists and queries chat rooms.

Find-or-create operations rely on the unique constraints of the backing store: a losing
concurrent creator receives store.ErrConflict and re-reads the winner's room, so no lock is
ever held across store calls.
*/
package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/store"
	"trainchat/internal/pkg/logx"
)

type Registry struct {
	store  store.Rooms
	now    func() time.Time
	logger zerolog.Logger
}

func NewRegistry(s store.Rooms) *Registry {
	return &Registry{
		store:  s,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logx.Component("RoomRegistry"),
	}
}

// FindDirectRoom returns the live Direct room between a and b, or nil if none exists.
func (r *Registry) FindDirectRoom(ctx context.Context, a, b string) (*chat.Room, error) {
	room, err := r.store.FindDirectRoom(ctx, a, b)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom validates p and stores the room with all its participants atomically.
// Broken invariants are reported as *chat.ValidationError before the store is touched.
func (r *Registry) CreateRoom(ctx context.Context, p chat.NewRoomParams) (*chat.Room, error) {
	room, err := chat.NewRoom(p)
	if err != nil {
		return nil, err
	}

	stored, err := r.store.InsertRoom(ctx, room)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("room_id", stored.ID).
		Stringer("kind", stored.Kind).
		Stringer("category", stored.Category).
		Int("participants", len(stored.ParticipantIDs)).
		Msg("Room created.")

	return &stored, nil
}

// GetRoom returns the room by id, archived or not.
func (r *Registry) GetRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRoomsForUser returns the live rooms userID participates in, most recent activity first.
func (r *Registry) ListRoomsForUser(ctx context.Context, userID string) ([]chat.Room, error) {
	return r.store.ListRoomsForUser(ctx, userID)
}

// ArchiveRoom soft-deletes the room. Messages are kept. Archiving twice is a no-op.
func (r *Registry) ArchiveRoom(ctx context.Context, roomID string) error {
	if err := r.store.ArchiveRoom(ctx, roomID, r.now()); err != nil {
		return err
	}
	r.logger.Info().Str("room_id", roomID).Msg("Room archived.")
	return nil
}

// Touch records activity on the room.
func (r *Registry) Touch(ctx context.Context, roomID string) error {
	return r.store.TouchRoom(ctx, roomID, r.now())
}

// AddParticipant adds userID to a group room. Re-adding is a no-op.
func (r *Registry) AddParticipant(ctx context.Context, roomID, userID string) error {
	return r.store.AddParticipant(ctx, roomID, userID)
}

// FindOrCreateDirectRoom returns the live Direct room between a and b, creating it with the
// given category if none exists. created reports whether this call created it.
func (r *Registry) FindOrCreateDirectRoom(ctx context.Context, a, b string, category chat.Category, createdBy string) (room *chat.Room, created bool, err error) {
	if room, err = r.FindDirectRoom(ctx, a, b); err != nil || room != nil {
		return room, false, err
	}

	room, err = r.CreateRoom(ctx, chat.NewRoomParams{
		Kind:           chat.KindDirect,
		Category:       category,
		ParticipantIDs: []string{a, b},
		AutoCreated:    category == chat.CategoryAutoDirect,
		CreatedBy:      createdBy,
	})
	if errors.Is(err, store.ErrConflict) {
		r.logger.Debug().Str("a", a).Str("b", b).Msg("Direct room created concurrently, reusing it.")
		return r.refind(func() (chat.Room, error) { return r.store.FindDirectRoom(ctx, a, b) })
	}
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// GroupParams describes the auto-created group of a category.
type GroupParams struct {
	Name       string
	Category   chat.Category
	IsReadOnly bool
	CreatedBy  string
}

// FindOrCreateGroupRoom returns the live auto-created group of the category, creating it with
// memberID as first participant if none exists. An existing group is returned unchanged;
// callers add memberID with AddParticipant. Once a group is archived the next call starts a
// new one; members of the archived group join it when their own setup runs.
func (r *Registry) FindOrCreateGroupRoom(ctx context.Context, p GroupParams, memberID string) (room *chat.Room, created bool, err error) {
	existing, err := r.store.FindGroupRoom(ctx, p.Category)
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	room, err = r.CreateRoom(ctx, chat.NewRoomParams{
		Name:           p.Name,
		Kind:           chat.KindGroup,
		Category:       p.Category,
		ParticipantIDs: []string{memberID},
		IsReadOnly:     p.IsReadOnly,
		AutoCreated:    true,
		CreatedBy:      p.CreatedBy,
	})
	if errors.Is(err, store.ErrConflict) {
		r.logger.Debug().Stringer("category", p.Category).Msg("Group created concurrently, reusing it.")
		return r.refind(func() (chat.Room, error) { return r.store.FindGroupRoom(ctx, p.Category) })
	}
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

func (r *Registry) refind(find func() (chat.Room, error)) (*chat.Room, bool, error) {
	room, err := find()
	if err != nil {
		// The winner was archived between the conflict and the re-read.
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, store.ErrConflict
		}
		return nil, false, err
	}
	return &room, false, nil
}
