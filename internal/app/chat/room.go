/*
Package chat contains the core data model of the chat subsystem: rooms, messages and
approval requests, together with the structural invariants every component relies on.

This file defines the Room struct and its constructor, which enforces the participant
invariants (no duplicates, Direct rooms have exactly two distinct participants).
*/
package chat

import (
	"fmt"
	"slices"
	"time"
)

// RoomKind distinguishes two-participant conversations from category groups.
type RoomKind uint8

const (
	KindDirect RoomKind = iota + 1
	KindGroup
)

func (k RoomKind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindGroup:
		return "group"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseRoomKind converts the stored text form of a room kind.
func ParseRoomKind(s string) (RoomKind, error) {
	switch s {
	case "direct":
		return KindDirect, nil
	case "group":
		return KindGroup, nil
	}
	return 0, fmt.Errorf("unknown room kind %q", s)
}

func (k RoomKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RoomKind) UnmarshalText(text []byte) error {
	kind, err := ParseRoomKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Room represents a conversation a set of users participates in.
type Room struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Kind RoomKind `json:"kind"`

	// Category is the static group category, or one of the direct categories.
	Category Category `json:"chatCategory"`

	// ParticipantIDs is a duplicate-free set of user ids, kept in insertion order.
	ParticipantIDs []string `json:"participantIds"`

	IsReadOnly  bool   `json:"isReadOnly"`
	AutoCreated bool   `json:"autoCreated"`
	CreatedBy   string `json:"createdBy"`

	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is bumped on every message send and orders room lists.
	UpdatedAt time.Time `json:"updatedAt"`

	// ArchivedAt is set when the room is soft-deleted.
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

// NewRoomParams carries the caller-supplied fields of a room about to be created.
type NewRoomParams struct {
	Name           string
	Kind           RoomKind
	Category       Category
	ParticipantIDs []string
	IsReadOnly     bool
	AutoCreated    bool
	CreatedBy      string
}

// NewRoom validates p and returns an unsaved Room. Participant ids are de-duplicated
// (first occurrence wins). A Direct room must end up with exactly two distinct participants.
func NewRoom(p NewRoomParams) (Room, error) {
	if p.Kind != KindDirect && p.Kind != KindGroup {
		return Room{}, &ValidationError{Field: "kind", Reason: "must be direct or group"}
	}
	if !p.Category.IsValid() {
		return Room{}, &ValidationError{Field: "chatCategory", Reason: "unknown category"}
	}

	participants := make([]string, 0, len(p.ParticipantIDs))
	for _, id := range p.ParticipantIDs {
		if id == "" {
			return Room{}, &ValidationError{Field: "participantIds", Reason: "empty participant id"}
		}
		if !slices.Contains(participants, id) {
			participants = append(participants, id)
		}
	}

	switch p.Kind {
	case KindDirect:
		if len(participants) != 2 || len(p.ParticipantIDs) != 2 {
			return Room{}, &ValidationError{
				Field:  "participantIds",
				Reason: fmt.Sprintf("direct room needs exactly two distinct participants, got %d", len(p.ParticipantIDs)),
			}
		}
		if !p.Category.IsDirect() {
			return Room{}, &ValidationError{Field: "chatCategory", Reason: "direct room needs a direct category"}
		}
	case KindGroup:
		if len(participants) == 0 {
			return Room{}, &ValidationError{Field: "participantIds", Reason: "group room needs at least one participant"}
		}
		if p.Category.IsDirect() {
			return Room{}, &ValidationError{Field: "chatCategory", Reason: "group room needs a group category"}
		}
	}

	return Room{
		Name:           p.Name,
		Kind:           p.Kind,
		Category:       p.Category,
		ParticipantIDs: participants,
		IsReadOnly:     p.IsReadOnly,
		AutoCreated:    p.AutoCreated,
		CreatedBy:      p.CreatedBy,
	}, nil
}

// HasParticipant reports whether userID is a member of the room.
func (r Room) HasParticipant(userID string) bool {
	return slices.Contains(r.ParticipantIDs, userID)
}

// IsArchived reports whether the room has been soft-deleted.
func (r Room) IsArchived() bool {
	return r.ArchivedAt != nil
}

// IsDirectBetween reports whether r is a Direct room whose participants are exactly {a, b}.
func (r Room) IsDirectBetween(a, b string) bool {
	if r.Kind != KindDirect || len(r.ParticipantIDs) != 2 || a == b {
		return false
	}
	return r.HasParticipant(a) && r.HasParticipant(b)
}

// OtherParticipants returns every participant except userID.
func (r Room) OtherParticipants(userID string) []string {
	others := make([]string, 0, len(r.ParticipantIDs))
	for _, id := range r.ParticipantIDs {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// DirectKey returns the order-independent key identifying the direct pair {a, b}.
// Stores use it as the unique constraint behind find-or-create.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
