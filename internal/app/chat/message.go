package chat

import (
	"fmt"
	"time"
)

// MessageType describes the payload carried by a message.
type MessageType uint8

const (
	TypeText MessageType = iota + 1
	TypeImage
	TypeFile
	TypeVoice
)

var messageTypeNames = map[MessageType]string{
	TypeText:  "text",
	TypeImage: "image",
	TypeFile:  "file",
	TypeVoice: "voice",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// IsValid reports whether t is a declared message type.
func (t MessageType) IsValid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// IsAttachment reports whether the content of a message of this type is an object storage key.
func (t MessageType) IsAttachment() bool {
	return t == TypeImage || t == TypeFile || t == TypeVoice
}

// ParseMessageType converts the stored text form of a message type.
func ParseMessageType(s string) (MessageType, error) {
	for t, name := range messageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", s)
}

func (t MessageType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *MessageType) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Message is a single chat message. It is immutable once stored, except for IsRead.
type Message struct {
	// ID is assigned by the backing store and is globally unique.
	ID     string `json:"id"`
	RoomID string `json:"roomId"`

	SenderID string `json:"senderId"`

	// SenderName is denormalised from the directory when the message is fetched.
	SenderName string `json:"senderName,omitempty"`

	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
	IsRead    bool        `json:"isRead"`
}

// Less reports whether a sorts before b: by CreatedAt, then by ID.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Compare is the three-way form of Less, for use with slices.SortFunc.
func Compare(a, b Message) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}

// IsUnreadFor reports whether the message counts as unread for userID.
func (m Message) IsUnreadFor(userID string) bool {
	return m.SenderID != userID && !m.IsRead
}
