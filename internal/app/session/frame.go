package session

import (
	"encoding/json"
	"time"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/user"
)

// FrameType identifies a WebSocket frame.
type FrameType string

// Inbound frames.
const (
	FrameSend  FrameType = "send"
	FrameRead  FrameType = "read"
	FrameFetch FrameType = "fetch"
)

// Outbound frames.
const (
	FrameInit      FrameType = "init"
	FrameRoom      FrameType = "room"
	FrameMessage   FrameType = "message"
	FrameReadState FrameType = "read_state"
	FrameMessages  FrameType = "messages"
	FrameUnread    FrameType = "unread"
	FrameAck       FrameType = "ack"
	FrameError     FrameType = "error"
)

// Frame is the envelope of every WebSocket message in both directions.
type Frame struct {
	Type      FrameType       `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	TempID    string          `json:"tempId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewFrame builds an outbound frame with payload marshalled to JSON.
func NewFrame(t FrameType, roomID string, payload any) (Frame, error) {
	f := Frame{Type: t, RoomID: roomID, Timestamp: time.Now().UnixMilli()}
	if payload == nil {
		return f, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = raw
	return f, nil
}

// SendPayload is the payload of an inbound "send" frame. Type defaults to text.
type SendPayload struct {
	Content string           `json:"content"`
	Type    chat.MessageType `json:"type,omitempty"`
}

// InitPayload is sent to every newly registered client.
type InitPayload struct {
	User        user.User     `json:"user"`
	Rooms       []RoomSummary `json:"rooms"`
	TotalUnread int           `json:"totalUnread"`
}

// RoomSummary pairs a room with the user's unread count in it.
type RoomSummary struct {
	Room   chat.Room `json:"room"`
	Unread int       `json:"unread"`
}

// UnreadPayload answers a "read" frame.
type UnreadPayload struct {
	Marked      int `json:"marked"`
	Unread      int `json:"unread"`
	TotalUnread int `json:"totalUnread"`
}

// AckPayload confirms a "send" frame with the stored message.
type AckPayload struct {
	MessageID string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorPayload carries a business error code from package errs.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
