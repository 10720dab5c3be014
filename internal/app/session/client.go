/*
Package session serves the live side of the chat.

This file defines the Client struct, representing one WebSocket connection of a session's
user. It runs the read and write pumps and turns inbound frames into message sync engine
calls.
*/
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trainchat/internal/app/apperr"
	"trainchat/internal/app/chat"
	"trainchat/internal/app/storage"
	"trainchat/internal/pkg/errs"
	"trainchat/internal/pkg/logx"
	"trainchat/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 32 << 10

	// deadline of the store calls made on behalf of one inbound frame.
	frameTimeout = 10 * time.Second

	sendBuffer = 256

	// WsCloseCodeSessionKicked is a custom WebSocket Close Code (4000-4999 range)
	// telling the client its connection was closed in favour of a newer one.
	WsCloseCodeSessionKicked = 4001
)

var errSendQueueFull = errors.New("client send queue full")

// Conn is the part of *websocket.Conn the pumps use.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client struct represents an active WebSocket connection of a session's user.
type Client struct {
	id      string
	session *Session
	conn    Conn

	// a buffered channel used to queue frames waiting to be written.
	send chan []byte

	// mu guards closed and closeFrame against enqueue racing closeSend.
	mu         sync.Mutex
	closed     bool
	closeFrame []byte

	logger zerolog.Logger
}

// NewClient constructs a Client for conn. It must be registered with the session and its
// pumps started by the caller.
func NewClient(s *Session, conn Conn) *Client {
	id := randx.ID()
	return &Client{
		id:      id,
		session: s,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		logger: logx.Component("Client").With().
			Str("user_id", s.user.ID).
			Str("conn_id", id).
			Logger(),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// ReadPump reads frames until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInbound(data)
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.session.UnregisterClient(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

func (c *Client) processInbound(data []byte) {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	switch in.Type {
	case FrameSend:
		c.handleSend(ctx, in)
	case FrameRead:
		c.handleRead(ctx, in)
	case FrameFetch:
		c.handleFetch(ctx, in)
	default:
		c.logger.Warn().Str("frame_type", string(in.Type)).Msg("Client sent unsupported frame type")
	}
}

func (c *Client) handleSend(ctx context.Context, in Frame) {
	var p SendPayload
	if err := json.Unmarshal(in.Payload, &p); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid send payload")
		c.SendError(in.TempID, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}
	if p.Type == 0 {
		p.Type = chat.TypeText
	}
	if custErr := storage.CheckAttachmentContent(in.RoomID, p.Content, p.Type); custErr != nil {
		c.SendError(in.TempID, custErr)
		return
	}

	msg, err := c.session.engine.SendMessage(ctx, in.RoomID, p.Content, p.Type)
	if err != nil {
		c.SendError(in.TempID, err)
		return
	}

	c.sendConfirmation(in.TempID, msg)
}

func (c *Client) handleRead(ctx context.Context, in Frame) {
	engine := c.session.engine

	n, err := engine.MarkAsRead(ctx, in.RoomID)
	if err != nil {
		c.SendError(in.TempID, err)
		return
	}

	err = c.sendFrame(FrameUnread, in.RoomID, UnreadPayload{
		Marked:      n,
		Unread:      engine.UnreadCount(in.RoomID),
		TotalUnread: engine.TotalUnreadCount(),
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue unread frame")
	}
}

func (c *Client) handleFetch(ctx context.Context, in Frame) {
	msgs, err := c.session.engine.FetchMessages(ctx, in.RoomID)
	if err != nil {
		c.SendError(in.TempID, err)
		return
	}

	if err := c.sendFrame(FrameMessages, in.RoomID, msgs); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue messages frame")
	}
}

// WritePump writes queued frames and periodic pings until the send channel is closed or a
// write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage returns false when the pump should stop.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, c.closeFrame); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// enqueue queues data without blocking. It returns false when the queue is full or closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once. WritePump then writes closeFrame (a close
// message payload, possibly empty) and stops.
func (c *Client) closeSend(closeFrame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeFrame = closeFrame
	close(c.send)
}

func (c *Client) sendFrame(t FrameType, roomID string, payload any) error {
	frame, err := NewFrame(t, roomID, payload)
	if err != nil {
		return err
	}
	return c.sendRaw(frame)
}

func (c *Client) sendRaw(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling frame for client")
		return err
	}

	if !c.enqueue(data) {
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full or closed, dropping frame")
		return errSendQueueFull
	}
	return nil
}

// SendError queues an error frame carrying the business code of err, correlated with the
// inbound frame's tempId.
func (c *Client) SendError(tempID string, err error) {
	customErr := apperr.From(err)

	frame, buildErr := NewFrame(FrameError, "", ErrorPayload{Code: customErr.Code, Message: customErr.Message})
	if buildErr != nil {
		c.logger.Error().Err(buildErr).Msg("Failed to build error frame")
		return
	}
	frame.TempID = tempID

	if err := c.sendRaw(frame); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue error frame")
	}
}

// sendConfirmation acknowledges a send frame with the stored message id. The message itself
// arrives later through the change feed.
func (c *Client) sendConfirmation(tempID string, msg chat.Message) {
	frame, err := NewFrame(FrameAck, msg.RoomID, AckPayload{MessageID: msg.ID, CreatedAt: msg.CreatedAt})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build ACK frame")
		return
	}
	frame.TempID = tempID

	if err := c.sendRaw(frame); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue ACK frame")
	}
}

// Kick closes the connection with close code 4001. The close frame is written by WritePump.
func (c *Client) Kick(reason string) {
	c.logger.Warn().
		Int("close_code", WsCloseCodeSessionKicked).
		Str("reason", reason).
		Msg("Kicking client connection.")

	c.closeSend(websocket.FormatCloseMessage(WsCloseCodeSessionKicked, reason))
}

// Close ends the connection with a normal closure, for clients that never got registered.
func (c *Client) Close() {
	c.closeSend(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
