/*
Package session serves the live side of the chat: one Session per online user, owning the
user's message sync engine and fanning its changes out to every connected device.

This file defines the Session, a hub with its own Run loop. It follows every room of its
user, including rooms joined while online, handles client registration, and shuts down once
no client has been connected for the idle timeout.
*/
package session

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/feed"
	"trainchat/internal/app/msgsync"
	"trainchat/internal/app/user"
	"trainchat/internal/pkg/errs"
	"trainchat/internal/pkg/logx"
)

const (
	broadcastChannelBuffer = 1024

	// MaxClientsPerUser bounds concurrent connections of one user. The oldest is kicked.
	MaxClientsPerUser = 5

	// DefaultIdleTimeout applies when Deps.IdleTimeout is zero.
	DefaultIdleTimeout = 5 * time.Minute

	storeTimeout = 10 * time.Second
)

// ErrShutdown is returned by Manager.Open after Shutdown.
var ErrShutdown = errors.New("session: manager is shut down")

// Store is the slice of the backing store a session needs.
type Store interface {
	msgsync.Store
	ListRoomsForUser(ctx context.Context, userID string) ([]chat.Room, error)
}

type cleanupMsg struct {
	userID  string
	session *Session
}

// Session is the live state of one user.
type Session struct {
	user   user.User
	store  Store
	engine *msgsync.Engine

	// clients in connection order.
	clients []*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan Frame

	cleanupChan chan<- cleanupMsg
	stopChan    chan struct{}
	stopOnce    sync.Once
	done        chan struct{}

	idleTimeout   time.Duration
	shutdownTimer *time.Timer

	// mu guards following, membership and clients reads from other goroutines.
	mu         sync.RWMutex
	following  map[string]func()
	membership *feed.Subscription

	logger zerolog.Logger
}

func newSession(u user.User, d Deps, cleanupChan chan<- cleanupMsg) *Session {
	idle := d.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	return &Session{
		user:        u,
		store:       d.Store,
		engine:      msgsync.New(u, d.Store, d.Rules, d.Notifier),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan Frame, broadcastChannelBuffer),
		cleanupChan: cleanupChan,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
		idleTimeout: idle,
		following:   make(map[string]func()),
		logger:      logx.Component("Session").With().Str("user_id", u.ID).Logger(),
	}
}

// User returns the session's user.
func (s *Session) User() user.User {
	return s.user
}

// Engine returns the session's message sync engine.
func (s *Session) Engine() *msgsync.Engine {
	return s.engine
}

// start loads the user's rooms into the engine and subscribes to new memberships.
func (s *Session) start(ctx context.Context) error {
	s.engine.OnChange(s.onChange)

	s.mu.Lock()
	s.membership = s.store.Subscribe(feed.Filter{
		Table:  feed.TableParticipants,
		Op:     feed.OpInsert,
		Column: "user_id",
		Value:  s.user.ID,
	}, func(ev feed.Event) {
		s.joined(ev.Fields["chat_room_id"])
	})
	s.mu.Unlock()

	rooms, err := s.store.ListRoomsForUser(ctx, s.user.ID)
	if err != nil {
		s.teardown()
		return err
	}
	for _, room := range rooms {
		s.follow(ctx, room.ID)
	}

	s.logger.Info().Int("rooms", len(rooms)).Msg("Session started.")
	return nil
}

// follow subscribes the engine to the room and loads its log. It reports whether the room
// was new to the session.
func (s *Session) follow(ctx context.Context, roomID string) bool {
	s.mu.Lock()
	if _, ok := s.following[roomID]; ok || s.isDone() {
		s.mu.Unlock()
		return false
	}
	s.following[roomID] = s.engine.Subscribe(roomID)
	s.mu.Unlock()

	if _, err := s.engine.FetchMessages(ctx, roomID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to load room messages.")
	}
	return true
}

// joined handles a membership created while the user is online.
func (s *Session) joined(roomID string) {
	if roomID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if !s.follow(ctx, roomID) {
		return
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to load joined room.")
		return
	}

	s.logger.Info().Str("room_id", roomID).Msg("Following newly joined room.")
	s.Broadcast(FrameRoom, roomID, RoomSummary{Room: room, Unread: s.engine.UnreadCount(roomID)})
}

// Resync reloads the user's rooms after a gap in the change feed. It follows rooms joined
// during the gap, reloads every followed room, sends a messages frame for each room whose
// log changed, and finishes with a fresh init frame.
func (s *Session) Resync(ctx context.Context) {
	if s.isDone() {
		return
	}

	changed := make(map[string]bool)
	rooms, err := s.store.ListRoomsForUser(ctx, s.user.ID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list rooms for resync.")
	}
	for _, room := range rooms {
		if s.follow(ctx, room.ID) {
			changed[room.ID] = true
		}
	}

	s.mu.RLock()
	roomIDs := slices.Sorted(maps.Keys(s.following))
	s.mu.RUnlock()

	for _, roomID := range roomIDs {
		before := s.engine.Messages(roomID)
		after, err := s.engine.FetchMessages(ctx, roomID)
		if err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to reload room for resync.")
			continue
		}
		if changed[roomID] || !sameLog(before, after) {
			s.Broadcast(FrameMessages, roomID, after)
		}
	}

	payload, err := s.initPayload()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to build init payload for resync.")
		return
	}
	s.Broadcast(FrameInit, "", payload)
	s.logger.Info().Int("rooms", len(roomIDs)).Msg("Session resynced.")
}

func sameLog(a, b []chat.Message) bool {
	return slices.EqualFunc(a, b, func(x, y chat.Message) bool {
		return x.ID == y.ID && x.IsRead == y.IsRead
	})
}

// Following reports whether the session follows the room.
func (s *Session) Following(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.following[roomID]
	return ok
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.membership != nil {
		s.membership.Unsubscribe()
		s.membership = nil
	}
	for roomID, unsubscribe := range s.following {
		unsubscribe()
		delete(s.following, roomID)
	}
	s.mu.Unlock()

	s.engine.Close()
}

// Stop asks the Run loop to end.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Received stop signal.")
		close(s.stopChan)
	})
}

// Done is closed once the Run loop has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (s *Session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.clients)
}

// RegisterClient hands c to the Run loop. It returns false if the session has ended.
func (s *Session) RegisterClient(c *Client) bool {
	select {
	case s.register <- c:
		return true
	case <-s.done:
		return false
	}
}

// UnregisterClient removes c. It never blocks once the session has ended.
func (s *Session) UnregisterClient(c *Client) {
	select {
	case s.unregister <- c:
	case <-s.done:
	}
}

// Broadcast sends a frame to every connected client.
func (s *Session) Broadcast(t FrameType, roomID string, payload any) {
	frame, err := NewFrame(t, roomID, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("frame_type", string(t)).Msg("Failed to build frame.")
		return
	}

	select {
	case s.broadcast <- frame:
	default:
		s.logger.Warn().Str("frame_type", string(t)).Msg("Broadcast channel full, dropping frame.")
	}
}

func (s *Session) onChange(c msgsync.Change) {
	switch c.Kind {
	case msgsync.ChangeInserted:
		s.Broadcast(FrameMessage, c.RoomID, c.Message)
	case msgsync.ChangeUpdated:
		s.Broadcast(FrameReadState, c.RoomID, c.Message)
	}
}

// Run is the session's event loop.
func (s *Session) Run() {
	s.shutdownTimer = time.NewTimer(s.idleTimeout)

	defer func() {
		s.shutdownTimer.Stop()

		s.mu.Lock()
		clients := s.clients
		s.clients = nil
		s.mu.Unlock()
		for _, c := range clients {
			c.closeSend(nil)
		}

		close(s.done)
		s.teardown()
		s.notifyCleanup()
		s.logger.Info().Msg("Session Run loop finished.")
	}()

	for {
		select {
		case c := <-s.register:
			s.addClient(c)

		case c := <-s.unregister:
			s.removeClient(c)

		case frame := <-s.broadcast:
			s.fanOut(frame)

		case <-s.shutdownTimer.C:
			s.logger.Info().Dur("idle_timeout", s.idleTimeout).Msg("Session idle timeout reached.")
			return

		case <-s.stopChan:
			s.logger.Info().Msg("Session forced stop initiated.")
			return
		}
	}
}

func (s *Session) notifyCleanup() {
	defer func() {
		if r := recover(); r != nil {
			logx.Warn("Recovered from panic during Manager cleanup notification (channel likely closed).")
		}
	}()

	select {
	case s.cleanupChan <- cleanupMsg{userID: s.user.ID, session: s}:
	default:
		s.logger.Warn().Msg("Manager cleanup channel full. Skipping cleanup notification.")
	}
}

func (s *Session) addClient(c *Client) {
	s.stopTimer()

	s.mu.Lock()
	s.clients = append(s.clients, c)
	var kicked *Client
	if len(s.clients) > MaxClientsPerUser {
		kicked = s.clients[0]
		s.clients = slices.Delete(s.clients, 0, 1)
	}
	total := len(s.clients)
	s.mu.Unlock()

	if kicked != nil {
		s.logger.Warn().Str("conn_id", kicked.id).Msg("Too many connections. Kicking the oldest.")
		kicked.Kick(errs.NewError(errs.ErrSessionKicked).Message)
	}

	s.logger.Info().Str("conn_id", c.id).Int("total_clients", total).Msg("Client connected.")

	payload, err := s.initPayload()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build init payload.")
		c.SendError("", err)
		return
	}
	if err := c.sendFrame(FrameInit, "", payload); err != nil {
		s.removeClient(c)
	}
}

func (s *Session) initPayload() (InitPayload, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rooms, err := s.store.ListRoomsForUser(ctx, s.user.ID)
	if err != nil {
		return InitPayload{}, err
	}

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, RoomSummary{Room: room, Unread: s.engine.UnreadCount(room.ID)})
	}

	return InitPayload{
		User:        s.user,
		Rooms:       summaries,
		TotalUnread: s.engine.TotalUnreadCount(),
	}, nil
}

func (s *Session) removeClient(c *Client) {
	s.mu.Lock()
	idx := slices.Index(s.clients, c)
	if idx >= 0 {
		s.clients = slices.Delete(s.clients, idx, idx+1)
	}
	total := len(s.clients)
	s.mu.Unlock()

	if idx < 0 {
		s.logger.Debug().Str("conn_id", c.id).Msg("Unregister for unknown or already removed client.")
		return
	}

	c.closeSend(nil)
	s.logger.Info().Str("conn_id", c.id).Int("total_clients", total).Msg("Client disconnected.")

	if total == 0 {
		s.stopTimer()
		s.shutdownTimer.Reset(s.idleTimeout)
	}
}

func (s *Session) fanOut(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error().Err(err).Str("frame_type", string(frame.Type)).Msg("Error marshaling frame for broadcast.")
		return
	}

	s.mu.RLock()
	clients := slices.Clone(s.clients)
	s.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(data) {
			s.logger.Warn().Str("conn_id", c.id).Msg("Client send channel full or closed, unregistering.")
			s.removeClient(c)
		}
	}
}

func (s *Session) stopTimer() {
	if !s.shutdownTimer.Stop() {
		select {
		case <-s.shutdownTimer.C:
		default:
		}
	}
}
