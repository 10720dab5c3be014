/*
Package session serves the live side of the chat.

This file defines the Manager, which tracks one Session per online user, starts and
retrieves them, cleans them up when they end, and answers presence queries for the
notification dispatcher.
*/
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trainchat/internal/app/feed"
	"trainchat/internal/app/notify"
	"trainchat/internal/app/permission"
	"trainchat/internal/app/user"
	"trainchat/internal/pkg/logx"
)

// Deps groups what every session is built from.
type Deps struct {
	Store       Store
	Rules       *permission.Engine
	Notifier    notify.Dispatcher
	IdleTimeout time.Duration
}

// Manager coordinates the sessions of all online users.
type Manager struct {
	// sessions keyed by user id.
	sessions map[string]*Session

	deps Deps

	// mu protects concurrent access to the sessions map.
	mu sync.RWMutex

	// the channel sessions use to ask for their removal.
	cleanup chan cleanupMsg

	// wg waits for runCleanupLoop during shutdown.
	wg sync.WaitGroup

	// resync follows feed.OpResync events.
	resync *feed.Subscription

	logger zerolog.Logger
}

var _ notify.Presence = (*Manager)(nil)

func NewManager(d Deps) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		deps:     d,
		cleanup:  make(chan cleanupMsg, 64),
		logger:   logx.Component("SessionManager"),
	}

	m.wg.Add(1)
	go m.runCleanupLoop()

	if d.Store != nil {
		m.resync = d.Store.Subscribe(feed.Filter{Op: feed.OpResync}, func(feed.Event) {
			go m.resyncAll()
		})
	}

	return m
}

// resyncAll reloads every running session after a gap in the change feed.
func (m *Manager) resyncAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	m.logger.Info().Int("sessions", len(sessions)).Msg("Change feed gap, resyncing sessions.")

	for _, s := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		s.Resync(ctx)
		cancel()
	}
}

func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for msg := range m.cleanup {
		m.deleteSession(msg)
	}

	m.logger.Info().Msg("Cleanup loop stopped.")
}

// deleteSession removes the session only if it is still the registered one for the user.
func (m *Manager) deleteSession(msg cleanupMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.sessions[msg.userID]; ok && current == msg.session {
		delete(m.sessions, msg.userID)
		m.logger.Info().Str("user_id", msg.userID).Msg("Session removed.")
	}
}

// Open returns the running session of u, starting one if there is none.
func (m *Manager) Open(ctx context.Context, u user.User) (*Session, error) {
	if s := m.Get(u.ID); s != nil {
		return s, nil
	}

	s := newSession(u, m.deps, m.cleanup)
	if err := s.start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.sessions == nil {
		m.mu.Unlock()
		s.teardown()
		return nil, ErrShutdown
	}
	if existing, ok := m.sessions[u.ID]; ok && !existing.isDone() {
		m.mu.Unlock()
		s.teardown()
		return existing, nil
	}
	m.sessions[u.ID] = s
	m.mu.Unlock()

	go s.Run()

	m.logger.Info().Str("user_id", u.ID).Stringer("role", u.Role).Msg("New session started.")
	return s, nil
}

// Get returns the running session of the user, or nil.
func (m *Manager) Get(userID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok || s.isDone() {
		return nil
	}
	return s
}

// IsOnline reports whether the user has at least one connected client.
func (m *Manager) IsOnline(userID string) bool {
	s := m.Get(userID)
	return s != nil && s.ClientCount() > 0
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

// Shutdown stops every session, then the cleanup loop.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down session manager...")

	if m.resync != nil {
		m.resync.Unsubscribe()
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	for _, s := range sessions {
		<-s.Done()
	}

	close(m.cleanup)
	m.wg.Wait()

	m.logger.Info().Msg("Session manager shutdown complete.")
}
