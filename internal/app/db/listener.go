package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"trainchat/internal/app/feed"
	"trainchat/internal/pkg/logx"
)

// ChangeChannel is the NOTIFY channel written by the notify_chat_change trigger.
const ChangeChannel = "chat_changes"

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

// Listener holds one pooled connection in LISTEN mode and republishes every change
// notification on a feed.Hub.
type Listener struct {
	pool *pgxpool.Pool
	hub  *feed.Hub

	// listenFn holds the connection in LISTEN mode until it fails. It calls listening once
	// the LISTEN command succeeded.
	listenFn func(ctx context.Context, listening func()) error
	after    func(d time.Duration) <-chan time.Time

	logger zerolog.Logger
}

func NewListener(pool *pgxpool.Pool, hub *feed.Hub) *Listener {
	l := &Listener{
		pool:   pool,
		hub:    hub,
		logger: logx.Component("ChangeListener"),
	}
	l.listenFn = l.listen
	l.after = time.After
	return l
}

// Run blocks until ctx is cancelled, reconnecting with exponential backoff whenever the
// listening connection fails. Notifications emitted while disconnected are lost, so the
// first successful LISTEN after a failure publishes feed.ResyncEvent. The backoff starts
// over once a connection is listening again.
func (l *Listener) Run(ctx context.Context) {
	delay := minReconnectDelay
	gap := false

	listening := func() {
		delay = minReconnectDelay
		if gap {
			gap = false
			l.logger.Info().Msg("Change listener recovered, requesting resync.")
			l.hub.Publish(feed.ResyncEvent())
		}
	}

	for {
		err := l.listenFn(ctx, listening)
		if ctx.Err() != nil {
			l.logger.Info().Msg("Change listener stopped.")
			return
		}
		gap = true

		l.logger.Error().Err(err).Dur("retry_in", delay).Msg("Change listener disconnected.")

		select {
		case <-ctx.Done():
			return
		case <-l.after(delay):
		}

		delay = min(delay*2, maxReconnectDelay)
	}
}

func (l *Listener) listen(ctx context.Context, listening func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info().Str("channel", ChangeChannel).Msg("Listening for row changes.")
	listening()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		event, err := DecodeChange(n.Payload)
		if err != nil {
			l.logger.Warn().Err(err).Str("payload", n.Payload).Msg("Dropping undecodable change notification.")
			continue
		}
		l.hub.Publish(event)
	}
}

// DecodeChange parses a notify_chat_change payload.
func DecodeChange(payload string) (feed.Event, error) {
	var e feed.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return feed.Event{}, fmt.Errorf("decode change: %w", err)
	}
	if e.Table == "" || e.ID == "" {
		return feed.Event{}, errors.New("decode change: missing table or id")
	}
	switch e.Op {
	case feed.OpInsert, feed.OpUpdate, feed.OpDelete:
	default:
		return feed.Event{}, fmt.Errorf("decode change: unknown op %q", e.Op)
	}
	return e, nil
}
