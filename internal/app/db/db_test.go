package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainchat/internal/app/feed"
	"trainchat/internal/app/store"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError("op", nil))
	assert.ErrorIs(t, mapError("op", pgx.ErrNoRows), store.ErrNotFound)
	assert.ErrorIs(t, mapError("op", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})), store.ErrConflict)

	err := mapError("InsertMessage", &pgconn.PgError{Code: "57014", Message: "canceling statement"})
	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "InsertMessage", storeErr.Op)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}

func TestDecodeChange(t *testing.T) {
	e, err := DecodeChange(`{"table":"chat_messages","op":"INSERT","id":"m1","fields":{"chat_room_id":"r1","sender_id":"u1"}}`)
	require.NoError(t, err)
	assert.Equal(t, feed.Event{
		Table:  feed.TableMessages,
		Op:     feed.OpInsert,
		ID:     "m1",
		Fields: map[string]string{"chat_room_id": "r1", "sender_id": "u1"},
	}, e)

	testCases := []struct {
		name    string
		payload string
	}{
		{"not json", `INSERT m1`},
		{"missing id", `{"table":"chat_messages","op":"INSERT"}`},
		{"unknown op", `{"table":"chat_messages","op":"TRUNCATE","id":"m1"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeChange(tc.payload)
			assert.Error(t, err)
		})
	}
}

func TestListener_ResyncsAfterGapAndResetsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := feed.NewHub()
	var resyncs int
	hub.Subscribe(feed.Filter{Op: feed.OpResync}, func(feed.Event) { resyncs++ })
	var inserts int
	hub.Subscribe(feed.Filter{Table: feed.TableMessages}, func(feed.Event) { inserts++ })

	l := NewListener(nil, hub)

	// false: the connection fails before LISTEN; true: LISTEN succeeds, then the connection fails.
	script := []bool{false, false, true, false, true}
	var calls int
	var resyncsSeen []int
	l.listenFn = func(_ context.Context, listening func()) error {
		listened := script[calls]
		calls++
		if listened {
			listening()
			resyncsSeen = append(resyncsSeen, resyncs)
		}
		if calls == len(script) {
			cancel()
			return context.Canceled
		}
		return errors.New("connection reset")
	}

	var delays []time.Duration
	l.after = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	l.Run(ctx)

	assert.Equal(t, len(script), calls)
	assert.Equal(t, []int{1, 2}, resyncsSeen)
	assert.Equal(t, 2, resyncs)
	assert.Zero(t, inserts)
	assert.Equal(t, []time.Duration{
		minReconnectDelay, 2 * minReconnectDelay,
		minReconnectDelay, 2 * minReconnectDelay,
	}, delays)
}

func TestListener_FirstConnectDoesNotResync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := feed.NewHub()
	var resyncs int
	hub.Subscribe(feed.Filter{Op: feed.OpResync}, func(feed.Event) { resyncs++ })

	l := NewListener(nil, hub)
	l.listenFn = func(_ context.Context, listening func()) error {
		listening()
		cancel()
		return context.Canceled
	}
	l.Run(ctx)

	assert.Zero(t, resyncs)
}

func TestDecodeChange_RejectsResync(t *testing.T) {
	_, err := DecodeChange(`{"table":"chat_messages","op":"RESYNC","id":"m1"}`)
	assert.Error(t, err)
}
