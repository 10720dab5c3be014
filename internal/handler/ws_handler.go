/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, resolving
the caller, opening the user's session, upgrading the HTTP connection to WebSocket, and initiating
the client lifecycle.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"trainchat/internal/app/apperr"
	"trainchat/internal/app/session"
	"trainchat/internal/pkg/errs"
	"trainchat/internal/pkg/limiter"
	"trainchat/internal/pkg/logx"
	"trainchat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		s, err := deps.Sessions.Open(r.Context(), u)
		if err != nil {
			logx.Error(err, "Failed to open session", "user_id", u.ID)
			resp.RespondError(w, r, apperr.From(err))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "user_id", u.ID)
			return
		}

		client := session.NewClient(s, conn)

		go client.WritePump()

		if !s.RegisterClient(client) {
			logx.Info("WebSocket connection dropped: session ended before registration.", "user_id", u.ID)
			client.Close()
			return
		}

		logx.Info("WebSocket connection established and client registered", "client_id", client.ID(), "user_id", u.ID)

		client.ReadPump()
	}
}
