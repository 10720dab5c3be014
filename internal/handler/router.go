/*
Package handler provides the HTTP handlers and routing setup for the trainchat server.

This file defines the main Router, applying necessary middleware like logging, CORS,
authentication and IP-based rate limiting before delegating requests to specific handlers
(API and WebSocket).
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"trainchat/internal/pkg/auth/jwt"
	"trainchat/internal/pkg/limiter"
	"trainchat/internal/pkg/logx"
	"trainchat/internal/pkg/resp"
)

const (
	RequestRate    = 0.05
	RequestBurst   = 3
	ConnectRate    = 0.2
	ConnectBurst   = 5
	MessageRate    = 2
	MessageBurst   = 20
	wsBufferSize   = 4096
	corsMaxAgeSecs = 300
)

// Limiters are the per-IP rate limiters of the router. Stop them on shutdown.
type Limiters struct {
	Requests *limiter.IPRateLimiter
	Connects *limiter.IPRateLimiter
	Messages *limiter.IPRateLimiter
}

// NewLimiters builds the default limiters.
func NewLimiters() *Limiters {
	return &Limiters{
		Requests: limiter.NewIPRateLimiter(rate.Limit(RequestRate), RequestBurst),
		Connects: limiter.NewIPRateLimiter(rate.Limit(ConnectRate), ConnectBurst),
		Messages: limiter.NewIPRateLimiter(rate.Limit(MessageRate), MessageBurst),
	}
}

// Stop ends the cleanup goroutines of every limiter.
func (l *Limiters) Stop() {
	l.Requests.Stop()
	l.Connects.Stop()
	l.Messages.Stop()
}

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It configures CORS, applies global and per-route middleware, and protects every route
// except /health with bearer authentication.
func Router(deps *AppDeps, limits *Limiters) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeSecs,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": logx.ServiceName,
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.RequireAuth(deps.Config.JWTSecret, false))

		api.Route("/me", func(me chi.Router) {
			me.Post("/setup", HandleSetupChats(deps))
			me.Get("/rooms", HandleListRooms(deps))
			me.Get("/unread", HandleUnread(deps))
		})

		api.Get("/users/{id}/permission", HandleCheckPermission(deps))

		api.Route("/chats", func(chats chi.Router) {
			chats.Post("/direct", HandleCreateDirectChat(deps))
			chats.With(limits.Requests.Middleware).Post("/requests", HandleCreateChatRequest(deps))
			chats.Get("/requests", HandleListChatRequests(deps))
			chats.Post("/requests/{id}/resolve", HandleResolveChatRequest(deps))
		})

		api.Route("/rooms/{id}", func(room chi.Router) {
			room.Post("/archive", HandleArchiveRoom(deps))
			room.Get("/messages", HandleListMessages(deps))
			room.With(limits.Messages.Middleware).Post("/messages", HandleSendMessage(deps))
			room.Post("/read", HandleMarkRead(deps))
		})

		api.Route("/files", func(files chi.Router) {
			files.Post("/presign-upload", HandlePresignUploadURL(deps))
			files.Get("/presign-download", HandlePresignDownloadURL(deps))
		})
	})

	r.With(jwt.RequireAuth(deps.Config.JWTSecret, true)).
		Get("/ws", HandleWebSocket(deps, wsUpgrader, limits.Connects))

	return r
}
