package handler

import (
	"net/http"

	"trainchat/internal/app/apperr"
	"trainchat/internal/app/chat"
	"trainchat/internal/pkg/logx"
	"trainchat/internal/pkg/resp"
)

// RoomUnread is the unread count of one room.
type RoomUnread struct {
	RoomID string `json:"roomId"`
	Unread int    `json:"unread"`
}

// HandleSetupChats enrols the caller in its groups and creates its auto-provisioned direct
// rooms. It is safe to call on every login.
func HandleSetupChats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		if err := deps.Provisioner.SetupUserChats(r.Context(), u); err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}

		list, err := deps.Registry.ListRoomsForUser(r.Context(), u.ID)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		resp.RespondSuccess(w, r, map[string]any{"rooms": nonNil(list)})
	}
}

// HandleListRooms lists the caller's live rooms, most recent activity first.
func HandleListRooms(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		list, err := deps.Registry.ListRoomsForUser(r.Context(), u.ID)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		resp.RespondSuccess(w, r, map[string]any{"rooms": nonNil(list)})
	}
}

// HandleUnread reports the unread count of every live room of the caller and their total.
func HandleUnread(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		list, err := deps.Registry.ListRoomsForUser(r.Context(), u.ID)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}

		engine := newEngine(deps, u)
		defer engine.Close()

		counts := make([]RoomUnread, 0, len(list))
		for _, room := range list {
			if _, err := engine.FetchMessages(r.Context(), room.ID); err != nil {
				logx.Warn("Skipping room in unread summary.", "room_id", room.ID, "error", err.Error())
				continue
			}
			counts = append(counts, RoomUnread{RoomID: room.ID, Unread: engine.UnreadCount(room.ID)})
		}

		resp.RespondSuccess(w, r, map[string]any{
			"rooms": counts,
			"total": engine.TotalUnreadCount(),
		})
	}
}

func nonNil(list []chat.Room) []chat.Room {
	if list == nil {
		return []chat.Room{}
	}
	return list
}
