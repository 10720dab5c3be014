/*
Package handler provides HTTP handler functions for room messages and room lifecycle.

These endpoints serve clients without a live WebSocket session. Each request runs a
short-lived message engine for the caller, so the same membership and posting rules apply
on both paths.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"trainchat/internal/app/apperr"
	"trainchat/internal/app/chat"
	"trainchat/internal/app/storage"
	"trainchat/internal/app/user"
	"trainchat/internal/pkg/errs"
	"trainchat/internal/pkg/req"
	"trainchat/internal/pkg/resp"
)

type SendMessageInput struct {
	Content string           `json:"content"`
	Type    chat.MessageType `json:"type,omitempty"`
}

// loadMemberRoom returns the room in the path if the caller participates in it.
func loadMemberRoom(deps *AppDeps, r *http.Request, u user.User) (*chat.Room, *errs.CustomError) {
	room, err := deps.Registry.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, apperr.From(err)
	}
	if !room.HasParticipant(u.ID) {
		return nil, errs.NewError(errs.ErrNotParticipant)
	}
	return room, nil
}

// HandleListMessages returns the room's messages in (createdAt, id) order. With ?limit=N only
// the N most recent are returned.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		limit, custErr := req.QueryInt64(r, "limit", 0)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		engine := newEngine(deps, u)
		defer engine.Close()

		roomID := chi.URLParam(r, "id")
		msgs, err := engine.FetchMessages(r.Context(), roomID)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		if limit > 0 && int64(len(msgs)) > limit {
			msgs = msgs[int64(len(msgs))-limit:]
		}

		resp.RespondSuccess(w, r, map[string]any{
			"messages": msgs,
			"unread":   engine.UnreadCount(roomID),
		})
	}
}

// HandleSendMessage posts a message as the caller. The stored message is returned with its
// server-assigned id and timestamp.
func HandleSendMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		input := SendMessageInput{Type: chat.TypeText}
		if custErr := req.BindJSON(r, &input); custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		roomID := chi.URLParam(r, "id")
		if custErr := storage.CheckAttachmentContent(roomID, input.Content, input.Type); custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		engine := newEngine(deps, u)
		defer engine.Close()

		msg, err := engine.SendMessage(r.Context(), roomID, input.Content, input.Type)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		resp.RespondSuccess(w, r, map[string]any{"message": msg})
	}
}

// HandleMarkRead marks every message of the room sent by others as read.
func HandleMarkRead(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		engine := newEngine(deps, u)
		defer engine.Close()

		marked, err := engine.MarkAsRead(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		resp.RespondSuccess(w, r, map[string]any{"marked": marked})
	}
}

// HandleArchiveRoom soft-deletes a room. Participants may archive their direct rooms; group
// rooms can only be archived by an approver who belongs to them.
func HandleArchiveRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		room, custErr := loadMemberRoom(deps, r, u)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}
		if room.Kind == chat.KindGroup && !deps.Provisioner.IsApprover(u) {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotApprover))
			return
		}

		if err := deps.Registry.ArchiveRoom(r.Context(), room.ID); err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		resp.RespondSuccess(w, r, map[string]any{"roomId": room.ID})
	}
}
