/*
Package handler provides HTTP handler functions for direct-chat permissions, auto-created
direct rooms and the approval workflow.
*/
package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"trainchat/internal/app/apperr"
	"trainchat/internal/app/chat"
	"trainchat/internal/pkg/errs"
	"trainchat/internal/pkg/req"
	"trainchat/internal/pkg/resp"
)

// MaxRequestReasonLength bounds the free-text reason of a chat request, in bytes.
const MaxRequestReasonLength = 500

// PermissionView is the answer to "may I chat with this user?".
type PermissionView struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requiresApproval"`
	Reason           string `json:"reason"`
	Message          string `json:"message,omitempty"`

	// RoomID is set when a direct room with the user already exists.
	RoomID string `json:"roomId,omitempty"`
}

// HandleCheckPermission evaluates the access rules between the caller and the user in the path.
func HandleCheckPermission(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		target, err := deps.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			resp.RespondError(w, r, apperr.FromLookup(err, errs.ErrUserNotFound))
			return
		}

		d := deps.Rules.CanDirectChat(u, target)
		view := PermissionView{
			Allowed:          d.Allowed,
			RequiresApproval: d.RequiresApproval,
			Reason:           d.Reason.Code(),
			Message:          d.Reason.String(),
		}

		existing, err := deps.Registry.FindDirectRoom(r.Context(), u.ID, target.ID)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		if existing != nil {
			view.RoomID = existing.ID
		}

		resp.RespondSuccess(w, r, view)
	}
}

type DirectChatInput struct {
	UserID string `json:"userId"`
}

// HandleCreateDirectChat opens (or returns) the direct room with another user when the rules
// allow it without approval.
func HandleCreateDirectChat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		var input DirectChatInput
		if custErr := req.BindJSON(r, &input); custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}
		if input.UserID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		target, err := deps.Store.GetUser(r.Context(), input.UserID)
		if err != nil {
			resp.RespondError(w, r, apperr.FromLookup(err, errs.ErrUserNotFound))
			return
		}

		room, d, err := deps.Provisioner.CreateAutoDirectChat(r.Context(), u, target)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		if room == nil {
			resp.RespondError(w, r, apperr.FromDenial(d.Reason))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"room": room})
	}
}

type ChatRequestInput struct {
	TargetUserID string `json:"targetUserId"`
	Reason       string `json:"reason"`
}

// HandleCreateChatRequest files an approval request for a pair whose rule requires one.
func HandleCreateChatRequest(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		var input ChatRequestInput
		if custErr := req.BindJSON(r, &input); custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}
		input.Reason = strings.TrimSpace(input.Reason)
		if input.TargetUserID == "" || len(input.Reason) > MaxRequestReasonLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		target, err := deps.Store.GetUser(r.Context(), input.TargetUserID)
		if err != nil {
			resp.RespondError(w, r, apperr.FromLookup(err, errs.ErrUserNotFound))
			return
		}

		request, err := deps.Provisioner.RequestChatPermission(r.Context(), u, target, input.Reason)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		resp.RespondSuccess(w, r, map[string]any{"request": request})
	}
}

// HandleListChatRequests returns the pending approval queue to approvers.
func HandleListChatRequests(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		pending, err := deps.Provisioner.PendingRequests(r.Context(), u)
		if err != nil {
			resp.RespondError(w, r, apperr.From(err))
			return
		}
		if pending == nil {
			pending = []chat.Request{}
		}
		resp.RespondSuccess(w, r, map[string]any{"requests": pending})
	}
}

type ResolveRequestInput struct {
	Approve *bool `json:"approve"`
}

// HandleResolveChatRequest approves or denies a pending request.
func HandleResolveChatRequest(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		var input ResolveRequestInput
		if custErr := req.BindJSON(r, &input); custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}
		if input.Approve == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		resolved, err := deps.Provisioner.ResolveChatRequest(r.Context(), u, chi.URLParam(r, "id"), *input.Approve)
		if err != nil {
			resp.RespondError(w, r, apperr.FromLookup(err, errs.ErrRequestNotFound))
			return
		}
		resp.RespondSuccess(w, r, map[string]any{"request": resolved})
	}
}
