package handler

import (
	"net/http"

	"trainchat/internal/app/apperr"
	"trainchat/internal/app/chat"
	"trainchat/internal/app/user"
	"trainchat/internal/pkg/errs"
	"trainchat/internal/pkg/req"
	"trainchat/internal/pkg/resp"
)

// PresignUploadInput defines the JSON input structure for generating upload URL.
type PresignUploadInput struct {
	RoomID   string `json:"roomId"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// attachmentRoom loads a room for an attachment operation by the given user.
func attachmentRoom(deps *AppDeps, r *http.Request, u user.User, roomID string) (*chat.Room, *errs.CustomError) {
	if roomID == "" {
		return nil, errs.NewError(errs.ErrInvalidParams)
	}
	room, err := deps.Registry.GetRoom(r.Context(), roomID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if !room.HasParticipant(u.ID) {
		return nil, errs.NewError(errs.ErrNotParticipant)
	}
	return room, nil
}

// HandlePresignUploadURL creates an HTTP HandlerFunc to generate a time-limited,
// pre-signed URL for file upload, scoped to a room the caller belongs to.
func HandlePresignUploadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Attachments == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAttachmentsDisabled))
			return
		}

		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		var input PresignUploadInput
		if custErr := req.BindJSON(r, &input); custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		room, custErr := attachmentRoom(deps, r, u, input.RoomID)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}
		if room.IsArchived() {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomArchived))
			return
		}

		upload, custErr := deps.Attachments.PlanUpload(r.Context(), room.ID, input.FileName, input.MimeType, input.FileSize)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}
		resp.RespondSuccess(w, r, upload)
	}
}

// HandlePresignDownloadURL creates an HTTP HandlerFunc that redirects to a time-limited,
// pre-signed download URL. Archived rooms keep their attachments readable.
func HandlePresignDownloadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Attachments == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAttachmentsDisabled))
			return
		}

		u, custErr := currentUser(deps, r)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		query := r.URL.Query()
		fileKey := query.Get("k")
		if fileKey == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		room, custErr := attachmentRoom(deps, r, u, query.Get("room"))
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		url, custErr := deps.Attachments.DownloadURL(r.Context(), room.ID, fileKey)
		if custErr != nil {
			resp.RespondError(w, r, custErr)
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}
