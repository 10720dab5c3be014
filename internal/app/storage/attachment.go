package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"trainchat/internal/app/chat"
	"trainchat/internal/pkg/errs"
	"trainchat/internal/pkg/randx"
)

const (
	// PresignedURLDuration is how long issued upload and download URLs stay valid.
	PresignedURLDuration = 5 * time.Minute

	keyPrefix = "rooms/"
)

// attachmentKind describes the files accepted for one attachment message type.
type attachmentKind struct {
	maxSize int64
	// extension to MIME type.
	types map[string]string
}

var attachmentKinds = map[chat.MessageType]attachmentKind{
	chat.TypeImage: {
		maxSize: 5 << 20,
		types: map[string]string{
			".jpg":  "image/jpeg",
			".jpeg": "image/jpeg",
			".png":  "image/png",
			".webp": "image/webp",
			".gif":  "image/gif",
		},
	},
	chat.TypeFile: {
		maxSize: 20 << 20,
		types: map[string]string{
			".pdf":  "application/pdf",
			".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
			".txt":  "text/plain",
			".csv":  "text/csv",
		},
	},
	chat.TypeVoice: {
		maxSize: 10 << 20,
		types: map[string]string{
			".m4a":  "audio/mp4",
			".aac":  "audio/aac",
			".ogg":  "audio/ogg",
			".webm": "audio/webm",
			".mp3":  "audio/mpeg",
		},
	},
}

// Upload is an issued upload slot. Once the client has PUT the file to URL, it sends a
// message of type MessageType with Key as content.
type Upload struct {
	Key         string           `json:"fileKey"`
	URL         string           `json:"uploadUrl"`
	MessageType chat.MessageType `json:"messageType"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

// Attachments validates attachment metadata and issues presigned URLs.
type Attachments struct {
	store ObjectStore
	now   func() time.Time
}

func NewAttachments(store ObjectStore) *Attachments {
	return &Attachments{store: store, now: time.Now}
}

// PlanUpload validates the file and issues an upload slot in the room's namespace.
func (a *Attachments) PlanUpload(ctx context.Context, roomID, fileName, mimeType string, size int64) (*Upload, *errs.CustomError) {
	msgType, custErr := ValidateFile(fileName, mimeType, size)
	if custErr != nil {
		return nil, custErr
	}

	name, err := randx.Base62(randx.ObjectNameLength)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnknown, err)
	}
	key := RoomKey(roomID, name+strings.ToLower(path.Ext(fileName)))

	url, err := a.store.PresignUpload(ctx, key, strings.ToLower(mimeType), size, PresignedURLDuration)
	if err != nil {
		return nil, errs.NewError(errs.ErrFileStorageFailed)
	}

	return &Upload{
		Key:         key,
		URL:         url,
		MessageType: msgType,
		ExpiresAt:   a.now().Add(PresignedURLDuration).UTC(),
	}, nil
}

// DownloadURL issues a download URL for a key of the room.
func (a *Attachments) DownloadURL(ctx context.Context, roomID, key string) (string, *errs.CustomError) {
	if !IsRoomKey(roomID, key) {
		return "", errs.NewError(errs.ErrAttachmentKeyInvalid)
	}

	if _, err := a.store.Stat(ctx, key); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return "", errs.NewError(errs.ErrAttachmentKeyInvalid)
		}
		return "", errs.NewError(errs.ErrFileStorageFailed)
	}

	url, err := a.store.PresignDownload(ctx, key, PresignedURLDuration)
	if err != nil {
		return "", errs.NewError(errs.ErrFileStorageFailed)
	}
	return url, nil
}

// ValidateFile checks the size, extension and MIME type of an attachment and returns the
// message type it will be sent as.
func ValidateFile(fileName, mimeType string, size int64) (chat.MessageType, *errs.CustomError) {
	if size <= 0 {
		return 0, errs.NewError(errs.ErrInvalidParams)
	}

	ext := strings.ToLower(path.Ext(fileName))
	mimeType = strings.ToLower(mimeType)

	for msgType, kind := range attachmentKinds {
		expected, ok := kind.types[ext]
		if !ok || expected != mimeType {
			continue
		}
		if size > kind.maxSize {
			return 0, errs.NewError(errs.ErrFileSizeTooLarge)
		}
		return msgType, nil
	}

	return 0, errs.NewError(errs.ErrFileTypeInvalid)
}

// RoomKey builds the object key of name in the room's namespace.
func RoomKey(roomID, name string) string {
	return keyPrefix + roomID + "/" + name
}

// IsRoomKey reports whether key was issued for the room.
func IsRoomKey(roomID, key string) bool {
	if roomID == "" {
		return false
	}
	name, ok := strings.CutPrefix(key, keyPrefix+roomID+"/")
	if !ok {
		return false
	}
	base := strings.TrimSuffix(name, path.Ext(name))
	return len(base) == randx.ObjectNameLength && randx.IsBase62(base)
}

// CheckAttachmentContent rejects attachment messages whose content is not a key of the room.
func CheckAttachmentContent(roomID, content string, msgType chat.MessageType) *errs.CustomError {
	if msgType.IsAttachment() && !IsRoomKey(roomID, content) {
		return errs.NewError(errs.ErrAttachmentKeyInvalid)
	}
	return nil
}
