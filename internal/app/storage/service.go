/*
Package storage issues presigned object storage URLs for message attachments.

Attachment messages (image, file, voice) carry an object key as their content. Keys are
namespaced per room, "rooms/{roomID}/{name}{ext}", so a key can only be posted to and read
from the room it was issued for. The bytes never pass through the chat server.
*/
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by Stat for a missing object.
var ErrObjectNotFound = errors.New("storage: object not found")

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Enabled reports whether enough is configured to reach a bucket.
func (c ServiceConfig) Enabled() bool {
	return c.S3BucketName != "" && c.S3AccessKeyID != "" && c.S3SecretAccessKey != ""
}

// ObjectInfo is the metadata of a stored object.
type ObjectInfo struct {
	ContentType string
	Size        int64
}

// ObjectStore is the object storage backend.
type ObjectStore interface {
	// PresignUpload returns a URL accepting a single PUT of exactly size bytes of mimeType.
	PresignUpload(ctx context.Context, key, mimeType string, size int64, ttl time.Duration) (string, error)

	// PresignDownload returns a URL serving the object for ttl.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Stat returns the object's metadata, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	Delete(ctx context.Context, key string) error
}

// NewObjectStore returns the S3-compatible implementation for cfg.
func NewObjectStore(ctx context.Context, cfg ServiceConfig) (ObjectStore, error) {
	return newS3Client(ctx, cfg)
}
