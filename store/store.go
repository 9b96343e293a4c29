package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ErrNotFound is returned when no object exists at the requested slot.
var ErrNotFound = errors.New("object not found")

// ObjectStore wraps the durable blob store. All writes are create-only to
// content-derived keys, so Put is idempotent and needs no locking.
type ObjectStore interface {
	// NewUploadTarget allocates a fresh file ID and returns a time-limited
	// write URL scoped to that ID's source document slot.
	NewUploadTarget(ctx context.Context) (fileID string, uploadURL string, err error)

	// FetchSource returns the uploaded source document bytes for a file ID.
	// Returns ErrNotFound if the client never completed the upload.
	FetchSource(ctx context.Context, fileID string) ([]byte, error)

	// Exists reports whether an object is stored at key without downloading it.
	Exists(ctx context.Context, key string) (bool, error)

	// Put stores the bytes at key. Writing identical bytes to the same key
	// repeatedly is safe; keys are content addressed.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PublicURL returns the stable, publicly fetchable URL for a stored key.
	PublicURL(key string) string

	// Tag annotates a stored object, best effort. Callers are expected to log
	// and swallow failures.
	Tag(ctx context.Context, key string, attrs map[string]string) error
}

// Pinger is implemented by stores that can verify their backing service at
// startup.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SourceKey is the bucket slot holding the raw uploaded PDF for a file ID.
func SourceKey(fileID string) string {
	return "uploads/" + fileID + ".pdf"
}

// NewFileID allocates a collision-free upload identifier.
func NewFileID() string {
	return ulid.Make().String()
}

// ValidFileID reports whether a client-supplied file ID matches the format
// issued by NewFileID.
func ValidFileID(fileID string) bool {
	_, err := ulid.Parse(fileID)
	return err == nil
}
