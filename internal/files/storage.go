package files

import (
	"context"
	"errors"
	"io"
	"regexp"
)

var ErrNotFound = errors.New("image not found")
var ErrInvalidID = errors.New("invalid image id")

// validIDPattern matches alphanumeric ids with dashes (uuids), no path traversal possible
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// Storage defines the interface for image blob storage.
type Storage interface {
	Save(ctx context.Context, id string, data io.Reader) (int64, error)
	Load(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// PublicURLProvider is an optional interface for storage backends that support
// direct public access to images (e.g., public B2 buckets).
type PublicURLProvider interface {
	// GetPublicURL returns the public URL for an image, or empty string if not available.
	GetPublicURL(id string) string
}

// ValidateID reports ErrInvalidID for ids that are unsafe as object names.
func ValidateID(id string) error {
	if id == "" || len(id) > 64 || !validIDPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}
