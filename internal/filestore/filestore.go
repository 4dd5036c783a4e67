package filestore

import (
	"io"
)

// FileStore is an interface for storing and retrieving blobs by their hash.
type FileStore interface {
	// Save saves the blob content with the given hash.
	// It is idempotent: if a blob with the same hash already exists, it returns nil.
	Save(r io.Reader, hash string) error

	// Get retrieves the blob content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
