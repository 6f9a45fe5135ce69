package snapshot

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by an Archive when a key or directory does not exist.
var ErrNotFound = errors.New("not found")

// Archive is durable storage for snapshot trees. Keys are slash-separated
// paths relative to the snapshot root, e.g. "2024-01-15/database/events.json".
type Archive interface {
	// Put stores the content read from r under key, replacing any existing value.
	// size is the number of bytes that will be read from r.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the content stored under key to w.
	// Returns an error wrapping ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns the names of the files stored directly under dir, sorted.
	// Returns an error wrapping ErrNotFound if dir does not exist.
	List(ctx context.Context, dir string) ([]string, error)

	// MakeDir creates dir if it does not exist. It is idempotent.
	MakeDir(ctx context.Context, dir string) error

	// Exists reports whether key names an existing file or directory.
	Exists(ctx context.Context, key string) (bool, error)

	// ValidateSetup verifies that the archive is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
