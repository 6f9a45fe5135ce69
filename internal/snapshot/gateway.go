package snapshot

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Row is a single table row exactly as the gateway returned it.
// Keeping the raw JSON preserves column order and value formatting
// between a backup and the file written for it.
type Row = json.RawMessage

// SortOrder is the direction of a blob listing sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortBy names the column a blob listing is ordered by.
type SortBy struct {
	Column string
	Order  SortOrder
}

// ListOptions controls a blob listing.
type ListOptions struct {
	Prefix string
	Search string
	Limit  int
	Offset int
	SortBy SortBy
}

// BlobEntry is one entry returned by a blob listing.
// Entries with an empty ID are folder placeholders, not files.
type BlobEntry struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Size      int64
}

// IsFolder reports whether the entry is a folder placeholder.
func (e BlobEntry) IsFolder() bool {
	return e.ID == ""
}

// Gateway is the hosted backend holding the tables and storage buckets
// that are backed up and restored.
type Gateway interface {
	// FetchAllRows returns every row of table.
	FetchAllRows(ctx context.Context, table string) ([]Row, error)

	// UpsertRows inserts rows into table, overwriting existing rows that
	// share the same conflictKey value.
	UpsertRows(ctx context.Context, table string, rows []Row, conflictKey string) error

	// ListBlobs lists the entries of a storage bucket.
	ListBlobs(ctx context.Context, bucket string, opts ListOptions) ([]BlobEntry, error)

	// DownloadBlob writes the content of bucket/name to w.
	DownloadBlob(ctx context.Context, bucket, name string, w io.Writer) error

	// UploadBlob creates bucket/name. It fails if the object already exists.
	// size is the number of bytes that will be read from r.
	UploadBlob(ctx context.Context, bucket, name string, r io.Reader, size int64) error

	// ReplaceBlob overwrites the existing object bucket/name.
	// size is the number of bytes that will be read from r.
	ReplaceBlob(ctx context.Context, bucket, name string, r io.Reader, size int64) error
}
