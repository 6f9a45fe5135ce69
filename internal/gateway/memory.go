package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"souviens/internal/snapshot"
)

// UpsertCall records one UpsertRows invocation on a MemoryGateway.
type UpsertCall struct {
	Table       string
	Rows        int
	ConflictKey string
}

type memoryBlob struct {
	data      []byte
	createdAt time.Time
	updatedAt time.Time
}

type memoryTable struct {
	order []string // row keys in insertion order
	rows  map[string]snapshot.Row
}

// MemoryGateway is an in-memory Gateway. Rows are keyed by their conflict
// column, so upserts merge the way the hosted API does. Failures can be
// injected per table, per batch, and per file. Safe for concurrent use.
type MemoryGateway struct {
	mu      sync.Mutex
	tables  map[string]*memoryTable
	buckets map[string]map[string]*memoryBlob
	folders map[string][]string
	now     func() time.Time

	// FailFetch makes FetchAllRows fail for the named tables.
	FailFetch map[string]error
	// FailUpsertBatch makes the n-th (zero-based) UpsertRows call for a
	// table fail. Keys are "table#n".
	FailUpsertBatch map[string]error
	// FailDownload makes DownloadBlob fail for "bucket/name" keys.
	FailDownload map[string]error
	// FailUpload makes UploadBlob and ReplaceBlob fail for "bucket/name" keys.
	FailUpload map[string]error
	// FailList makes ListBlobs fail for the named buckets.
	FailList map[string]error

	upsertCalls []UpsertCall
	upsertSeq   map[string]int
}

// NewMemoryGateway creates an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	return &MemoryGateway{
		tables:          make(map[string]*memoryTable),
		buckets:         make(map[string]map[string]*memoryBlob),
		folders:         make(map[string][]string),
		FailFetch:       make(map[string]error),
		FailUpsertBatch: make(map[string]error),
		FailDownload:    make(map[string]error),
		FailUpload:      make(map[string]error),
		FailList:        make(map[string]error),
		upsertSeq:       make(map[string]int),
		now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	}
}

// BatchKey returns the FailUpsertBatch key for the n-th batch of table.
func BatchKey(table string, n int) string {
	return fmt.Sprintf("%s#%d", table, n)
}

// BlobKey returns the FailDownload and FailUpload key for a file.
func BlobKey(bucket, name string) string {
	return bucket + "/" + name
}

// AddRows appends rows to table, keyed by their "id" field.
func (g *MemoryGateway) AddRows(table string, rows ...snapshot.Row) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mergeLocked(table, rows, "id")
}

// Rows returns the rows of table in insertion order.
func (g *MemoryGateway) Rows(table string) []snapshot.Row {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tables[table]
	if !ok {
		return nil
	}
	out := make([]snapshot.Row, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.rows[k])
	}
	return out
}

// AddBlob stores a file in bucket. Files added later sort as newer.
func (g *MemoryGateway) AddBlob(bucket, name string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.putLocked(bucket, name, data)
}

// AddFolder adds a folder placeholder to bucket listings.
func (g *MemoryGateway) AddFolder(bucket, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.folders[bucket] = append(g.folders[bucket], name)
}

// Blob returns the content of bucket/name.
func (g *MemoryGateway) Blob(bucket, name string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[bucket][name]
	if !ok {
		return nil, false
	}
	return bytes.Clone(b.data), true
}

// BlobNames returns the file names in bucket, sorted.
func (g *MemoryGateway) BlobNames(bucket string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.buckets[bucket]))
	for name := range g.buckets[bucket] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpsertCalls returns the recorded UpsertRows calls in order.
func (g *MemoryGateway) UpsertCalls() []UpsertCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]UpsertCall(nil), g.upsertCalls...)
}

func (g *MemoryGateway) FetchAllRows(ctx context.Context, table string) ([]snapshot.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.FailFetch[table]; err != nil {
		return nil, err
	}
	t, ok := g.tables[table]
	if !ok {
		return nil, &APIError{StatusCode: 404, Code: "42P01", Message: fmt.Sprintf("relation %q does not exist", table)}
	}
	out := make([]snapshot.Row, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.rows[k])
	}
	return out, nil
}

func (g *MemoryGateway) UpsertRows(ctx context.Context, table string, rows []snapshot.Row, conflictKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.upsertSeq[table]
	g.upsertSeq[table] = n + 1
	g.upsertCalls = append(g.upsertCalls, UpsertCall{Table: table, Rows: len(rows), ConflictKey: conflictKey})

	if err := g.FailUpsertBatch[BatchKey(table, n)]; err != nil {
		return err
	}
	return g.mergeLocked(table, rows, conflictKey)
}

// mergeLocked validates every row before applying any, so a rejected batch
// leaves the table untouched.
func (g *MemoryGateway) mergeLocked(table string, rows []snapshot.Row, conflictKey string) error {
	keys := make([]string, len(rows))
	for i, r := range rows {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(r, &fields); err != nil {
			return &APIError{StatusCode: 400, Code: "PGRST102", Message: fmt.Sprintf("invalid row: %v", err)}
		}
		key, ok := fields[conflictKey]
		if !ok {
			return &APIError{StatusCode: 400, Code: "23502", Message: fmt.Sprintf("row %d has no %q column", i, conflictKey)}
		}
		keys[i] = string(key)
	}

	t, ok := g.tables[table]
	if !ok {
		t = &memoryTable{rows: make(map[string]snapshot.Row)}
		g.tables[table] = t
	}
	for i, r := range rows {
		if _, exists := t.rows[keys[i]]; !exists {
			t.order = append(t.order, keys[i])
		}
		t.rows[keys[i]] = append(snapshot.Row(nil), r...)
	}
	return nil
}

func (g *MemoryGateway) ListBlobs(ctx context.Context, bucket string, opts snapshot.ListOptions) ([]snapshot.BlobEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.FailList[bucket]; err != nil {
		return nil, err
	}

	var entries []snapshot.BlobEntry
	for _, name := range g.folders[bucket] {
		if matches(name, opts) {
			entries = append(entries, snapshot.BlobEntry{Name: name})
		}
	}
	for name, b := range g.buckets[bucket] {
		if !matches(name, opts) {
			continue
		}
		entries = append(entries, snapshot.BlobEntry{
			ID:        "obj-" + name,
			Name:      name,
			CreatedAt: b.createdAt,
			UpdatedAt: b.updatedAt,
			Size:      int64(len(b.data)),
		})
	}

	sortEntries(entries, opts.SortBy)

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

func matches(name string, opts snapshot.ListOptions) bool {
	if opts.Prefix != "" && !strings.HasPrefix(name, opts.Prefix) {
		return false
	}
	return opts.Search == "" || strings.Contains(name, opts.Search)
}

func sortEntries(entries []snapshot.BlobEntry, by snapshot.SortBy) {
	less := func(a, b snapshot.BlobEntry) bool { return a.Name < b.Name }
	switch by.Column {
	case "created_at":
		less = func(a, b snapshot.BlobEntry) bool {
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.Name < b.Name
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
	case "updated_at":
		less = func(a, b snapshot.BlobEntry) bool {
			if a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.Name < b.Name
			}
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if by.Order == snapshot.SortDesc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

func (g *MemoryGateway) DownloadBlob(ctx context.Context, bucket, name string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	if err := g.FailDownload[BlobKey(bucket, name)]; err != nil {
		g.mu.Unlock()
		return err
	}
	b, ok := g.buckets[bucket][name]
	var data []byte
	if ok {
		data = bytes.Clone(b.data)
	}
	g.mu.Unlock()

	if !ok {
		return &APIError{StatusCode: 404, ErrorName: "not_found", Message: "Object not found"}
	}
	_, err := w.Write(data)
	return err
}

func (g *MemoryGateway) UploadBlob(ctx context.Context, bucket, name string, r io.Reader, size int64) error {
	return g.write(ctx, bucket, name, r, size, false)
}

func (g *MemoryGateway) ReplaceBlob(ctx context.Context, bucket, name string, r io.Reader, size int64) error {
	return g.write(ctx, bucket, name, r, size, true)
}

func (g *MemoryGateway) write(ctx context.Context, bucket, name string, r io.Reader, size int64, replace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading upload body: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.FailUpload[BlobKey(bucket, name)]; err != nil {
		return err
	}
	_, exists := g.buckets[bucket][name]
	switch {
	case replace && !exists:
		return &APIError{StatusCode: 404, ErrorName: "not_found", Message: "Object not found"}
	case !replace && exists:
		return &APIError{StatusCode: 409, ErrorName: "Duplicate", Message: "The resource already exists"}
	}
	g.putLocked(bucket, name, data)
	return nil
}

func (g *MemoryGateway) putLocked(bucket, name string, data []byte) {
	files, ok := g.buckets[bucket]
	if !ok {
		files = make(map[string]*memoryBlob)
		g.buckets[bucket] = files
	}
	now := g.now()
	if b, ok := files[name]; ok {
		b.data = bytes.Clone(data)
		b.updatedAt = now
		return
	}
	files[name] = &memoryBlob{data: bytes.Clone(data), createdAt: now, updatedAt: now}
}

var _ snapshot.Gateway = (*MemoryGateway)(nil)
