package snapshot_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"souviens/internal/archive"
	"souviens/internal/gateway"
	"souviens/internal/snapshot"
	"souviens/internal/testutil"
)

const testSource = "https://abc.supabase.co"

func newService(g snapshot.Gateway, a snapshot.Archive, opts snapshot.Options) *snapshot.Service {
	if opts.Source == "" {
		opts.Source = testSource
	}
	return snapshot.NewService(g, a, snapshot.NewNopLogger(), testutil.FixedClock(), opts)
}

func seedGateway(t *testing.T) *gateway.MemoryGateway {
	t.Helper()
	g := gateway.NewMemoryGateway()
	mustAddRows(t, g, "profiles", `{"id":"u1","name":"Marie"}`)
	mustAddRows(t, g, "events", `{"id":1,"title":"Mariage","date":"1962-06-02"}`, `{"id":2,"title":"Naissance","date":"1964-03-11"}`)
	mustAddRows(t, g, "media")
	mustAddRows(t, g, "stories", `{"id":10,"body":"Il était une fois"}`)
	g.AddBlob("media", "a.jpg", []byte("jpeg-a"))
	g.AddBlob("media", "b.jpg", []byte("jpeg-b"))
	g.AddBlob("media", "c.mp4", []byte("mp4-c"))
	g.AddBlob("avatars", "u1.png", []byte("png-u1"))
	return g
}

func mustAddRows(t *testing.T, g *gateway.MemoryGateway, table string, rows ...string) {
	t.Helper()
	rs := make([]snapshot.Row, len(rows))
	for i, r := range rows {
		rs[i] = snapshot.Row(r)
	}
	if err := g.AddRows(table, rs...); err != nil {
		t.Fatal(err)
	}
}

func readKey(t *testing.T, a snapshot.Archive, key string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := a.Get(context.Background(), key, &buf); err != nil {
		t.Fatalf("Get(%s) error = %v", key, err)
	}
	return buf.String()
}

var (
	allTables  = []string{"profiles", "events", "media", "stories"}
	allBuckets = []string{"media", "avatars"}
)

func TestService_Backup_WritesLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	g := gateway.NewMemoryGateway()
	mustAddRows(t, g, "profiles", `{"id":"u1","name":"Marie","born":1940}`)
	g.AddBlob("media", "a.jpg", []byte("jpeg-a"))

	svc := newService(g, archive.NewFileSystemArchive(root), snapshot.Options{})
	summary, err := svc.Backup(ctx, []string{"profiles"}, []string{"media", "avatars"})
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if summary.Label != "2024-01-15" {
		t.Errorf("Label = %q, want 2024-01-15", summary.Label)
	}

	dir := filepath.Join(root, "2024-01-15")
	table, err := os.ReadFile(filepath.Join(dir, "database", "profiles.json"))
	if err != nil {
		t.Fatalf("table export missing: %v", err)
	}
	wantTable := "[\n  {\n    \"id\": \"u1\",\n    \"name\": \"Marie\",\n    \"born\": 1940\n  }\n]"
	if string(table) != wantTable {
		t.Errorf("table export =\n%s\nwant\n%s", table, wantTable)
	}

	file, err := os.ReadFile(filepath.Join(dir, "storage", "media", "a.jpg"))
	if err != nil || string(file) != "jpeg-a" {
		t.Errorf("storage file = %q, %v, want jpeg-a", file, err)
	}

	if info, err := os.Stat(filepath.Join(dir, "storage", "avatars")); err != nil || !info.IsDir() {
		t.Errorf("empty bucket directory missing: %v", err)
	}

	manifest, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		t.Fatalf("metadata.json missing: %v", err)
	}
	wantManifest := `{
  "timestamp": "2024-01-15T10:30:00.000Z",
  "source": "https://abc.supabase.co",
  "tables": {
    "profiles": {
      "count": 1,
      "backed_up": true
    }
  },
  "storage_buckets": [
    "media",
    "avatars"
  ],
  "version": "1.0.0",
  "app": "SOUVIENS_TOI"
}`
	if string(manifest) != wantManifest {
		t.Errorf("metadata.json =\n%s\nwant\n%s", manifest, wantManifest)
	}
}

func TestService_Backup_EmptyTableWritesEmptyArray(t *testing.T) {
	ctx := context.Background()
	a := archive.NewMemoryArchive()
	g := seedGateway(t)

	svc := newService(g, a, snapshot.Options{})
	summary, err := svc.Backup(ctx, []string{"media"}, nil)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if got := readKey(t, a, "2024-01-15/database/media.json"); got != "[]" {
		t.Errorf("export = %q, want []", got)
	}
	if stat, _ := summary.Manifest.Tables.Get("media"); !stat.BackedUp || stat.Count != 0 {
		t.Errorf("manifest media = %+v, want backed up with count 0", stat)
	}
}

func TestService_Backup_TableIsolation(t *testing.T) {
	ctx := context.Background()
	a := archive.NewMemoryArchive()
	g := seedGateway(t)
	g.FailFetch["events"] = errors.New("permission denied for table events")

	svc := newService(g, a, snapshot.Options{})
	summary, err := svc.Backup(ctx, allTables, nil)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	for _, table := range []string{"profiles", "media", "stories"} {
		if ok, _ := a.Exists(ctx, snapshot.TableKey("2024-01-15", table)); !ok {
			t.Errorf("%s export missing", table)
		}
	}
	if ok, _ := a.Exists(ctx, snapshot.TableKey("2024-01-15", "events")); ok {
		t.Error("events export written despite fetch failure")
	}

	stat, ok := summary.Manifest.Tables.Get("events")
	if !ok {
		t.Fatal("events missing from manifest")
	}
	if stat.BackedUp || stat.Count != 0 {
		t.Errorf("manifest events = %+v, want count 0 backed_up false", stat)
	}
	if stat, _ := summary.Manifest.Tables.Get("stories"); !stat.BackedUp || stat.Count != 1 {
		t.Errorf("manifest stories = %+v, want 1 row backed up", stat)
	}
	if summary.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1", summary.Failures())
	}

	var names []string
	for _, e := range summary.Manifest.Tables {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != strings.Join(allTables, ",") {
		t.Errorf("manifest table order = %v, want %v", names, allTables)
	}
}

func TestService_Backup_FileIsolation(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			ctx := context.Background()
			a := archive.NewMemoryArchive()
			g := seedGateway(t)
			g.FailDownload[gateway.BlobKey("media", "b.jpg")] = errors.New("connection reset")

			svc := newService(g, a, snapshot.Options{Concurrency: concurrency})
			summary, err := svc.Backup(ctx, nil, []string{"media"})
			if err != nil {
				t.Fatalf("Backup() error = %v", err)
			}

			b := summary.Buckets[0]
			if b.Listed != 3 || b.Downloaded != 2 || b.Errors != 1 {
				t.Errorf("bucket = %+v, want listed 3 downloaded 2 errors 1", b)
			}
			names, err := a.List(ctx, snapshot.BucketDir("2024-01-15", "media"))
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(names, ",") != "a.jpg,c.mp4" {
				t.Errorf("archived files = %v, want [a.jpg c.mp4]", names)
			}
		})
	}
}

func TestService_Backup_EmptyBucket(t *testing.T) {
	ctx := context.Background()
	a := archive.NewMemoryArchive()
	g := gateway.NewMemoryGateway()

	svc := newService(g, a, snapshot.Options{})
	summary, err := svc.Backup(ctx, nil, []string{"avatars"})
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	names, err := a.List(ctx, snapshot.BucketDir("2024-01-15", "avatars"))
	if err != nil {
		t.Fatalf("List() error = %v, want the empty directory to exist", err)
	}
	if len(names) != 0 {
		t.Errorf("files = %v, want none", names)
	}
	if b := summary.Buckets[0]; b.Downloaded != 0 || b.Errors != 0 || b.Err != nil {
		t.Errorf("bucket = %+v, want no work and no errors", b)
	}
}

func TestService_Backup_SkipsFolders(t *testing.T) {
	ctx := context.Background()
	a := archive.NewMemoryArchive()
	g := gateway.NewMemoryGateway()
	g.AddFolder("media", "thumbnails")
	g.AddBlob("media", "a.jpg", []byte("a"))

	svc := newService(g, a, snapshot.Options{})
	summary, err := svc.Backup(ctx, nil, []string{"media"})
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if b := summary.Buckets[0]; b.Skipped != 1 || b.Downloaded != 1 || b.Errors != 0 {
		t.Errorf("bucket = %+v, want 1 skipped 1 downloaded", b)
	}
}

func TestService_Backup_ListingLimit(t *testing.T) {
	ctx := context.Background()
	g := gateway.NewMemoryGateway()
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"} {
		g.AddBlob("media", name, []byte(name))
	}

	t.Run("single page keeps the newest files", func(t *testing.T) {
		a := archive.NewMemoryArchive()
		svc := newService(g, a, snapshot.Options{ListLimit: 2})
		summary, err := svc.Backup(ctx, nil, []string{"media"})
		if err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		b := summary.Buckets[0]
		if !b.Truncated || b.Downloaded != 2 {
			t.Errorf("bucket = %+v, want truncated with 2 downloads", b)
		}
		names, _ := a.List(ctx, snapshot.BucketDir("2024-01-15", "media"))
		if strings.Join(names, ",") != "4.jpg,5.jpg" {
			t.Errorf("files = %v, want the two newest", names)
		}
	})

	t.Run("pagination fetches everything", func(t *testing.T) {
		a := archive.NewMemoryArchive()
		svc := newService(g, a, snapshot.Options{ListLimit: 2, Paginate: true})
		summary, err := svc.Backup(ctx, nil, []string{"media"})
		if err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		if b := summary.Buckets[0]; b.Truncated || b.Downloaded != 5 {
			t.Errorf("bucket = %+v, want 5 downloads", b)
		}
	})
}

func TestService_Backup_BucketListingFailure(t *testing.T) {
	ctx := context.Background()
	a := archive.NewMemoryArchive()
	g := seedGateway(t)
	g.FailList["media"] = errors.New("bucket not found")

	svc := newService(g, a, snapshot.Options{})
	summary, err := svc.Backup(ctx, []string{"profiles"}, allBuckets)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if summary.Buckets[0].Err == nil {
		t.Error("media bucket error not recorded")
	}
	if summary.Buckets[1].Downloaded != 1 {
		t.Errorf("avatars downloaded = %d, want 1", summary.Buckets[1].Downloaded)
	}
	if ok, _ := a.Exists(ctx, snapshot.ManifestKey("2024-01-15")); !ok {
		t.Error("manifest not written")
	}
}

func TestService_Backup_SameDayMerge(t *testing.T) {
	ctx := context.Background()
	a := archive.NewMemoryArchive()
	g := seedGateway(t)
	svc := newService(g, a, snapshot.Options{})

	if _, err := svc.Backup(ctx, nil, []string{"media"}); err != nil {
		t.Fatal(err)
	}
	g.AddBlob("media", "d.jpg", []byte("d"))
	if _, err := svc.Backup(ctx, []string{"events"}, []string{"media"}); err != nil {
		t.Fatal(err)
	}

	names, _ := a.List(ctx, snapshot.BucketDir("2024-01-15", "media"))
	if len(names) != 4 {
		t.Errorf("files = %v, want 4 after the second run", names)
	}
	m, err := svc.LoadManifest(ctx, "2024-01-15")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Tables) != 1 || m.Tables[0].Name != "events" {
		t.Errorf("manifest tables = %+v, want the second run only", m.Tables)
	}
}

func TestService_Backup_Duration(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock().Step(1500 * time.Millisecond)
	svc := snapshot.NewService(seedGateway(t), archive.NewMemoryArchive(), snapshot.NewNopLogger(), clock, snapshot.Options{})

	summary, err := svc.Backup(ctx, []string{"profiles"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", summary.Duration)
	}
	if summary.Manifest.Timestamp != "2024-01-15T10:30:01.500Z" {
		t.Errorf("Timestamp = %q, want end of run", summary.Manifest.Timestamp)
	}
}

func TestService_Backup_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := archive.NewMemoryArchive()
	svc := newService(seedGateway(t), a, snapshot.Options{})
	_, err := svc.Backup(ctx, allTables, allBuckets)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Backup() error = %v, want context.Canceled", err)
	}
}

// failingArchive fails Put for one key.
type failingArchive struct {
	*archive.MemoryArchive
	failKey string
}

func (f *failingArchive) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.MemoryArchive.Put(ctx, key, r, size)
}

func TestService_Backup_ManifestWriteFailure(t *testing.T) {
	a := &failingArchive{MemoryArchive: archive.NewMemoryArchive(), failKey: "2024-01-15/metadata.json"}
	svc := newService(seedGateway(t), a, snapshot.Options{})

	summary, err := svc.Backup(context.Background(), []string{"profiles"}, nil)
	if err == nil {
		t.Fatal("Backup() expected error when the manifest cannot be written")
	}
	if summary == nil || len(summary.Tables) != 1 || !summary.Tables[0].BackedUp {
		t.Errorf("summary = %+v, want the table outcome kept", summary)
	}
}

func TestService_Backup_TableWriteFailure(t *testing.T) {
	a := &failingArchive{MemoryArchive: archive.NewMemoryArchive(), failKey: "2024-01-15/database/events.json"}
	svc := newService(seedGateway(t), a, snapshot.Options{})

	summary, err := svc.Backup(context.Background(), []string{"events", "stories"}, nil)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if summary.Tables[0].BackedUp {
		t.Error("events marked backed up despite write failure")
	}
	if !summary.Tables[1].BackedUp {
		t.Error("stories not backed up")
	}
}
