package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"souviens/internal/snapshot"
)

func TestFileSystemArchive_PutGet(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "backups")
	a := NewFileSystemArchive(root)

	data := []byte("[\n  {\n    \"id\": 1\n  }\n]")
	if err := a.Put(ctx, "2024-01-15/database/events.json", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	onDisk, err := os.ReadFile(filepath.Join(root, "2024-01-15", "database", "events.json"))
	if err != nil {
		t.Fatalf("file not written at the layout path: %v", err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Errorf("on-disk content = %q, want %q", onDisk, data)
	}

	var buf bytes.Buffer
	if err := a.Get(ctx, "2024-01-15/database/events.json", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("Get() = %q, want %q", buf.Bytes(), data)
	}
}

func TestFileSystemArchive_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	a := NewFileSystemArchive(t.TempDir())

	for _, content := range []string{"first", "second"} {
		if err := a.Put(ctx, "d/f", strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("Put(%q) error = %v", content, err)
		}
	}
	var buf bytes.Buffer
	if err := a.Get(ctx, "d/f", &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "second" {
		t.Errorf("content = %q, want second", buf.String())
	}
}

func TestFileSystemArchive_SizeMismatch(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a := NewFileSystemArchive(root)

	if err := a.Put(ctx, "d/f", strings.NewReader("abc"), 10); err == nil {
		t.Fatal("Put() expected size mismatch error")
	}
	if ok, _ := a.Exists(ctx, "d/f"); ok {
		t.Error("failed Put() left the destination behind")
	}
	entries, _ := os.ReadDir(filepath.Join(root, "d"))
	if len(entries) != 0 {
		t.Errorf("failed Put() left %d files behind", len(entries))
	}
}

func TestFileSystemArchive_NotFound(t *testing.T) {
	ctx := context.Background()
	a := NewFileSystemArchive(t.TempDir())

	if err := a.Get(ctx, "2024-01-15/metadata.json", &bytes.Buffer{}); !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := a.List(ctx, "2024-01-15/storage/media"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("List() error = %v, want ErrNotFound", err)
	}
	ok, err := a.Exists(ctx, "2024-01-15")
	if err != nil || ok {
		t.Errorf("Exists() = %v, %v, want false, nil", ok, err)
	}
}

func TestFileSystemArchive_List(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a := NewFileSystemArchive(root)

	for _, name := range []string{"b.jpg", "a.jpg", "c.png"} {
		if err := a.Put(ctx, "s/storage/media/"+name, strings.NewReader("x"), 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.MakeDir(ctx, "s/storage/media/nested"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "s", "storage", "media", ".tmp-123"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	names, err := a.List(ctx, "s/storage/media")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if strings.Join(names, ",") != "a.jpg,b.jpg,c.png" {
		t.Errorf("List() = %v, want [a.jpg b.jpg c.png]", names)
	}
}

func TestFileSystemArchive_MakeDirIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := NewFileSystemArchive(t.TempDir())

	for i := 0; i < 2; i++ {
		if err := a.MakeDir(ctx, "2024-01-15/storage/avatars"); err != nil {
			t.Fatalf("MakeDir() #%d error = %v", i, err)
		}
	}
	names, err := a.List(ctx, "2024-01-15/storage/avatars")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List() = %v, want empty", names)
	}
}

func TestFileSystemArchive_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	a := NewFileSystemArchive(t.TempDir())

	for _, key := range []string{"../outside", "a/../../outside", "/etc/passwd"} {
		if err := a.Put(ctx, key, strings.NewReader("x"), 1); err == nil {
			t.Errorf("Put(%q) should be rejected", key)
		}
	}
}

func TestFileSystemArchive_ValidateSetup(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "new", "backups")
		if err := NewFileSystemArchive(root).ValidateSetup(ctx); err != nil {
			t.Fatalf("ValidateSetup() error = %v", err)
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			t.Errorf("root not created: %v", err)
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(root, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := NewFileSystemArchive(root).ValidateSetup(ctx); err == nil {
			t.Error("ValidateSetup() expected error when root is a file")
		}
	})
}
