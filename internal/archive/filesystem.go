package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"souviens/internal/snapshot"
)

// tmpPrefix marks partially written files; they never appear in listings.
const tmpPrefix = ".tmp-"

// FileSystemArchive stores snapshots as a plain directory tree:
//
//	<root>/
//	  <YYYY-MM-DD>/
//	    database/<table>.json
//	    storage/<bucket>/<file>
//	    metadata.json
//
// Files are written atomically and hold exactly the bytes given to Put.
type FileSystemArchive struct {
	root string
}

// NewFileSystemArchive creates an archive rooted at root. The directory is
// created on first write.
func NewFileSystemArchive(root string) *FileSystemArchive {
	return &FileSystemArchive{root: root}
}

// Root returns the directory the archive is rooted at.
func (a *FileSystemArchive) Root() string {
	return a.root
}

// resolve maps a slash-separated key to a path under root, rejecting keys
// that would escape it.
func (a *FileSystemArchive) resolve(key string) (string, error) {
	if key == "" {
		return a.root, nil
	}
	if path.IsAbs(key) || strings.Contains(key, `\`) {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive key %q escapes the archive root", key)
	}
	return filepath.Join(a.root, filepath.FromSlash(clean)), nil
}

// Put writes r to key through a temp file and rename.
func (a *FileSystemArchive) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := a.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (a *FileSystemArchive) Get(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := a.resolve(key)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, snapshot.ErrNotFound)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", key)
	}

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// List returns the regular files directly under dir. Subdirectories and
// partial writes are left out.
func (a *FileSystemArchive) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := a.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, snapshot.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (a *FileSystemArchive) MakeDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := a.resolve(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func (a *FileSystemArchive) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := a.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// ValidateSetup creates the root if needed and checks that it is a
// writable directory.
func (a *FileSystemArchive) ValidateSetup(ctx context.Context) error {
	if err := os.MkdirAll(a.root, 0755); err != nil {
		return fmt.Errorf("archive root not accessible: %w", err)
	}
	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("archive root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive root is not a directory: %s", a.root)
	}

	probe, err := os.CreateTemp(a.root, tmpPrefix+"probe-*")
	if err != nil {
		return fmt.Errorf("archive root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

var _ snapshot.Archive = (*FileSystemArchive)(nil)
