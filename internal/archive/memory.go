package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"souviens/internal/snapshot"
)

// MemoryArchive keeps snapshots in memory. Safe for concurrent use.
type MemoryArchive struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

func (m *MemoryArchive) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	key = cleanKey(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	for d := path.Dir(key); d != "."; d = path.Dir(d) {
		m.dirs[d] = true
	}
	return nil
}

func (m *MemoryArchive) Get(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	data, ok := m.files[cleanKey(key)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", key, snapshot.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryArchive) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir = cleanKey(dir)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.dirs[dir] {
		return nil, fmt.Errorf("%s: %w", dir, snapshot.ErrNotFound)
	}
	var names []string
	for key := range m.files {
		if path.Dir(key) == dir {
			names = append(names, path.Base(key))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryArchive) MakeDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := cleanKey(dir); d != "." && d != ""; d = path.Dir(d) {
		m.dirs[d] = true
	}
	return nil
}

func (m *MemoryArchive) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = cleanKey(key)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isFile := m.files[key]
	return isFile || m.dirs[key], nil
}

// ValidateSetup always succeeds for the in-memory archive.
func (m *MemoryArchive) ValidateSetup(context.Context) error {
	return nil
}

// Keys returns every stored key, sorted.
func (m *MemoryArchive) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.files))
	for k := range m.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ snapshot.Archive = (*MemoryArchive)(nil)
