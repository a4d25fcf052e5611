// Package storage holds the local static-file store and the object-store
// cache that fills it.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Store is a key addressed file store. Keys are slash separated and
// relative, e.g. "shelter/image/2024-05-01.jpg".
type Store interface {
	Exists(key string) bool
	Write(key string, r io.Reader) error
	Path(key string) string
}

// CleanKey normalises a key and rejects keys that escape the store root.
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("key %q escapes the store root", key)
	}
	return cleaned, nil
}

// DiskStore keeps files under a root directory.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", root, err)
	}
	return &DiskStore{root: root}, nil
}

func (d *DiskStore) Root() string { return d.root }

// Path returns the local path for key. Invalid keys map to an empty string.
func (d *DiskStore) Path(key string) string {
	cleaned, err := CleanKey(key)
	if err != nil {
		return ""
	}
	return filepath.Join(d.root, filepath.FromSlash(cleaned))
}

func (d *DiskStore) Exists(key string) bool {
	p := d.Path(key)
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// Write stores r under key. Data lands in a temp file first and is renamed
// into place, so readers never see a partial file.
func (d *DiskStore) Write(key string, r io.Reader) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	dst := filepath.Join(d.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{files: make(map[string][]byte)}
}

func (m *MemStore) Path(key string) string {
	cleaned, err := CleanKey(key)
	if err != nil {
		return ""
	}
	return "mem://" + cleaned
}

func (m *MemStore) Exists(key string) bool {
	cleaned, err := CleanKey(key)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[cleaned]
	return ok
}

func (m *MemStore) Write(key string, r io.Reader) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	m.mu.Lock()
	m.files[cleaned] = buf.Bytes()
	m.mu.Unlock()
	return nil
}

// Get returns the stored bytes for key.
func (m *MemStore) Get(key string) ([]byte, bool) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[cleaned]
	return data, ok
}

var (
	_ Store = (*DiskStore)(nil)
	_ Store = (*MemStore)(nil)
)
