package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	valid := map[string]string{
		"a.jpg":                        "a.jpg",
		"shelter/image/2024-05-01.jpg": "shelter/image/2024-05-01.jpg",
		"shelter//image/./x.jpg":       "shelter/image/x.jpg",
	}
	for in, want := range valid {
		got, err := CleanKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "/etc/passwd", "../secret", "a/../../b", "..", `a\b`} {
		_, err := CleanKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestDiskStore_WriteCreatesIntermediateDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "static")
	store, err := NewDiskStore(root)
	require.NoError(t, err)

	key := "shelter/image/2024-05-01.jpg"
	assert.False(t, store.Exists(key))

	require.NoError(t, store.Write(key, strings.NewReader("photo")))
	assert.True(t, store.Exists(key))
	assert.Equal(t, filepath.Join(root, "shelter", "image", "2024-05-01.jpg"), store.Path(key))

	data, err := os.ReadFile(store.Path(key))
	require.NoError(t, err)
	assert.Equal(t, "photo", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "shelter", "image"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDiskStore_RejectsTraversal(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Write("../escape.jpg", strings.NewReader("x")))
	assert.False(t, store.Exists("../escape.jpg"))
	assert.Empty(t, store.Path("../escape.jpg"))
}

func TestDiskStore_DirectoryIsNotAFile(t *testing.T) {
	root := t.TempDir()
	store, err := NewDiskStore(root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))

	assert.False(t, store.Exists("dir"))
}

func TestMemStore(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Write("k/v.jpg", strings.NewReader("data")))

	assert.True(t, store.Exists("k/v.jpg"))
	assert.False(t, store.Exists("k/other.jpg"))
	assert.Equal(t, "mem://k/v.jpg", store.Path("k/v.jpg"))

	data, ok := store.Get("k/v.jpg")
	require.True(t, ok)
	assert.Equal(t, "data", string(data))
}
