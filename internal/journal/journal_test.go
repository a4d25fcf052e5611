package journal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, Entry{
		RequestID: "req-1", Kind: "text", ReplyToken: "abcdefghijklmnop",
		Fragments: 1, StatusCode: 200, Delivered: true, CreatedAt: base,
	}))
	require.NoError(t, s.Record(ctx, Entry{
		RequestID: "req-2", Kind: "image", MediaID: "325708", Fragments: 1,
		StatusCode: 400, Error: "invalid reply token", Label: "happy",
		Latency: 1500 * time.Millisecond, CreatedAt: base.Add(time.Minute),
	}))

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "req-2", entries[0].RequestID, "newest first")
	assert.Equal(t, "325708", entries[0].MediaID)
	assert.False(t, entries[0].Delivered)
	assert.Equal(t, "happy", entries[0].Label)
	assert.Equal(t, 1500*time.Millisecond, entries[0].Latency)

	assert.Equal(t, "abcdefgh", entries[1].ReplyToken, "token truncated")
	assert.True(t, entries[1].Delivered)
	assert.True(t, entries[1].CreatedAt.Equal(base))
}

func TestRecent_Limit(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{RequestID: "r", Kind: "text"}))
	}
	entries, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPrune(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Record(ctx, Entry{RequestID: "old", Kind: "text", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.Record(ctx, Entry{RequestID: "new", Kind: "text", CreatedAt: now}))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].RequestID)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Entry{RequestID: "a", Kind: "text"}))
	require.NoError(t, s.Close())

	s, err = Open(path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	v, err := schemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	entries, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
