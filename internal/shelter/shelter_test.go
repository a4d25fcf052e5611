package shelter

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelterbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeFetcher struct {
	keys []string
	err  error
}

func (f *fakeFetcher) EnsureLocal(_ context.Context, key string) (string, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return "", f.err
	}
	return "/static/" + key, nil
}

func taipei(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)
	return loc
}

func newService(t *testing.T, f Fetcher, now time.Time) *Service {
	return New(Config{
		Cache:       f,
		KeyPrefix:   "shelter/image/",
		BaseURL:     "https://bot.example.com/",
		MapLinkText: "map here",
		Location:    taipei(t),
		Now:         func() time.Time { return now },
		Logger:      testLogger(),
	})
}

func TestKey_UsesConfiguredTimezone(t *testing.T) {
	svc := newService(t, &fakeFetcher{}, time.Time{})

	// 2024-05-01 17:00 UTC is already 2024-05-02 in Taipei.
	ts := time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, "shelter/image/2024-05-02.jpg", svc.Key(ts))

	ts = time.Date(2024, 5, 1, 15, 59, 0, 0, time.UTC)
	assert.Equal(t, "shelter/image/2024-05-01.jpg", svc.Key(ts))
}

func TestKey_NoPrefix(t *testing.T) {
	svc := New(Config{Cache: &fakeFetcher{}})
	assert.Equal(t, "2024-05-01.jpg", svc.Key(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestImage_URLMatchesKey(t *testing.T) {
	f := &fakeFetcher{}
	now := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	svc := newService(t, f, now)

	img, err := svc.Image(context.Background())
	require.NoError(t, err)

	want := "https://bot.example.com/static/shelter/image/2024-05-01.jpg"
	assert.Equal(t, want, img.OriginalContentURL)
	assert.Equal(t, want, img.PreviewImageURL)
	assert.Equal(t, []string{"shelter/image/2024-05-01.jpg"}, f.keys)
}

func TestImage_DateFollowsClock(t *testing.T) {
	f := &fakeFetcher{}
	now := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	svc := New(Config{
		Cache:    f,
		Location: taipei(t),
		Now:      func() time.Time { return now },
	})

	_, err := svc.Image(context.Background())
	require.NoError(t, err)
	now = now.Add(24 * time.Hour)
	_, err = svc.Image(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-05-01.jpg", "2024-05-02.jpg"}, f.keys)
}

func TestImage_StorageErrorPropagates(t *testing.T) {
	f := &fakeFetcher{err: domain.ErrStorage}
	svc := newService(t, f, time.Now())

	_, err := svc.Image(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorage))

	var pe *domain.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "shelter", pe.Stage)
}

func TestMapLink(t *testing.T) {
	svc := newService(t, &fakeFetcher{}, time.Now())
	assert.Equal(t, domain.TextFragment{Text: "map here"}, svc.MapLink())
}

func TestPrefetch(t *testing.T) {
	f := &fakeFetcher{}
	svc := newService(t, f, time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC))
	require.NoError(t, svc.Prefetch(context.Background()))
	assert.Equal(t, []string{"shelter/image/2024-05-01.jpg"}, f.keys)

	f.err = domain.ErrStorage
	assert.True(t, errors.Is(svc.Prefetch(context.Background()), domain.ErrStorage))
}

func TestSchedule(t *testing.T) {
	svc := newService(t, &fakeFetcher{}, time.Now())

	c, err := svc.Schedule(context.Background(), "5 0 * * *", time.Second)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
	assert.Equal(t, taipei(t).String(), c.Location().String())

	_, err = svc.Schedule(context.Background(), "every day", time.Second)
	assert.Error(t, err)
}
