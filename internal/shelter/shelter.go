// Package shelter serves the daily shelter photo and its map link.
package shelter

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"shelterbot/internal/domain"
)

// Fetcher makes a remote object available locally. Implemented by
// storage.Cache.
type Fetcher interface {
	EnsureLocal(ctx context.Context, key string) (string, error)
}

// Config configures a Service.
type Config struct {
	Cache       Fetcher
	KeyPrefix   string // e.g. "shelter/image"
	BaseURL     string // public origin, without trailing slash
	MapLinkText string
	Location    *time.Location
	Now         func() time.Time // defaults to time.Now
	Logger      *slog.Logger
}

// Service builds the shelter reply fragments.
type Service struct {
	cache       Fetcher
	prefix      string
	baseURL     string
	mapLinkText string
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger
}

func New(cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:       cfg.Cache,
		prefix:      strings.Trim(cfg.KeyPrefix, "/"),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		mapLinkText: cfg.MapLinkText,
		loc:         loc,
		now:         now,
		logger:      logger,
	}
}

// Key returns the object key of the photo for the day containing t.
func (s *Service) Key(t time.Time) string {
	name := t.In(s.loc).Format("2006-01-02") + ".jpg"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Image returns today's photo as an image fragment, downloading it on the
// first request of the day.
func (s *Service) Image(ctx context.Context) (domain.ImageFragment, error) {
	key := s.Key(s.now())
	if _, err := s.cache.EnsureLocal(ctx, key); err != nil {
		return domain.ImageFragment{}, domain.NewPipelineError("shelter", "", err)
	}
	url := s.baseURL + "/static/" + key
	return domain.ImageFragment{OriginalContentURL: url, PreviewImageURL: url}, nil
}

func (s *Service) MapLink() domain.TextFragment {
	return domain.TextFragment{Text: s.mapLinkText}
}

// Prefetch downloads today's photo if it is not cached yet.
func (s *Service) Prefetch(ctx context.Context) error {
	key := s.Key(s.now())
	localPath, err := s.cache.EnsureLocal(ctx, key)
	if err != nil {
		return fmt.Errorf("prefetch %s: %w", key, err)
	}
	s.logger.Info("shelter photo ready", "key", key, "path", localPath)
	return nil
}

// Schedule registers Prefetch on a cron spec evaluated in the service's
// timezone. The caller owns the returned scheduler and must Start and Stop it.
func (s *Service) Schedule(ctx context.Context, spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(s.loc))
	_, err := c.AddFunc(spec, func() {
		runCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := s.Prefetch(runCtx); err != nil {
			s.logger.Warn("scheduled shelter prefetch failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prefetch schedule %q: %w", spec, err)
	}
	return c, nil
}
