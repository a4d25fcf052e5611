package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"shelterbot/internal/domain"
)

// DownloadObserver is notified after each remote download attempt.
type DownloadObserver interface {
	ObjectDownloaded(ok bool, dur time.Duration)
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	Local    Store
	Remote   ObjectStore
	Timeout  time.Duration // per download, default one minute
	Observer DownloadObserver
	Logger   *slog.Logger
}

const defaultDownloadTimeout = time.Minute

// Cache mirrors remote objects into a local Store under the same key.
type Cache struct {
	local    Store
	remote   ObjectStore
	timeout  time.Duration
	observer DownloadObserver
	logger   *slog.Logger
	group    singleflight.Group
}

func NewCache(cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &Cache{
		local:    cfg.Local,
		remote:   cfg.Remote,
		timeout:  timeout,
		observer: cfg.Observer,
		logger:   logger,
	}
}

// EnsureLocal returns the local path of key, downloading it first when the
// local store does not have it. Concurrent callers for the same key share a
// single download, which is not cancelled when one of them gives up.
// Failures wrap domain.ErrStorage.
func (c *Cache) EnsureLocal(ctx context.Context, key string) (string, error) {
	if _, err := CleanKey(key); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if c.local.Exists(key) {
		return c.local.Path(key), nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have finished between the check and DoChan.
		if c.local.Exists(key) {
			return c.local.Path(key), nil
		}
		if err := c.download(context.WithoutCancel(ctx), key); err != nil {
			return "", err
		}
		return c.local.Path(key), nil
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %w", domain.ErrStorage, key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (c *Cache) download(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var buf bytes.Buffer
	err := c.remote.Download(ctx, key, &buf)
	size := buf.Len()
	if err == nil {
		err = c.local.Write(key, &buf)
	}
	dur := time.Since(start)
	if c.observer != nil {
		c.observer.ObjectDownloaded(err == nil, dur)
	}
	if err != nil {
		c.logger.Error("object download failed", "key", key, "err", err)
		return fmt.Errorf("%w: %s: %v", domain.ErrStorage, key, err)
	}

	c.logger.Info("object cached", "key", key, "bytes", size, "duration", dur)
	return nil
}
