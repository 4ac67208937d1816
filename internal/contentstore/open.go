// Package contentstore selects and assembles the configured blob backend.
package contentstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"dukcapil/internal/contentstore/cache"
	"dukcapil/internal/contentstore/core"
	"dukcapil/internal/contentstore/fs"
	"dukcapil/internal/contentstore/memory"
	"dukcapil/internal/contentstore/s3"
	"dukcapil/internal/contentstore/sqlite"
	"dukcapil/internal/platform/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Option adjusts Open.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	redis    redis.UniversalClient
	cacheTTL time.Duration
}

// WithLogger sets the logger handed to the cache layer.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRedisCache fronts the backend with a read-through Redis cache. A nil
// client leaves the backend uncached.
func WithRedisCache(client redis.UniversalClient, ttl time.Duration) Option {
	return func(o *options) {
		o.redis = client
		o.cacheTTL = ttl
	}
}

// Open builds the backend named by cfg.Driver. The returned Closer releases
// backend resources and is never nil.
func Open(ctx context.Context, cfg config.ContentStore, opts ...Option) (core.Store, io.Closer, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		store  core.Store
		closer io.Closer = nopCloser{}
	)
	switch core.Driver(cfg.Driver) {
	case core.DriverMemory:
		store = memory.New()
	case core.DriverFilesystem, "":
		st, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("open fs content store: %w", err)
		}
		store = st
	case core.DriverSQLite:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite content store: %w", err)
		}
		store, closer = st, st
	case core.DriverS3:
		st, err := s3.New(ctx, s3.Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 content store: %w", err)
		}
		store = st
	default:
		return nil, nil, fmt.Errorf("unknown content store driver %q", cfg.Driver)
	}

	if o.redis != nil {
		store = cache.New(store, o.redis, o.cacheTTL, cache.WithLogger(o.logger))
	}
	o.logger.InfoContext(ctx, "content store ready",
		"driver", string(store.Driver()),
		"cached", o.redis != nil,
	)
	return store, closer, nil
}
