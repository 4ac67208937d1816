// Package cache wraps a content store with a Redis read-through cache.
//
// Blobs are immutable and addressed by digest, so a cached entry can never be
// stale; the TTL only bounds memory.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"dukcapil/internal/contentstore/core"
	id "dukcapil/pkg/domain"
)

const keyPrefix = "dukcapil:blob:"

// Store decorates a core.Store.
type Store struct {
	inner  core.Store
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps inner. A zero ttl defaults to one hour.
func New(inner core.Store, client redis.UniversalClient, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Store{inner: inner, client: client, ttl: ttl, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Driver() core.Driver { return s.inner.Driver() }

func (s *Store) Put(ctx context.Context, data []byte) (id.ContentID, error) {
	cid, err := s.inner.Put(ctx, data)
	if err != nil {
		return "", err
	}
	s.fill(ctx, cid, data)
	return cid, nil
}

func (s *Store) Get(ctx context.Context, cid id.ContentID) ([]byte, error) {
	data, err := s.client.Get(ctx, keyPrefix+string(cid)).Bytes()
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, redis.Nil):
	default:
		// cache outages degrade to the backing store
		s.logger.WarnContext(ctx, "blob cache read failed", "content_id", cid, "error", err)
	}
	data, err = s.inner.Get(ctx, cid)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, cid, data)
	return data, nil
}

func (s *Store) fill(ctx context.Context, cid id.ContentID, data []byte) {
	if err := s.client.Set(ctx, keyPrefix+string(cid), data, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "blob cache write failed", "content_id", cid, "error", err)
	}
}
