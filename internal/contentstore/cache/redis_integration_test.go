//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dukcapil/internal/contentstore/memory"
	"dukcapil/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	ctx   context.Context
	redis *containers.RedisContainer
	inner *memory.Store
	store *Store
}

func TestRedisCacheSuite(t *testing.T) {
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.inner = memory.New()
	s.store = New(s.inner, s.redis.Client, time.Minute)
}

func (s *RedisCacheSuite) TestPutPopulatesCache() {
	cid, err := s.store.Put(s.ctx, []byte("sealed kk"))
	s.Require().NoError(err)

	ttl, err := s.redis.Client.TTL(s.ctx, keyPrefix+string(cid)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, time.Minute)
}

func (s *RedisCacheSuite) TestReadThroughFillsMiss() {
	cid, err := s.inner.Put(s.ctx, []byte("sealed index"))
	s.Require().NoError(err)

	n, err := s.redis.Client.Exists(s.ctx, keyPrefix+string(cid)).Result()
	s.Require().NoError(err)
	s.Zero(n)

	data, err := s.store.Get(s.ctx, cid)
	s.Require().NoError(err)
	s.Equal([]byte("sealed index"), data)

	cached, err := s.redis.Client.Get(s.ctx, keyPrefix+string(cid)).Bytes()
	s.Require().NoError(err)
	s.Equal([]byte("sealed index"), cached)
}
