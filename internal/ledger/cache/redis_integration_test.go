//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/suite"

	platformconfig "demura/internal/platform/config"
	"demura/internal/platform/redis"
	"demura/pkg/domain"
	"demura/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	ctx       context.Context
	container *containers.RedisContainer
	cache     *Redis
}

func TestRedisCacheSuite(t *testing.T) {
	container := containers.NewRedisContainer(t)

	client, err := redis.New(platformconfig.RedisConfig{URL: container.Addr})
	if err != nil {
		t.Fatalf("create redis client: %v", err)
	}

	suite.Run(t, &RedisCacheSuite{
		ctx:       context.Background(),
		container: container,
		cache:     NewRedis(client),
	})
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.container.FlushAll(s.ctx))
}

func (s *RedisCacheSuite) TestMissOnEmptyCache() {
	_, ok, err := s.cache.Get(s.ctx, domain.AccountID("alice"), 0)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisCacheSuite) TestSetAndGet() {
	value, _ := uint256.FromDecimal("123456789012345678901234567890")
	s.Require().NoError(s.cache.Set(s.ctx, "alice", 3, value, time.Minute))

	got, ok, err := s.cache.Get(s.ctx, "alice", 3)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(value.Dec(), got.Dec())

	// A different period is a different key.
	_, ok, err = s.cache.Get(s.ctx, "alice", 4)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisCacheSuite) TestInvalidateDropsAllPeriods() {
	v := uint256.NewInt(42)
	s.Require().NoError(s.cache.Set(s.ctx, "alice", 1, v, time.Minute))
	s.Require().NoError(s.cache.Set(s.ctx, "alice", 2, v, time.Minute))
	s.Require().NoError(s.cache.Set(s.ctx, "bob", 1, v, time.Minute))

	s.Require().NoError(s.cache.Invalidate(s.ctx, "alice"))

	_, ok, err := s.cache.Get(s.ctx, "alice", 1)
	s.Require().NoError(err)
	s.False(ok)
	_, ok, err = s.cache.Get(s.ctx, "alice", 2)
	s.Require().NoError(err)
	s.False(ok)

	// Other accounts are untouched.
	_, ok, err = s.cache.Get(s.ctx, "bob", 1)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RedisCacheSuite) TestInvalidateMissingAccountIsNoop() {
	s.Require().NoError(s.cache.Invalidate(s.ctx, "nobody"))
}
