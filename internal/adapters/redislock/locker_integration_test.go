//go:build integration

package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"pageaudit/internal/ports"
)

type LockerSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
}

func TestLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LockerSuite))
}

func (s *LockerSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)
	s.client, err = Connect(ctx, url)
	s.Require().NoError(err)
}

func (s *LockerSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *LockerSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *LockerSuite) TestSecondHolderIsRejected() {
	ctx := context.Background()
	a := New(s.client)
	b := New(s.client)

	release, err := a.Acquire(ctx, "audit:1")
	s.Require().NoError(err)

	_, err = b.Acquire(ctx, "audit:1")
	s.ErrorIs(err, ports.ErrAlreadyRunning)

	release()
	again, err := b.Acquire(ctx, "audit:1")
	s.Require().NoError(err)
	again()
}

func (s *LockerSuite) TestReleaseKeepsForeignToken() {
	ctx := context.Background()
	l := New(s.client, WithTTL(300*time.Millisecond))

	release, err := l.Acquire(ctx, "audit:2")
	s.Require().NoError(err)

	// simulate expiry and takeover by another process
	s.Require().NoError(s.client.Set(ctx, defaultPrefix+"audit:2", "someone-else", time.Minute).Err())
	release()

	val, err := s.client.Get(ctx, defaultPrefix+"audit:2").Result()
	s.Require().NoError(err)
	s.Equal("someone-else", val)
}

func (s *LockerSuite) TestLockIsRenewed() {
	ctx := context.Background()
	l := New(s.client, WithTTL(300*time.Millisecond))

	release, err := l.Acquire(ctx, "audit:3")
	s.Require().NoError(err)
	defer release()

	time.Sleep(time.Second)
	exists, err := s.client.Exists(ctx, defaultPrefix+"audit:3").Result()
	s.Require().NoError(err)
	s.EqualValues(1, exists)
}
