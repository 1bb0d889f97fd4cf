package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	m := NewMemory(2, time.Minute)
	m.now = func() time.Time { return now }

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := m.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := m.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	// other keys have their own budget
	ok, _, _ = m.Allow(ctx, "5.6.7.8")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _, _ = m.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func TestRedis_FixedWindow(t *testing.T) {
	mr, rdb := newMiniredis(t)
	l := NewRedis(rdb, 2, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "login:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := l.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry)

	mr.FastForward(31 * time.Second)

	ok, _, err = l.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_RestoresLostExpiry(t *testing.T) {
	mr, rdb := newMiniredis(t)
	l := NewRedis(rdb, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set(keyPrefix+"k", "5"))

	ok, retry, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"k"))
}

func TestRedis_ErrorWhenUnavailable(t *testing.T) {
	mr, rdb := newMiniredis(t)
	mr.Close()

	_, _, err := NewRedis(rdb, 1, time.Minute).Allow(context.Background(), "k")
	assert.Error(t, err)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestFallback_UsesSecondaryOnError(t *testing.T) {
	f := NewFallback(brokenLimiter{}, NewMemory(1, time.Minute), nil)
	ctx := context.Background()

	ok, _, err := f.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, retry, err := f.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Positive(t, retry)
}
