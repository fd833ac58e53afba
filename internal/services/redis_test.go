package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisGetOrSet(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	load := func() (string, error) {
		calls++
		return "DevFest", nil
	}

	v, err := GetOrSet(cache, ctx, "event:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "DevFest", v)

	v, err = GetOrSet(cache, ctx, "event:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "DevFest", v)
	assert.Equal(t, 1, calls)

	mr.FastForward(2 * time.Minute)
	_, err = GetOrSet(cache, ctx, "event:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRedisGetOrSetErrorsAreNotCached(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := GetOrSet(cache, ctx, "event:2", time.Minute, func() (int, error) {
		return 0, errors.New("db down")
	})
	assert.Error(t, err)

	var v int
	assert.ErrorIs(t, cache.Get(ctx, "event:2", &v), ErrCacheMiss)
}

func TestRedisGetOrSetWithoutCache(t *testing.T) {
	v, err := GetOrSet[int](nil, context.Background(), "k", time.Minute, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestRedisLock(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	release, ok, err := cache.Lock(ctx, "lock:finalize:PAY-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = cache.Lock(ctx, "lock:finalize:PAY-1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("lock:finalize:PAY-1"))

	release2, ok, err := cache.Lock(ctx, "lock:finalize:PAY-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	defer release2()
}

func TestRedisLockReleaseKeepsForeignLock(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	release, ok, err := cache.Lock(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// our lock expires and someone else takes it
	mr.FastForward(2 * time.Second)
	_, ok, err = cache.Lock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	assert.True(t, mr.Exists("lock:a"))
}
