package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/media-relay/internal/config"
)

type testStruct struct {
	Name string
	Age  int
}

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestSetAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	expected := testStruct{Name: "Alice", Age: 30}
	require.NoError(t, cache.Set(ctx, "user:1", expected, time.Minute))

	var actual testStruct
	found, err := cache.Get(ctx, "user:1", &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected, actual)
}

func TestGetNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var out testStruct
	found, err := cache.Get(context.Background(), "no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetExpires(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "awaiting", true, 10*time.Minute))
	mr.FastForward(11 * time.Minute)

	var out bool
	found, err := cache.Get(ctx, "awaiting", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, cache.Invalidate(ctx, "key"))

	var out string
	found, err := cache.Get(ctx, "key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetInvalidJSON(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Db.Set(ctx, "bad", []byte("not-json"), time.Minute).Err())

	var out testStruct
	found, err := cache.Get(ctx, "bad", &out)
	assert.Error(t, err)
	assert.False(t, found)
}

func TestTryLock(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	token, ok, err := cache.TryLock(ctx, "lock:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = cache.TryLock(ctx, "lock:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	// Чужой токен не снимает блокировку.
	require.NoError(t, cache.Unlock(ctx, "lock:1", "someone-else"))
	assert.True(t, mr.Exists("lock:1"))

	require.NoError(t, cache.Unlock(ctx, "lock:1", token))
	assert.False(t, mr.Exists("lock:1"))

	_, ok, err = cache.TryLock(ctx, "lock:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryLock_Expires(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	_, ok, err := cache.TryLock(ctx, "lock:2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = cache.TryLock(ctx, "lock:2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInitServer_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = InitServer(context.Background(), config.RedisConnection{AddressRedis: addr, DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}
