package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	rdb, err := Connect(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestLeaseIsExclusive(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	name := "test-" + uuid.NewString()

	a := NewLease(rdb, name, "a", time.Minute)
	b := NewLease(rdb, name, "b", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// renew by the holder
	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Release(ctx)) // not the owner: no effect
	require.NoError(t, a.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}

func TestStatusCacheRoundTrip(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := StatusCache{RDB: rdb}
	id := time.Now().UnixNano()

	_, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, id, StatusEntry{Status: "EXPIRED", UpdatedAt: "2024-05-01T10:00:00"}))
	e, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "EXPIRED", e.Status)

	require.NoError(t, c.Delete(ctx, id))
	_, ok, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDedupFirstSeen(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	d := Dedup{RDB: rdb, Service: "test"}
	id := uuid.NewString()

	first, err := d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.False(t, first)

	require.NoError(t, d.Forget(ctx, id))
	first, err = d.FirstSeen(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)
}
