package lock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/lock"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := lock.NewMemoryLocker()

	unlock, ok, err := l.TryLock(ctx, "job:abc")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "job:abc")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	_, ok, _ = l.TryLock(ctx, "job:other")
	assert.True(t, ok, "keys are independent")

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx), "unlock is idempotent")

	_, ok, _ = l.TryLock(ctx, "job:abc")
	assert.True(t, ok)
}

// TestRedisLocker runs against a real server named by CHUNKFLOW_TEST_REDIS_URL.
func TestRedisLocker(t *testing.T) {
	url := os.Getenv("CHUNKFLOW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CHUNKFLOW_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := lock.NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	first := lock.NewRedisLocker(rdb, time.Minute)
	second := lock.NewRedisLocker(rdb, time.Minute)

	unlock, ok, err := first.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	unlock, ok, err = second.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock(ctx))
}

func TestNewRedisClient_InvalidDB(t *testing.T) {
	_, err := lock.NewRedisClient(context.Background(), "redis://localhost:6379/notanumber")
	assert.ErrorContains(t, err, "invalid db number")
}
