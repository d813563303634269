package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, l Locker) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "hash")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocalMutualExclusion(t *testing.T) {
	l := NewLocal()
	exercise(t, l)
	assert.Zero(t, l.size())
}

func TestLocalIndependentKeys(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlockB, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockA()
	unlockB()
	unlockB()
	assert.Zero(t, l.size())
}

func TestLocalContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	unlock()
	assert.Zero(t, l.size())
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisMutualExclusion(t *testing.T) {
	_, client := setupTestRedis(t)
	exercise(t, NewRedis(client, time.Minute, time.Millisecond))
}

func TestRedisAcrossOwners(t *testing.T) {
	mr, client := setupTestRedis(t)
	a := NewRedis(client, time.Minute, time.Millisecond)
	b := NewRedis(client, time.Minute, time.Millisecond)
	assert.NotEqual(t, a.OwnerID(), b.OwnerID())

	unlock, err := a.Lock(context.Background(), "doc")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"doc"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx, "doc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists(keyPrefix+"doc"))
	unlockB, err := b.Lock(context.Background(), "doc")
	require.NoError(t, err)
	unlockB()
}

func TestRedisExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr, client := setupTestRedis(t)
	a := NewRedis(client, time.Second, time.Millisecond)
	b := NewRedis(client, time.Minute, time.Millisecond)

	unlockA, err := a.Lock(context.Background(), "doc")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	unlockB, err := b.Lock(context.Background(), "doc")
	require.NoError(t, err)
	unlockA()
	assert.True(t, mr.Exists(keyPrefix+"doc"))
	unlockB()
	assert.False(t, mr.Exists(keyPrefix+"doc"))
}

func TestRedisUnavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()
	_, err := NewRedis(client, time.Minute, time.Millisecond).Lock(context.Background(), "doc")
	assert.Error(t, err)
}
