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

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "job:job_1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestKeyedMutexExclusive(t *testing.T) {
	m := NewKeyedMutex()
	exerciseMutualExclusion(t, m)
	assert.Zero(t, m.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	releaseA, err := m.Acquire(context.Background(), "task:a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := m.Acquire(ctx, "task:b")
	require.NoError(t, err)
	releaseB()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.Acquire(context.Background(), "task:a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "task:a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Zero(t, m.size())
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, time.Second), mr
}

func TestRedisLockerExclusive(t *testing.T) {
	l, _ := newRedisLocker(t)
	l.retry = time.Millisecond
	exerciseMutualExclusion(t, l)
}

func TestRedisLockerReleaseDeletesOwnKeyOnly(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "ingest:abc")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:ingest:abc"))

	// Simulate expiry and takeover by another holder.
	mr.Set("lock:ingest:abc", "someone-else")
	release()
	got, err := mr.Get("lock:ingest:abc")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)

	mr.Del("lock:ingest:abc")
	release2, err := l.Acquire(ctx, "ingest:abc")
	require.NoError(t, err)
	release2()
	assert.False(t, mr.Exists("lock:ingest:abc"))
}

func TestRedisLockerTimesOutWhileHeld(t *testing.T) {
	l, _ := newRedisLocker(t)
	release, err := l.Acquire(context.Background(), "task:a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "task:a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLockerExpires(t *testing.T) {
	l, mr := newRedisLocker(t)
	_, err := l.Acquire(context.Background(), "task:a")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists("lock:task:a"))
}
