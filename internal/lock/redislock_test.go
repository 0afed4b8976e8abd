package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerialisesHolders(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- locker.WithLock(ctx, "lock:cart:user:1", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()
	<-firstDone

	go func() {
		errs <- locker.WithLock(ctx, "lock:cart:user:1", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()
	close(releaseFirst)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTryAcquireReportsHeldLock(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.TryAcquire(ctx, "lock:checkout:42", time.Minute)
	require.NoError(t, err)

	_, err = locker.TryAcquire(ctx, "lock:checkout:42", time.Minute)
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	release()
	require.False(t, mr.Exists("lock:checkout:42"))

	_, err = locker.TryAcquire(ctx, "lock:checkout:42", time.Minute)
	require.NoError(t, err)
}

func TestReleaseDoesNotDropForeignLock(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.TryAcquire(ctx, "lock:cart:anon:x", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mr.Set("lock:cart:anon:x", "someone-else"))

	release()
	require.True(t, mr.Exists("lock:cart:anon:x"))
}

func TestWithLockGivesUpWhenContextEnds(t *testing.T) {
	locker, _ := newLocker(t)
	_, err := locker.TryAcquire(context.Background(), "lock:cart:user:2", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	called := false
	err = locker.WithLock(ctx, "lock:cart:user:2", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, called)
}
