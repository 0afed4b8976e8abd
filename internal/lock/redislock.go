package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotAcquired means another holder owns the key right now.
var ErrNotAcquired = errors.New("lock: already held")

// compare-and-delete so a holder whose TTL lapsed cannot free a successor's lock
var unlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])`)

const (
	defaultTTL     = 30 * time.Second
	defaultBackoff = 50 * time.Millisecond
)

// Locker is a single-instance Redis lock, one key per resource. Carts use it
// so concurrent writes for one owner from different replicas apply in turn.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// Release gives the lock back. Calling it after the TTL lapsed is harmless.
type Release func()

// TryAcquire makes one attempt at key.
func (l Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	owner := uuid.NewString()
	err := l.R.SetArgs(ctx, key, owner, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNotAcquired
	case err != nil:
		return nil, err
	}
	return func() {
		_ = unlock.Run(context.WithoutCancel(ctx), l.R, []string{key}, owner).Err()
	}, nil
}

// WithLock polls for key until it is free or ctx ends, runs fn and releases.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	started := time.Now()
	ticker := time.NewTicker(backoff)
	defer ticker.Stop()
	for {
		release, err := l.TryAcquire(ctx, key, ttl)
		if err == nil {
			if waited := time.Since(started); waited > time.Second {
				zerolog.Ctx(ctx).Debug().Str("key", key).Dur("waited", waited).Msg("lock_contended")
			}
			defer release()
			return fn(ctx)
		}
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
