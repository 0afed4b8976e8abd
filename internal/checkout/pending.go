package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPendingStore keeps pending gateway checkouts as JSON strings with a TTL.
type RedisPendingStore struct {
	R      *redis.Client
	Prefix string
}

func (s RedisPendingStore) key(userID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "checkout:pending:"
	}
	return prefix + userID
}

// Save implements PendingStore.
func (s RedisPendingStore) Save(ctx context.Context, userID string, p Pending, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending checkout: %w", err)
	}
	return s.R.Set(ctx, s.key(userID), raw, ttl).Err()
}

// Load implements PendingStore.
func (s RedisPendingStore) Load(ctx context.Context, userID string) (Pending, bool, error) {
	raw, err := s.R.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, err
	}
	var p Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pending{}, false, fmt.Errorf("decode pending checkout: %w", err)
	}
	return p, true, nil
}

// Delete implements PendingStore.
func (s RedisPendingStore) Delete(ctx context.Context, userID string) error {
	return s.R.Del(ctx, s.key(userID)).Err()
}
