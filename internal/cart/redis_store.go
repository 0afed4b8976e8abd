package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	fieldItems      = "items"
	fieldTotalItems = "totalItems"
	fieldTotal      = "total"
)

// RedisStore persists snapshots as a Redis hash with one field per component,
// written in a single MULTI block.
type RedisStore struct {
	R      *redis.Client
	Prefix string
	TTL    time.Duration
}

func (s RedisStore) key(owner string) string {
	prefix := strings.TrimSpace(s.Prefix)
	if prefix == "" {
		prefix = "cart"
	}
	return prefix + ":" + strings.TrimSpace(owner)
}

func (s RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.TTL
}

// Load reads the hash for owner. A hash missing any field is reported as
// ErrCorruptSnapshot.
func (s RedisStore) Load(ctx context.Context, owner string) (Snapshot, error) {
	if s.R == nil {
		return Snapshot{}, errors.New("cart: redis client not configured")
	}
	fields, err := s.R.HGetAll(ctx, s.key(owner)).Result()
	if err != nil {
		return Snapshot{}, err
	}
	if len(fields) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	rawItems, okItems := fields[fieldItems]
	rawCount, okCount := fields[fieldTotalItems]
	rawTotal, okTotal := fields[fieldTotal]
	if !okItems || !okCount || !okTotal {
		return Snapshot{}, fmt.Errorf("%w: partial hash", ErrCorruptSnapshot)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(rawItems), &snap.Items); err != nil {
		return Snapshot{}, errors.Join(ErrCorruptSnapshot, err)
	}
	if snap.TotalItems, err = strconv.Atoi(rawCount); err != nil {
		return Snapshot{}, errors.Join(ErrCorruptSnapshot, err)
	}
	if snap.Total, err = decimal.NewFromString(rawTotal); err != nil {
		return Snapshot{}, errors.Join(ErrCorruptSnapshot, err)
	}
	return snap, nil
}

// Save replaces the hash for owner and refreshes its expiry.
func (s RedisStore) Save(ctx context.Context, owner string, snap Snapshot) error {
	if s.R == nil {
		return errors.New("cart: redis client not configured")
	}
	items := snap.Items
	if items == nil {
		items = []Item{}
	}
	rawItems, err := json.Marshal(items)
	if err != nil {
		return err
	}
	key := s.key(owner)
	_, err = s.R.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldItems, string(rawItems),
			fieldTotalItems, strconv.Itoa(snap.TotalItems),
			fieldTotal, snap.Total.String(),
		)
		pipe.Expire(ctx, key, s.ttl())
		return nil
	})
	return err
}
