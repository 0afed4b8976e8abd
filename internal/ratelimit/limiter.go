package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Backend decides whether another request for key fits in the budget.
type Backend interface {
	Take(ctx context.Context, key string) (Decision, error)
}

// Sliding is a sliding-window limiter backed by Redis sorted sets. It is
// used where a fixed window would let a burst straddle the boundary, such
// as checkout submissions.
type Sliding struct {
	Client *redis.Client
	Prefix string
	Rate   limiter.Rate
}

// Take implements Backend.
func (l Sliding) Take(ctx context.Context, key string) (Decision, error) {
	limit, window := int(l.Rate.Limit), l.Rate.Period
	now := time.Now()
	until := now.Add(window)
	if l.Client == nil || limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit, Reset: until}, nil
	}

	redisKey := l.Prefix + key
	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%d", now.Add(-window).UnixNano()))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	current := int(count.Val())
	return Decision{
		Allowed:   current <= limit,
		Limit:     limit,
		Remaining: max(limit-current, 0),
		Reset:     until,
	}, nil
}

// Fixed adapts a ulule limiter, whose store may be Redis or memory.
type Fixed struct {
	Limiter *limiter.Limiter
}

// Take implements Backend.
func (f Fixed) Take(ctx context.Context, key string) (Decision, error) {
	lc, err := f.Limiter.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !lc.Reached,
		Limit:     int(lc.Limit),
		Remaining: int(lc.Remaining),
		Reset:     time.Unix(lc.Reset, 0),
	}, nil
}
