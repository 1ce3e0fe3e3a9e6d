package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "recognize:attempts"

// Limiter counts recent recognition attempts per identity so the transport
// layer can reject callers over the window threshold before any vendor call.
type Limiter interface {
	// CountRecentAttempts returns how many attempts the identity made
	// inside the trailing window
	CountRecentAttempts(ctx context.Context, identity string, window time.Duration) (int, error)

	// Record marks one attempt for the identity at the current time
	Record(ctx context.Context, identity string, window time.Duration) error
}

// RedisLimiter implements Limiter with a per-identity sorted set scored by
// attempt time, trimmed on every count.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a Redis-backed attempt counter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func attemptsKey(identity string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, identity)
}

// CountRecentAttempts trims entries older than the window, then counts what
// remains.
func (l *RedisLimiter) CountRecentAttempts(ctx context.Context, identity string, window time.Duration) (int, error) {
	key := attemptsKey(identity)
	cutoff := time.Now().Add(-window).UnixMilli()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return int(card.Val()), nil
}

// Record adds one attempt and refreshes the key expiry to twice the window,
// so abandoned identities age out of Redis on their own.
func (l *RedisLimiter) Record(ctx context.Context, identity string, window time.Duration) error {
	key := attemptsKey(identity)
	now := time.Now()

	pipe := l.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), uuid.New().String()),
	})
	pipe.Expire(ctx, key, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}
