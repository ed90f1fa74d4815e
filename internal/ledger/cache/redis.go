// Package cache provides the optional Redis-backed decayed-balance cache.
// A cached value is only valid for the (account, period) pair it was
// computed in and must be dropped whenever the account's raw value
// changes, so the TTL is a backstop, not the consistency mechanism.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	goredis "github.com/redis/go-redis/v9"

	"demura/internal/platform/redis"
	"demura/pkg/domain"
)

const keyPrefix = "demura:balance"

// Redis caches decayed balances keyed by account and period.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps the platform Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func balanceKey(account domain.AccountID, period uint64) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, account, period)
}

func accountPattern(account domain.AccountID) string {
	return fmt.Sprintf("%s:%s:*", keyPrefix, account)
}

// Get returns the cached decayed balance for the account in the given
// period, if present.
func (r *Redis) Get(ctx context.Context, account domain.AccountID, period uint64) (*uint256.Int, bool, error) {
	raw, err := r.client.Get(ctx, balanceKey(account, period)).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		return nil, false, nil
	}
	return v, true, nil
}

// Set stores the decayed balance with the given TTL.
func (r *Redis) Set(ctx context.Context, account domain.AccountID, period uint64, value *uint256.Int, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := r.client.Set(ctx, balanceKey(account, period), value.Dec(), ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops all cached periods for the account.
func (r *Redis) Invalidate(ctx context.Context, account domain.AccountID) error {
	iter := r.client.Scan(ctx, 0, accountPattern(account), 64).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
