package redis

import (
	"context"
	"fmt"
	"time"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/util"
)

const (
	rateLimitPrefix   = "rate_limit:"
	ipRateLimitPrefix = "ip_rate_limit:"
	tempLockPrefix    = "temp_lock:"
)

// RateLimitCache implements fixed-window counters over Redis. Each
// increment extends the window so abusive sources stay throttled while
// they keep hammering.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

func (c *RateLimitCache) IncrementCounter(ctx context.Context, key string, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, rateLimitPrefix+key, ttl)
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			util.String("key", key),
			util.ErrorField(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return int(count), nil
}

// IncrementIPCounter is the per-IP window for unauthenticated
// endpoints.
func (c *RateLimitCache) IncrementIPCounter(ctx context.Context, ipAddress string, ttl time.Duration) (int, error) {
	return c.IncrementCounter(ctx, ipRateLimitPrefix+ipAddress, ttl)
}

// Temporary locks for sources that blow far past their limit.

func (c *RateLimitCache) SetTemporaryLock(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	success, err := c.client.SetNX(ctx, tempLockPrefix+key, "locked", ttl)
	if err != nil {
		return fmt.Errorf("failed to set temporary lock: %w", err)
	}
	if !success {
		return fmt.Errorf("temporary lock already exists for key: %s", key)
	}
	return nil
}

func (c *RateLimitCache) IsLocked(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, tempLockPrefix+key)
	if err != nil {
		return false, fmt.Errorf("failed to check lock: %w", err)
	}
	return exists, nil
}
