package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiltvault/vaultd/internal/domain"
)

//go:embed scripts/fixed_window.lua
var fixedWindowScript string

// RateLimiter implements distributed fixed-window rate limiting. The counter
// increment and TTL arming happen in one Lua script so concurrent requests
// cannot leave an unexpiring counter behind.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(fixedWindowScript),
	}
}

// Allow counts one request against the (endpoint, identity) window and
// reports whether it fits under limit. The request is counted even when
// rejected, so a client hammering a full window never sneaks through early.
func (rl *RateLimiter) Allow(ctx context.Context, endpoint, identity string, limit int, window time.Duration) (domain.RateLimitResult, error) {
	key := fmt.Sprintf("rate_limit:%s:%s", endpoint, identity)
	windowSec := int(window.Seconds())
	if windowSec < 1 {
		windowSec = 1
	}

	res, err := rl.script.Run(ctx, rl.rdb, []string{key}, limit, windowSec).Int64Slice()
	if err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return domain.RateLimitResult{}, fmt.Errorf("redis: rate limit %s: unexpected script reply", key)
	}

	count, ttl := res[0], res[1]
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitResult{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Duration(ttl) * time.Second),
	}, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
