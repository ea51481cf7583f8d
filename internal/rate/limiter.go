package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned when the operation budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Policy is one operation budget: at most Limit calls per Window. A zero or
// negative Limit disables the check.
type Policy struct {
	Limit  int
	Window time.Duration
}

// checkScript increments the window counter, arms the TTL on the first hit,
// and reports the remaining window when the budget is exceeded. A single
// script keeps increment and expiry race-free under concurrent callers.
const checkScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if count > tonumber(ARGV[2]) then
  return {1, redis.call("PTTL", KEYS[1])}
end
return {0, 0}
`

var checkLua = redis.NewScript(checkScript)

// Limiter enforces fixed-window budgets per (project, operation) pair using
// Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a Limiter with the given key prefix (default "rl").
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (l *Limiter) key(projectID, operation string) string {
	return l.prefix + ":" + projectID + ":" + operation
}

// Check consumes one unit of the (projectID, operation) budget. When the
// budget is exhausted it returns ErrRateLimited along with the time until
// the window resets.
func (l *Limiter) Check(ctx context.Context, projectID, operation string, policy Policy) (time.Duration, error) {
	if policy.Limit <= 0 || policy.Window <= 0 {
		return 0, nil
	}

	res, err := checkLua.Run(ctx, l.redis,
		[]string{l.key(projectID, operation)},
		strconv.FormatInt(policy.Window.Milliseconds(), 10),
		strconv.Itoa(policy.Limit),
	).Slice()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) < 2 {
		return 0, fmt.Errorf("%w: short script reply", ErrRedisUnavailable)
	}

	limited, _ := res[0].(int64)
	if limited == 0 {
		return 0, nil
	}

	ttlMillis, _ := res[1].(int64)
	retryAfter := time.Duration(ttlMillis) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = policy.Window
	}
	return retryAfter, ErrRateLimited
}
