// Package ratelimit implements the per-endpoint, per-IP token bucket
// spec.md §4.6 requires, process-safe across a multi-process deployment.
// It generalizes the Redis Lua-script token bucket from the pack's
// auth-service middleware (same HMGET/refill/PEXPIRE script, same
// fail-open-on-Redis-error policy) into a standalone Limiter usable
// outside an http.Handler wrapper, since spec.md's limits are applied per
// handler rather than per route-table entry.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a token bucket capacity and refill window for one endpoint.
type Rule struct {
	Name     string
	Capacity int
	Window   time.Duration
}

// spec.md §4.6 defaults.
var (
	RuleWebLogin      = Rule{Name: "web_login", Capacity: 5, Window: 15 * time.Minute}
	RuleAuthorize     = Rule{Name: "oauth_authorize", Capacity: 10, Window: time.Minute}
	RuleToken         = Rule{Name: "oauth_token", Capacity: 10, Window: time.Minute}
	RuleRevoke        = Rule{Name: "oauth_revoke", Capacity: 20, Window: time.Minute}
	RuleAdminBypass   = Rule{Name: "admin_bypass", Capacity: 5, Window: 15 * time.Minute}
	RuleAPIDefault    = Rule{Name: "api_default", Capacity: 100, Window: 15 * time.Minute}
)

// Limiter is the RateLimiter interface spec.md §9 names as a dynamic
// dispatch seam; production uses RedisLimiter, tests use a local fake.
type Limiter interface {
	// Allow reports whether principal may proceed under rule, and if not,
	// how long before retrying.
	Allow(ctx context.Context, rule Rule, principal string) (allowed bool, retryAfter time.Duration)
}

// RedisLimiter is process-safe across any number of gateway instances
// because the bucket state lives in Redis, checked and mutated atomically
// by a single Lua script (spec.md §4.6: "an external counter... is
// required").
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter builds a RedisLimiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local bucket = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])

if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local delta = now - ts
if delta < 0 then delta = 0 end

local refill = (delta * capacity) / window
tokens = math.min(capacity, tokens + refill)
ts = now

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", key, window)

local retryAfterMs = 0
if allowed == 0 then
  local need = 1 - tokens
  if need < 0 then need = 0 end
  retryAfterMs = math.ceil(need * window / capacity)
end

return {allowed, tokens, retryAfterMs}
`)

// Allow runs the token-bucket script atomically in Redis. On any Redis
// error it fails open (allows the request) so a cache outage never takes
// down authentication, matching the pack's own fail-open comment.
func (l *RedisLimiter) Allow(ctx context.Context, rule Rule, principal string) (bool, time.Duration) {
	key := fmt.Sprintf("ratelimit:%s:%s", rule.Name, principal)
	now := time.Now().UnixMilli()

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, now, rule.Capacity, rule.Window.Milliseconds()).Result()
	if err != nil {
		return true, 0
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return true, 0
	}

	allowed, _ := arr[0].(int64)
	retryMs, _ := toFloat(arr[2])
	var retryAfter time.Duration
	if retryMs > 0 {
		retryAfter = time.Duration(retryMs) * time.Millisecond
	}
	return allowed == 1, retryAfter
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
