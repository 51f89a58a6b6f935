package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// takeScript atomically implements the fixed-window take on Redis: deny
// without incrementing once the limit is reached, start a fresh window on
// the first request after expiry.
// ARGV: [1]=limit, [2]=window_ms
// Returns {allowed(0|1), count, pttl_ms}.
var takeScript = goredis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]))
if count and count >= tonumber(ARGV[1]) then
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
		ttl = tonumber(ARGV[2])
	end
	return {0, count, ttl}
end
local new = redis.call('INCR', KEYS[1])
if new == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
return {1, new, ttl}
`)

// RedisStore is the multi-instance Store: counters live in Redis with the
// window expressed as key TTL, so every instance sees the same fixed window.
type RedisStore struct {
	rdb   *goredis.Client
	clock clockwork.Clock
}

// NewRedisStore creates a store on the given Redis client.
func NewRedisStore(rdb *goredis.Client, clock clockwork.Clock) *RedisStore {
	return &RedisStore{rdb: rdb, clock: clock}
}

// Take implements Store via a Lua script, making the check-then-update
// sequence atomic on the Redis side.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	redisKey := "ratelimit:" + key

	result, err := takeScript.Run(ctx, s.rdb, []string{redisKey}, limit, window.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit take failed: %w", err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("rate limit take returned %d values, want 3", len(result))
	}

	allowed, ok1 := result[0].(int64)
	count, ok2 := result[1].(int64)
	ttlMs, ok3 := result[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return Decision{}, fmt.Errorf("rate limit take returned unexpected types %T/%T/%T", result[0], result[1], result[2])
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   allowed == 1,
		Remaining: remaining,
		ResetAt:   s.clock.Now().Add(time.Duration(ttlMs) * time.Millisecond),
	}, nil
}
