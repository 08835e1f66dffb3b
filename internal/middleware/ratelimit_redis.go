package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills capacity tokens per minute in whole intervals
// and takes one. Returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local interval_ms = tonumber(ARGV[3])
	local ttl_seconds = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals)
		last_refill = last_refill + (intervals * interval_ms)
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// RedisBucket is a token bucket kept in Redis and updated by one Lua call
// per request.
type RedisBucket struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisBucket(client redis.Scripter, prefix string) *RedisBucket {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisBucket{client: client, prefix: prefix, now: time.Now}
}

func (b *RedisBucket) Take(ctx context.Context, key string, perMinute int) (bool, time.Duration, error) {
	if perMinute <= 0 {
		return true, 0, nil
	}

	interval := time.Minute / time.Duration(perMinute)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	vals, err := tokenBucketScript.Run(ctx, b.client, []string{b.prefix + ":" + key},
		b.now().UnixMilli(),
		perMinute,
		interval.Milliseconds(),
		int64((10 * time.Minute).Seconds()),
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("run token bucket: %w", err)
	}

	arr, ok := vals.([]any)
	if !ok || len(arr) != 3 {
		return false, 0, fmt.Errorf("unexpected token bucket result %T", vals)
	}

	allowed := asInt64(arr[0]) == 1
	retryAfter := time.Duration(asInt64(arr[2])) * time.Millisecond
	return allowed, retryAfter, nil
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
