// Package ratelimit throttles admin actions (approve, batch approve, manual
// pull) per caller with a redis-backed token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// takeScript refills the bucket for the elapsed time and consumes one token.
// It returns {allowed, tokens_left}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now

local add = math.floor(((now - last) / window) * refill)
if add > 0 then
	tokens = math.min(capacity, tokens + add)
	last = now
end

local allowed = 0
if tokens > 0 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last)
redis.call('EXPIRE', key, window * 2)
return {allowed, tokens}
`)

// peekScript reports the refilled token count without consuming.
var peekScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now

local add = math.floor(((now - last) / window) * refill)
if add > 0 then
	tokens = math.min(capacity, tokens + add)
end
return tokens
`)

type TokenBucket struct {
	redis    *redis.Client
	capacity int64
	refill   int64
	window   time.Duration
	now      func() time.Time
}

// Decision is the outcome of a single Take call.
type Decision struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	ResetIn   time.Duration
}

// NewTokenBucket returns a bucket holding capacity tokens and refilling
// refillPerMinute tokens every minute.
func NewTokenBucket(redisClient *redis.Client, capacity, refillPerMinute int64) *TokenBucket {
	return &TokenBucket{
		redis:    redisClient,
		capacity: capacity,
		refill:   refillPerMinute,
		window:   time.Minute,
		now:      time.Now,
	}
}

func (tb *TokenBucket) Limit() int64 { return tb.capacity }

func key(caller, action string) string {
	return fmt.Sprintf("rate_limit:%s:%s", action, caller)
}

func (tb *TokenBucket) args() []interface{} {
	return []interface{}{tb.capacity, tb.refill, int64(tb.window.Seconds()), tb.now().Unix()}
}

// Take consumes one token for caller performing action.
func (tb *TokenBucket) Take(ctx context.Context, caller, action string) (Decision, error) {
	res, err := takeScript.Run(ctx, tb.redis, []string{key(caller, action)}, tb.args()...).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}
	allowed, ok1 := res[0].(int64)
	remaining, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return Decision{}, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}

	return Decision{
		Allowed:   allowed == 1,
		Remaining: remaining,
		Limit:     tb.capacity,
		ResetIn:   tb.window,
	}, nil
}

// Allow is Take reduced to its verdict.
func (tb *TokenBucket) Allow(ctx context.Context, caller, action string) (bool, error) {
	d, err := tb.Take(ctx, caller, action)
	return d.Allowed, err
}

func (tb *TokenBucket) Remaining(ctx context.Context, caller, action string) (int64, error) {
	n, err := peekScript.Run(ctx, tb.redis, []string{key(caller, action)}, tb.args()...).Int64()
	if err != nil {
		return 0, fmt.Errorf("rate limit remaining: %w", err)
	}
	return n, nil
}

func (tb *TokenBucket) Reset(ctx context.Context, caller, action string) error {
	return tb.redis.Del(ctx, key(caller, action)).Err()
}
