package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/webhooks/pkg/logger"
)

// slidingCounter estimates the requests seen over the last window as the
// current bucket plus the previous bucket weighted by the share of it still
// in view. ARGV[1] is that share in permille.
//
// Reply: {allowed, estimate after this request, current bucket, previous bucket}.
var slidingCounter = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
local limit = tonumber(ARGV[2])
local used = math.floor(prev * tonumber(ARGV[1]) / 1000) + cur
if used >= limit then
	return {0, used, cur, prev}
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, used + 1, cur + 1, prev}
`)

// RateLimiter is a request budget shared by every API instance through Redis.
type RateLimiter struct {
	client *Client
	name   string
	limit  int
	window time.Duration
	now    func() time.Time
	logger *logger.Logger
}

// RateLimitResult is one limiter decision.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is the end of the current window.
	ResetAt time.Time
	// RetryAt is set on denial: the earliest time a request may pass.
	RetryAt time.Time
}

func NewRateLimiter(client *Client, name string, limit int, window time.Duration, log *logger.Logger) (*RateLimiter, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case name == "":
		return nil, errors.New("limiter name is required")
	case limit <= 0:
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	case window < time.Millisecond:
		return nil, fmt.Errorf("window must be at least 1ms, got %s", window)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RateLimiter{
		client: client,
		name:   name,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: log.With("component", "redis_ratelimit", "limiter", name),
	}, nil
}

// bucketKey hash-tags the caller key so both buckets land on one cluster slot.
func (rl *RateLimiter) bucketKey(key string, idx int64) string {
	return rl.client.Key("ratelimit", rl.name, "{"+key+"}", strconv.FormatInt(idx, 10))
}

// Allow counts one request against key unless the budget is spent.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if key == "" {
		return nil, errors.New("rate limit key is required")
	}

	now := rl.now()
	w := rl.window.Milliseconds()
	idx := now.UnixMilli() / w
	start := time.UnixMilli(idx * w)
	end := start.Add(rl.window)
	prevShare := 1000 - now.Sub(start).Milliseconds()*1000/w

	reply, err := slidingCounter.Run(ctx, rl.client.client,
		[]string{rl.bucketKey(key, idx), rl.bucketKey(key, idx-1)},
		prevShare, rl.limit, 2*w,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", rl.name, err)
	}
	if len(reply) != 4 {
		return nil, fmt.Errorf("rate limit %s: unexpected reply %v", rl.name, reply)
	}

	res := &RateLimitResult{
		Allowed:   reply[0] == 1,
		Remaining: max(0, rl.limit-int(reply[1])),
		ResetAt:   end,
	}
	if !res.Allowed {
		res.RetryAt = rl.retryAt(start, end, reply[2], reply[3])
		rl.logger.Debug("rate limit exceeded", "key", key, "retry_at", res.RetryAt)
	}
	return res, nil
}

// retryAt is when the previous bucket's weight has decayed enough for one
// more request, or the next window when the current bucket alone is full.
func (rl *RateLimiter) retryAt(start, end time.Time, cur, prev int64) time.Time {
	free := int64(rl.limit) - cur
	if free <= 0 || prev <= 0 {
		return end
	}
	// prev*(1-f) < free  =>  f > 1 - free/prev
	f := 1 - float64(free)/float64(prev)
	return start.Add(time.Duration(f * float64(rl.window))).Add(time.Millisecond)
}

func (rl *RateLimiter) Limit() int { return rl.limit }

func (rl *RateLimiter) Window() time.Duration { return rl.window }
