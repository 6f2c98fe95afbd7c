// Package ratelimit implements the HTTP-boundary rate limiter (§5): per-IP
// budgets for the three documented limits. It prefers an atomic Redis Lua
// script (so concurrent requests from the same IP can't race a
// GET-then-INCR check) that counts in fixed windows aligned to the period,
// and falls back to an in-memory token bucket per IP when no Redis URL is
// configured. Neither backend keeps a sliding window: the Redis counter
// resets at each window boundary.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Window names the three documented limit classes.
type Window string

const (
	WindowSMTPTest      Window = "smtp_test"
	WindowCampaignStart Window = "campaign_start"
	WindowGenericAPI    Window = "generic_api"
)

// limits maps each window to its (count, period) budget.
var limits = map[Window]struct {
	count  int
	period time.Duration
}{
	WindowSMTPTest:      {10, 15 * time.Minute},
	WindowCampaignStart: {5, time.Hour},
	WindowGenericAPI:    {100, 15 * time.Minute},
}

// atomicWindowScript checks and increments a fixed-window counter keyed by
// IP+window, mirroring the teacher's multi-key ESP rate limiter but
// collapsed to a single key since each HTTP window has one limit, not a
// second/minute/day triple.
const atomicWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return 0
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end
return 1
`

// Limiter enforces per-IP budgets across the three limit classes, as
// fixed windows (Redis) or token buckets (in-memory).
// Zero value is not usable; use New or NewInMemory.
type Limiter struct {
	redis  *redis.Client
	script *redis.Script

	memMu sync.Mutex
	mem   map[string]*rate.Limiter
}

// New connects to redisURL and returns a Redis-backed Limiter. Callers
// fall back to NewInMemory if redisURL is empty or the connection fails.
func New(redisURL string) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Limiter{redis: client, script: redis.NewScript(atomicWindowScript)}, nil
}

// NewInMemory returns a Limiter backed by per-IP token buckets instead of
// Redis, for single-process deployments without a Redis URL configured.
func NewInMemory() *Limiter {
	return &Limiter{mem: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request from ip against window is within budget,
// incrementing the counter as a side effect when it is.
func (l *Limiter) Allow(ctx context.Context, ip string, w Window) (bool, error) {
	budget := limits[w]
	if l.redis != nil {
		key := fmt.Sprintf("ratelimit:%s:%s:%d", w, ip, windowBucket(budget.period))
		result, err := l.script.Run(ctx, l.redis, []string{key}, budget.count, int(budget.period.Seconds())).Int()
		if err != nil {
			return false, fmt.Errorf("rate limit check: %w", err)
		}
		return result == 1, nil
	}
	return l.allowInMemory(ip, w, budget.count, budget.period), nil
}

func (l *Limiter) allowInMemory(ip string, w Window, count int, period time.Duration) bool {
	l.memMu.Lock()
	defer l.memMu.Unlock()

	key := string(w) + ":" + ip
	lim, ok := l.mem[key]
	if !ok {
		// Token bucket sized so the full burst is available immediately and
		// refills over the window, approximating the fixed-window budget.
		lim = rate.NewLimiter(rate.Every(period/time.Duration(count)), count)
		l.mem[key] = lim
	}
	return lim.Allow()
}

// windowBucket returns a stable bucket index for the current fixed window,
// so concurrent requests in the same window share one Redis key.
func windowBucket(period time.Duration) int64 {
	return time.Now().Unix() / int64(period.Seconds())
}

// Close releases the Redis connection, if any.
func (l *Limiter) Close() error {
	if l.redis != nil {
		return l.redis.Close()
	}
	return nil
}
