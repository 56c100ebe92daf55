// Package ratelimit implements the node's fixed-window rate limiter,
// keyed by the first-hop client address rather than chi's RealIP
// middleware, per spec §5: "IP from X-Forwarded-For first hop, else
// X-Real-IP, else a shared unknown bucket."
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientKey extracts the rate-limit bucket key for r.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return "unknown"
}

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a fixed-window-per-minute counter. A PerMinute of 0 disables
// limiting entirely (spec §6, "a cap of 0 disables").
type Limiter struct {
	perMinute int

	mu     sync.Mutex
	local  map[string]*window

	redis *redis.Client
}

type window struct {
	count     int
	windowEnd time.Time
}

// New returns a Limiter. If rdb is non-nil, window counters are kept in
// Redis so multiple node processes can share a limit; otherwise an
// in-process map is used.
func New(perMinute int, rdb *redis.Client) *Limiter {
	return &Limiter{perMinute: perMinute, local: make(map[string]*window), redis: rdb}
}

// Check increments the counter for key and reports whether the request is
// within the configured per-minute cap.
func (l *Limiter) Check(ctx context.Context, key string) Result {
	if l.perMinute <= 0 {
		return Result{Allowed: true, Limit: 0}
	}
	if l.redis != nil {
		return l.checkRedis(ctx, key)
	}
	return l.checkLocal(key)
}

func (l *Limiter) checkLocal(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.local[key]
	if !ok || now.After(w.windowEnd) {
		w = &window{count: 0, windowEnd: now.Add(time.Minute)}
		l.local[key] = w
	}
	w.count++
	remaining := l.perMinute - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    w.count <= l.perMinute,
		Limit:      l.perMinute,
		Remaining:  remaining,
		RetryAfter: w.windowEnd.Sub(now),
	}
}

func (l *Limiter) checkRedis(ctx context.Context, key string) Result {
	redisKey := "sweft:ratelimit:" + key
	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		// Fail open: a transient backing-store error must not take the
		// whole node down for every request.
		return Result{Allowed: true, Limit: l.perMinute}
	}
	if count == 1 {
		l.redis.Expire(ctx, redisKey, time.Minute)
	}
	ttl, err := l.redis.TTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = time.Minute
	}
	remaining := l.perMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    count <= int64(l.perMinute),
		Limit:      l.perMinute,
		Remaining:  remaining,
		RetryAfter: ttl,
	}
}

// SetHeaders writes the standard rate-limit response headers.
func SetHeaders(w http.ResponseWriter, res Result) {
	if res.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	}
}
