package security

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a sliding-window attempt counter keyed by identifier,
// typically "<action>:<client ip>".
type RateLimiter interface {
	// Allow records the attempt and reports true when fewer than maxAttempts were
	// recorded in the trailing window. Rejected attempts are not recorded.
	Allow(ctx context.Context, identifier string, maxAttempts int, window time.Duration) (bool, error)
}

// RateLimitKey composes the identifier used for a given action and source.
func RateLimitKey(action, clientIP string) string {
	return action + ":" + clientIP
}

// MemoryLimiter keeps windows in process memory. Suitable for a single instance.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewMemoryLimiter constructs an in-memory limiter. A nil clock uses time.Now.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{windows: make(map[string][]time.Time), now: now}
}

var _ RateLimiter = (*MemoryLimiter)(nil)

// Allow prunes, counts and records under one lock.
func (l *MemoryLimiter) Allow(_ context.Context, identifier string, maxAttempts int, window time.Duration) (bool, error) {
	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.windows[identifier], cutoff)
	if len(kept) >= maxAttempts {
		l.windows[identifier] = kept
		return false, nil
	}
	l.windows[identifier] = append(kept, now)
	return true, nil
}

// Sweep drops identifiers whose attempts all fall outside maxWindow.
func (l *MemoryLimiter) Sweep(maxWindow time.Duration) int {
	cutoff := l.now().Add(-maxWindow)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, ts := range l.windows {
		if kept := prune(ts, cutoff); len(kept) == 0 {
			delete(l.windows, id)
			removed++
		} else {
			l.windows[id] = kept
		}
	}
	return removed
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}

// slidingWindowScript prunes, counts and records atomically inside Redis.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= max then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter shares windows across instances through a Redis sorted set per identifier.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client redis.Scripter, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

var _ RateLimiter = (*RedisLimiter)(nil)

// Allow runs the sliding-window script.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, maxAttempts int, window time.Duration) (bool, error) {
	now := l.now()
	member, err := uniqueMember(now)
	if err != nil {
		return false, err
	}
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + identifier},
		now.UnixMilli(), window.Milliseconds(), maxAttempts, member,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func uniqueMember(now time.Time) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + hex.EncodeToString(b), nil
}
