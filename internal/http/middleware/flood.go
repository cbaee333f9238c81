package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// FloodGuard is a per-address token bucket in front of the write routes. It caps
// raw request volume; the per-action sliding windows live in the services.
type FloodGuard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewFloodGuard allows rps requests per second per client with the given burst.
func NewFloodGuard(rps, burst int) *FloodGuard {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = rps * 2
	}
	return &FloodGuard{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    5 * time.Minute,
		now:     time.Now,
	}
}

// Handler rejects requests over budget with 429.
func (g *FloodGuard) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := ClientIP(c)
		if ip == "" {
			ip = "unknown"
		}
		if !g.allow(ip) {
			c.Set(fiber.HeaderRetryAfter, "1")
			return fiber.ErrTooManyRequests
		}
		return c.Next()
	}
}

func (g *FloodGuard) allow(ip string) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(g.limit, g.burst)}
		g.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than five minutes and returns how many were dropped.
func (g *FloodGuard) Sweep() int {
	cutoff := g.now().Add(-g.idle)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for ip, b := range g.buckets {
		if b.seen.Before(cutoff) {
			delete(g.buckets, ip)
			n++
		}
	}
	return n
}
