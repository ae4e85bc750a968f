// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter with per-identity
// buckets and opportunistic garbage collection. It is process-local: for
// horizontally scaled deployments a distributed limiter would be needed to
// enforce global limits. Its job here is edge-level abuse control in front of
// an expensive inference backend, not authorization.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket. The returned
// key must be stable for the duration of a request (e.g., "user:<id>").
type keyFunc func(*gin.Context) string

// KeyByUserOrIP returns a keyFunc that prefers the user identity from the Gin
// context (set by upstream identity middleware) and falls back to the client
// IP. Keys are prefixed to keep the user and IP namespaces apart.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// visitor holds a single token bucket and the last time it was used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements a per-key token-bucket rate limiter. Buckets are
// created on demand in a mutex-guarded map; idle buckets are evicted after a
// TTL via opportunistic cleanup during lookups. Safe for concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter constructs a RateLimiter replenishing rps tokens per second
// with the given burst size, keyed by keyFn. A burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Cleanup runs
// before touching the requested visitor so a stale bucket can be evicted even
// when it is the one being fetched.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, vv := range rl.visitors {
			if now.Sub(vv.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Handler returns the Gin middleware enforcing the limit. Requests without an
// available token are rejected with 429 and a Retry-After hint.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lim := rl.getVisitor(rl.keyFn(c))
		if !lim.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "too_many_requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
