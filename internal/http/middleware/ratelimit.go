// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file is the edge rate limiter: an in-process token bucket per caller
// (user id once Identity ran, client IP otherwise), built on
// golang.org/x/time/rate. Idle buckets are swept opportunistically.
//
// It protects the API surface only. Provider calls are budgeted separately,
// per credential, by the embedding limiter.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc picks the bucket for a request.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys by "user:<id>" when authenticated, else "ip:<addr>".
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one bucket per key. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	sweepN   uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    max(burst, 1),
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// sweepEvery is the number of lookups between idle-bucket sweeps.
const sweepEvery = 5000

// getVisitor returns the bucket for key. The sweep runs before the lookup
// so an expired bucket is replaced rather than refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepN++
	if rl.sweepN >= sweepEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.sweepN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator flagged a replay.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler rejects over-budget requests with 429 and a Retry-After hint.
// Replays are never limited.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		r := rl.getVisitor(rl.keyFn(c)).Reserve()
		if !r.OK() {
			// rps == 0 and the burst is spent: the bucket never refills.
			c.Header("Retry-After", "60")
			abortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			secs := max(int((delay+time.Second-1)/time.Second), 1)
			c.Header("Retry-After", strconv.Itoa(secs))
			abortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		c.Next()
	}
}
