package embedding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces provider calls per credential key. Penalize pushes every
// caller on key back by at least d, which is how a 429 seen by one request
// slows down its siblings.
type Limiter interface {
	Wait(ctx context.Context, key string) error
	Penalize(key string, d time.Duration)
}

// bucket holds one key's token bucket, its penalty deadline and the last
// time it was used.
type bucket struct {
	limiter  *rate.Limiter
	until    time.Time
	lastSeen time.Time
}

// LocalLimiter is a process-local Limiter backed by golang.org/x/time/rate.
// Buckets are created on demand and idle ones are evicted opportunistically.
type LocalLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	lookups uint64
	now     func() time.Time
}

// NewLocalLimiter allows rps calls per second per key with the given burst.
// A non-positive rps disables pacing but penalties still apply.
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Limit(rps)
	if rps <= 0 {
		lim = rate.Inf
	}
	return &LocalLimiter{
		rps:     lim,
		burst:   burst,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
}

// get returns the bucket for key, creating it if needed. Idle buckets are
// swept every 5000 lookups, before the requested one is touched.
func (l *LocalLimiter) get(key string) *bucket {
	now := l.now()
	l.lookups++
	if l.lookups >= 5000 {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) >= l.ttl && !b.until.After(now) {
				delete(l.buckets, k)
			}
		}
		l.lookups = 0
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		b := l.get(key)
		until := b.until
		lim := b.limiter
		l.mu.Unlock()

		if d := until.Sub(l.now()); d > 0 {
			if err := sleepCtx(ctx, d); err != nil {
				return err
			}
			// The penalty may have been extended while we slept.
			continue
		}
		return lim.Wait(ctx)
	}
}

func (l *LocalLimiter) Penalize(key string, d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(key)
	if until := l.now().Add(d); until.After(b.until) {
		b.until = until
	}
}

// Len reports the number of live buckets.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
