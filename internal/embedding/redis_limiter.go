package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// windowScript returns -pttl while a penalty is active, otherwise the call
// count in the current window.
var windowScript = redis.NewScript(`
local p = redis.call("PTTL", KEYS[2])
if p > 0 then
  return -p
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter is a fixed-window Limiter shared by every process that
// points at the same Redis. It fails closed: when Redis cannot be reached,
// Wait returns a KindUnavailable ProviderError instead of letting the call
// through.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit calls per key per window.
func NewRedisLimiter(addr, password, prefix string, limit int, window time.Duration) (*RedisLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("redis limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis limiter addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ytchat:embed"
	}
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

// Close releases the Redis connection pool.
func (l *RedisLimiter) Close() error { return l.client.Close() }

func (l *RedisLimiter) Wait(ctx context.Context, key string) error {
	key = normalizeKey(key)
	windowMs := l.window.Milliseconds()
	for {
		slot := l.now().UTC().UnixMilli() / windowMs
		countKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
		penaltyKey := fmt.Sprintf("%s:%s:penalty", l.prefix, key)

		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		res, err := windowScript.Run(rctx, l.client, []string{countKey, penaltyKey}, windowMs).Int64()
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ProviderError{Kind: KindUnavailable, Err: fmt.Errorf("rate limiter: %w", err)}
		}

		var d time.Duration
		switch {
		case res < 0:
			d = time.Duration(-res) * time.Millisecond
		case res <= int64(l.limit):
			return nil
		default:
			next := (slot + 1) * windowMs
			d = time.Duration(next-l.now().UTC().UnixMilli()) * time.Millisecond
		}
		if err := sleepCtx(ctx, max(d, time.Millisecond)); err != nil {
			return err
		}
	}
}

// Penalize records a cooldown for key. Existing longer penalties are kept.
func (l *RedisLimiter) Penalize(key string, d time.Duration) {
	if d <= 0 {
		return
	}
	key = normalizeKey(key)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	penaltyKey := fmt.Sprintf("%s:%s:penalty", l.prefix, key)
	if cur, err := l.client.PTTL(ctx, penaltyKey).Result(); err == nil && cur >= d {
		return
	}
	if err := l.client.Set(ctx, penaltyKey, 1, d).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limiter penalty not recorded")
	}
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
