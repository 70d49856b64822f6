package embedding

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RetryPolicy controls Retrying. Zero fields take the defaults below.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts including the first; default 4
	InitialBackoff time.Duration // default 500ms
	MaxBackoff     time.Duration // default 8s
	Multiplier     float64       // default 2
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 4
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 8 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Retrying retries rate-limited and unavailable provider errors with
// jittered exponential backoff. Invalid credentials, validation errors and
// context errors are returned immediately.
type Retrying struct {
	next   Embedder
	policy RetryPolicy
	sleep  func(context.Context, time.Duration) error
	log    zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// RetryOption customises a Retrying embedder.
type RetryOption func(*Retrying)

// WithSleep replaces the backoff sleep; tests use it to avoid waiting.
func WithSleep(fn func(context.Context, time.Duration) error) RetryOption {
	return func(r *Retrying) { r.sleep = fn }
}

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(l zerolog.Logger) RetryOption {
	return func(r *Retrying) { r.log = l }
}

// NewRetrying wraps next with policy p.
func NewRetrying(next Embedder, p RetryPolicy, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:   next,
		policy: p.withDefaults(),
		sleep:  sleepCtx,
		log:    log.Logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Retrying) Dimension() int { return r.next.Dimension() }
func (r *Retrying) Model() string  { return r.next.Model() }

func (r *Retrying) Embed(ctx context.Context, cred Credential, text string) ([]float32, error) {
	var out []float32
	err := r.do(ctx, func() error {
		v, err := r.next.Embed(ctx, cred, text)
		out = v
		return err
	})
	return out, err
}

func (r *Retrying) EmbedBatch(ctx context.Context, cred Credential, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.do(ctx, func() error {
		v, err := r.next.EmbedBatch(ctx, cred, texts)
		out = v
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, call func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = call()
		if err == nil || !IsRetryable(err) || attempt >= r.policy.MaxAttempts {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d := r.backoff(attempt)
		var pe *ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > d {
			d = min(pe.RetryAfter, r.policy.MaxBackoff)
		}
		kind, _ := KindOf(err)
		embedRetries.WithLabelValues(kind.String()).Inc()
		r.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", d).
			Str("model", r.next.Model()).
			Msg("embedding retry")

		if serr := r.sleep(ctx, d); serr != nil {
			return serr
		}
	}
}

// backoff returns the delay before retry number attempt (1-based), with
// jitter in [d/2, d].
func (r *Retrying) backoff(attempt int) time.Duration {
	d := float64(r.policy.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= r.policy.Multiplier
		if d >= float64(r.policy.MaxBackoff) {
			d = float64(r.policy.MaxBackoff)
			break
		}
	}
	r.mu.Lock()
	j := r.rng.Float64()
	r.mu.Unlock()
	return time.Duration(d/2 + j*d/2)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
