package embedding

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultPenalty is applied on a rate-limit error that carries no
// Retry-After hint.
const DefaultPenalty = time.Second

// SharedCallTimeout bounds a collapsed Embed call. The call runs detached
// from any one caller, so it cannot borrow a caller's deadline.
const SharedCallTimeout = 30 * time.Second

// Throttled gates every provider call through a per-credential Limiter and
// collapses concurrent identical Embed calls for the same credential into
// one request. A rate-limit error penalises the credential so that all
// concurrent callers back off together.
type Throttled struct {
	next  Embedder
	lim   Limiter
	group singleflight.Group
}

// NewThrottled wraps next with lim.
func NewThrottled(next Embedder, lim Limiter) *Throttled {
	return &Throttled{next: next, lim: lim}
}

func (t *Throttled) Dimension() int { return t.next.Dimension() }
func (t *Throttled) Model() string  { return t.next.Model() }

func (t *Throttled) Embed(ctx context.Context, cred Credential, text string) ([]float32, error) {
	key := cred.Key()
	// The first caller's ctx must not decide the outcome for the others, so
	// the shared call keeps its values but drops its cancellation, and each
	// caller stops waiting on its own ctx.
	detached := context.WithoutCancel(ctx)
	ch := t.group.DoChan(key+"\x00"+text, func() (any, error) {
		callCtx, cancel := context.WithTimeout(detached, SharedCallTimeout)
		defer cancel()
		if err := t.lim.Wait(callCtx, key); err != nil {
			return nil, err
		}
		vec, err := t.next.Embed(callCtx, cred, text)
		t.penalize(key, err)
		return vec, err
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	// Shared results are copied so callers cannot alias each other.
	src := res.Val.([]float32)
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

func (t *Throttled) EmbedBatch(ctx context.Context, cred Credential, texts []string) ([][]float32, error) {
	key := cred.Key()
	if err := t.lim.Wait(ctx, key); err != nil {
		return nil, err
	}
	out, err := t.next.EmbedBatch(ctx, cred, texts)
	t.penalize(key, err)
	return out, err
}

func (t *Throttled) penalize(key string, err error) {
	k, ok := KindOf(err)
	if !ok || k != KindRateLimited {
		return
	}
	d := DefaultPenalty
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		d = pe.RetryAfter
	}
	t.lim.Penalize(key, d)
}
