package embedding

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// scripted returns the queued errors in order, then succeeds.
type scripted struct {
	mu    sync.Mutex
	errs  []error
	calls int32
	dim   int
}

func (s *scripted) next() error {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scripted) Embed(_ context.Context, _ Credential, _ string) ([]float32, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return make([]float32, s.dim), nil
}

func (s *scripted) EmbedBatch(_ context.Context, _ Credential, texts []string) ([][]float32, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *scripted) Dimension() int { return s.dim }
func (s *scripted) Model() string  { return "scripted" }

// recordingLimiter never blocks and records penalties.
type recordingLimiter struct {
	mu        sync.Mutex
	waits     int
	penalties map[string]time.Duration
}

func (r *recordingLimiter) Wait(context.Context, string) error {
	r.mu.Lock()
	r.waits++
	r.mu.Unlock()
	return nil
}

func (r *recordingLimiter) Penalize(key string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.penalties == nil {
		r.penalties = map[string]time.Duration{}
	}
	r.penalties[key] = d
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
