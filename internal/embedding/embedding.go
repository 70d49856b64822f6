// Package embedding turns text into fixed-dimension vectors.
//
// An Embedder is called with an explicit per-user Credential; there is no
// process-wide key. Backends (OpenAI, Hashing) are composed with wrappers:
// Throttled applies a per-credential Limiter and dedupes identical in-flight
// requests, and Retrying retries transient provider failures with
// exponential backoff. A typical stack is
//
//	NewRetrying(NewThrottled(NewOpenAI(...), limiter), policy)
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyInput is returned before any provider call when a text is blank.
var ErrEmptyInput = errors.New("embedding: input text is empty")

// Credential identifies whose provider budget a call is charged to.
type Credential struct {
	UserID string
	APIKey string
}

// Key returns a stable identity for rate limiting. The API key itself is
// never used verbatim.
func (c Credential) Key() string {
	if c.UserID != "" {
		return "user:" + c.UserID
	}
	if c.APIKey == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(c.APIKey))
	return "key:" + hex.EncodeToString(sum[:8])
}

// Embedder produces vectors of a fixed Dimension for a given Model.
// EmbedBatch preserves input order.
type Embedder interface {
	Embed(ctx context.Context, cred Credential, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, cred Credential, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// Kind classifies provider failures.
type Kind int

const (
	KindUnavailable Kind = iota
	KindRateLimited
	KindInvalidCredential
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidCredential:
		return "invalid_credential"
	default:
		return "fatal"
	}
}

// ProviderError is a failure reported by (or on the way to) the embedding
// provider.
type ProviderError struct {
	Kind       Kind
	Status     int           // HTTP status when known
	RetryAfter time.Duration // provider hint, zero when absent
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("embedding provider ")
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindUnavailable
}

// IsRetryable reports whether err wraps a retryable ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// KindOf returns the ProviderError kind wrapped by err.
func KindOf(err error) (Kind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// classifyStatus maps an HTTP status from the provider to a Kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindInvalidCredential
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500, status == http.StatusRequestTimeout:
		return KindUnavailable
	default:
		return KindFatal
	}
}

func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return ErrEmptyInput
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("text %d: %w", i, ErrEmptyInput)
		}
	}
	return nil
}
