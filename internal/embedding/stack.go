package embedding

import (
	"fmt"
	"strings"
)

// Providers understood by NewStack.
const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
)

// StackConfig describes a full embedder stack.
type StackConfig struct {
	Provider string
	OpenAI   OpenAIConfig
	Retry    RetryPolicy
	Limiter  Limiter // nil disables throttling
	RetryOpt []RetryOption
}

// NewStack builds the backend named by cfg.Provider and wraps it with
// throttling and retries. The hashing backend is local and is returned
// unwrapped.
func NewStack(cfg StackConfig) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderHashing:
		return NewHashing(cfg.OpenAI.Dimension), nil
	case ProviderOpenAI:
		var e Embedder = NewOpenAI(cfg.OpenAI)
		if cfg.Limiter != nil {
			e = NewThrottled(e, cfg.Limiter)
		}
		return NewRetrying(e, cfg.Retry, cfg.RetryOpt...), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
