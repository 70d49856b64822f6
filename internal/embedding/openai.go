package embedding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	Model     string
	Dimension int    // requested output size; 0 uses the model default (1536)
	BaseURL   string // empty means api.openai.com
	Timeout   time.Duration
}

// OpenAI embeds through any OpenAI-compatible /embeddings endpoint. The API
// key comes from the Credential on every call; retries are left to Retrying.
type OpenAI struct {
	cfg OpenAIConfig
}

// NewOpenAI returns an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAI{cfg: cfg}
}

func (o *OpenAI) Dimension() int { return o.cfg.Dimension }
func (o *OpenAI) Model() string  { return o.cfg.Model }

func (o *OpenAI) client(cred Credential) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cred.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(o.cfg.Timeout),
	}
	if o.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.cfg.BaseURL))
	}
	return openai.NewClient(opts...)
}

func (o *OpenAI) Embed(ctx context.Context, cred Credential, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	out, err := o.EmbedBatch(ctx, cred, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, cred Credential, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cred.APIKey) == "" {
		return nil, &ProviderError{Kind: KindInvalidCredential, Err: errors.New("no api key")}
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(o.cfg.Model),
	}
	if strings.HasPrefix(o.cfg.Model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(o.cfg.Dimension))
	}

	start := time.Now()
	cli := o.client(cred)
	resp, err := cli.Embeddings.New(ctx, params)
	embedLatency.WithLabelValues(o.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		err = o.mapError(ctx, err)
		embedRequests.WithLabelValues(o.cfg.Model, outcome(err)).Inc()
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(out) {
			return nil, &ProviderError{Kind: KindFatal, Err: fmt.Errorf("response index %d out of range", i)}
		}
		if len(d.Embedding) != o.cfg.Dimension {
			return nil, &ProviderError{Kind: KindFatal, Err: fmt.Errorf("dimension %d, want %d", len(d.Embedding), o.cfg.Dimension)}
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, &ProviderError{Kind: KindFatal, Err: fmt.Errorf("missing embedding for input %d", i)}
		}
	}
	embedRequests.WithLabelValues(o.cfg.Model, "ok").Inc()
	return out, nil
}

// mapError turns an SDK error into a ProviderError. Context errors pass
// through untouched so callers can tell cancellation from outages.
func (o *OpenAI) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		pe := &ProviderError{Kind: classifyStatus(apierr.StatusCode), Status: apierr.StatusCode, Err: err}
		if apierr.Response != nil {
			pe.RetryAfter = parseRetryAfter(apierr.Response.Header.Get("Retry-After"))
		}
		return pe
	}
	return &ProviderError{Kind: KindUnavailable, Err: err}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
