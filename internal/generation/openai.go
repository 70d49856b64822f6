// Package generation writes answer text from retrieved transcript passages
// using an OpenAI-compatible chat completions endpoint.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tbourn/transcript-chat/internal/embedding"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You answer questions about a YouTube channel using only the transcript excerpts provided.
If the excerpts do not contain the answer, say so. Keep the answer under 120 words.
Do not invent facts, links or timestamps.`

// Config configures OpenAI.
type Config struct {
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAI generates answers with chat completions, charged to the caller's
// credential.
type OpenAI struct {
	cfg Config
}

// NewOpenAI returns a generator.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &OpenAI{cfg: cfg}
}

// Generate asks the model to answer question from passages.
func (g *OpenAI) Generate(ctx context.Context, cred embedding.Credential, question string, passages []string) (string, error) {
	if strings.TrimSpace(cred.APIKey) == "" {
		return "", &embedding.ProviderError{Kind: embedding.KindInvalidCredential, Err: errors.New("no api key")}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cred.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(g.cfg.Timeout),
	}
	if g.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(g.cfg.BaseURL))
	}
	cli := openai.NewClient(opts...)

	resp, err := cli.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(question, passages)),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			return "", fmt.Errorf("chat completion: status %d: %w", apierr.StatusCode, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// BuildPrompt formats the user turn: numbered excerpts followed by the
// question.
func BuildPrompt(question string, passages []string) string {
	var b strings.Builder
	b.WriteString("Transcript excerpts:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(p))
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}
