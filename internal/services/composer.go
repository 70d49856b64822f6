package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
)

// NotFoundText is the fixed answer when no chunk clears the threshold.
const NotFoundText = "I could not find relevant content in this channel's videos to answer that."

// DefaultSnippetMaxRunes caps quoted transcript text in extractive answers.
const DefaultSnippetMaxRunes = 280

// Answer is a composed reply with at most one citation.
type Answer struct {
	Text     string           `json:"text"`
	Citation *domain.Citation `json:"citation,omitempty"`
	Score    *float64         `json:"score,omitempty"`
}

// TextGenerator writes an answer from retrieved passages. It must only use
// the passages it is given.
type TextGenerator interface {
	Generate(ctx context.Context, cred embedding.Credential, question string, passages []string) (string, error)
}

// Composer turns grounded chunks into an Answer. With no Generator, or when
// it fails, the answer quotes the top chunk.
type Composer struct {
	Generator       TextGenerator
	SnippetMaxRunes int
	Log             zerolog.Logger
}

// NewComposer returns a Composer; gen may be nil.
func NewComposer(gen TextGenerator) *Composer {
	return &Composer{Generator: gen, SnippetMaxRunes: DefaultSnippetMaxRunes, Log: log.Logger}
}

// Compose cites the highest-scoring chunk, whatever order chunks arrive in.
// An empty input yields NotFoundText and no citation.
func (c *Composer) Compose(ctx context.Context, cred embedding.Credential, question string, chunks []GroundedChunk) (Answer, error) {
	tr := otel.Tracer("services/Composer")
	ctx, span := tr.Start(ctx, "Compose", trace.WithAttributes(attribute.Int("chunks", len(chunks))))
	defer span.End()

	if len(chunks) == 0 {
		return Answer{Text: NotFoundText}, nil
	}

	top := citationChunk(chunks)
	cite := domain.NewCitation(top.VideoID, top.VideoSourceID, top.VideoTitle, top.StartSeconds)
	score := top.Score

	text := ""
	if c.Generator != nil {
		passages := make([]string, len(chunks))
		for i, ch := range chunks {
			passages[i] = ch.Text
		}
		gen, err := c.Generator.Generate(ctx, cred, question, passages)
		switch {
		case err != nil:
			if isCtxErr(err) {
				return Answer{}, err
			}
			c.Log.Warn().Err(err).Msg("answer generation failed; using extractive answer")
		case strings.TrimSpace(gen) != "":
			text = strings.TrimSpace(gen)
			if !strings.Contains(text, cite.Timestamp) {
				text = fmt.Sprintf("%s\n\nSource: %q at %s.", text, displayTitle(top), cite.Timestamp)
			}
		}
	}
	if text == "" {
		text = fmt.Sprintf("From %q at %s: %q", displayTitle(top), cite.Timestamp, c.snippet(top.Text))
	}
	span.SetAttributes(attribute.String("citation.video_id", cite.VideoID))
	return Answer{Text: text, Citation: cite, Score: &score}, nil
}

// citationChunk picks the best chunk in retrieval order: score desc, then
// ordinal, video id and chunk id ascending.
func citationChunk(chunks []GroundedChunk) GroundedChunk {
	best := chunks[0]
	for _, g := range chunks[1:] {
		if groundedLess(g, best) {
			best = g
		}
	}
	return best
}

func displayTitle(g GroundedChunk) string {
	if t := strings.TrimSpace(g.VideoTitle); t != "" {
		return t
	}
	return "video " + g.VideoSourceID
}

// snippet truncates s to SnippetMaxRunes on a word boundary and appends an
// ellipsis when anything was cut.
func (c *Composer) snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	limit := c.SnippetMaxRunes
	if limit <= 0 {
		limit = DefaultSnippetMaxRunes
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)[:limit]
	cut := len(r)
	for i := len(r) - 1; i > 0; i-- {
		if unicode.IsSpace(r[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(r[:cut]), func(x rune) bool {
		return unicode.IsSpace(x) || unicode.IsPunct(x)
	}) + "…"
}
