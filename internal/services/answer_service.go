package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/embedding"
)

// DefaultQueryTimeout bounds one answer.
const DefaultQueryTimeout = 20 * time.Second

// CredentialResolver yields the provider credential for a user.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) (embedding.Credential, error)
}

// AnswerResult is a composed answer and the evidence behind it.
type AnswerResult struct {
	Answer
	Chunks []GroundedChunk `json:"chunks"`
}

// AnswerService answers a question from one channel's transcripts.
type AnswerService struct {
	DB          *gorm.DB
	Retriever   *Retriever
	Composer    *Composer
	Credentials CredentialResolver

	TopK         int
	MinScore     float64
	QueryTimeout time.Duration
}

// Answer checks channel ownership, retrieves and composes. Expiry of
// QueryTimeout yields ErrQueryTimeout; no partial answer is returned.
func (s *AnswerService) Answer(ctx context.Context, p Principal, channelID, question string) (*AnswerResult, error) {
	tr := otel.Tracer("services/AnswerService")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(
			attribute.String("channel.id", channelID),
			attribute.String("user.id", p.UserID),
		),
	)
	defer span.End()

	if _, err := authorizeChannel(ctx, s.DB, p, channelID); err != nil {
		return nil, err
	}
	cred, err := s.Credentials.Resolve(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	timeout := s.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chunks, err := s.Retriever.Retrieve(qctx, cred, question, channelID, s.TopK, s.MinScore)
	if err != nil {
		return nil, s.timeout(qctx, ctx, err)
	}
	ans, err := s.Composer.Compose(qctx, cred, question, chunks)
	if err != nil {
		return nil, s.timeout(qctx, ctx, err)
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)), attribute.Bool("cited", ans.Citation != nil))
	return &AnswerResult{Answer: ans, Chunks: chunks}, nil
}

// timeout maps expiry of the query deadline to ErrQueryTimeout. Cancellation
// of the caller's own context passes through.
func (s *AnswerService) timeout(qctx, parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
		return ErrQueryTimeout
	}
	return err
}
