// Package handlers exposes the REST API over channels, videos, transcript
// ingestion, conversations, answers and provider credentials.
//
// Handlers are transport-thin: they bind and validate input, read the
// caller's Principal (set by the identity middleware), call an application
// service and translate the result or error into a response.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/chunker"
	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/http/middleware"
	"github.com/tbourn/transcript-chat/internal/services"
	"github.com/tbourn/transcript-chat/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChannelService manages the caller's channels.
type ChannelService interface {
	Register(ctx context.Context, userID, name, sourceID string) (*domain.Channel, error)
	List(ctx context.Context, userID string) ([]domain.Channel, error)
	Get(ctx context.Context, p services.Principal, channelID string) (*services.ChannelSummary, error)
	Delete(ctx context.Context, p services.Principal, channelID string) error
	Stats(ctx context.Context, userID string) (*services.Stats, error)
}

// VideoService registers videos and reports ingestion status.
type VideoService interface {
	Add(ctx context.Context, p services.Principal, channelID string, in services.NewVideoInput) (*domain.Video, error)
	List(ctx context.Context, p services.Principal, channelID string) ([]domain.Video, error)
	Status(ctx context.Context, p services.Principal, videoID string) (*services.VideoStatus, error)
}

// Ingestor runs the ingestion pipeline, synchronously or in the background.
type Ingestor interface {
	Ingest(ctx context.Context, p services.Principal, cred embedding.Credential, videoID string, segs []chunker.Segment) (*services.IngestReport, error)
	Reingest(ctx context.Context, p services.Principal, cred embedding.Credential, videoID string, segs []chunker.Segment) (*services.IngestReport, error)
	Start(ctx context.Context, p services.Principal, cred embedding.Credential, videoID string, segs []chunker.Segment, reingest bool) error
}

// CredentialService stores the caller's provider key.
type CredentialService interface {
	Set(ctx context.Context, userID, key string) (*services.CredentialInfo, error)
	Get(ctx context.Context, userID string) (*services.CredentialInfo, error)
	Delete(ctx context.Context, userID string) error
	Resolve(ctx context.Context, userID string) (embedding.Credential, error)
}

// ConversationService manages conversations.
type ConversationService interface {
	Create(ctx context.Context, p services.Principal, channelID, title string) (*domain.Conversation, error)
	Get(ctx context.Context, userID, id string) (*domain.Conversation, error)
	ListPage(ctx context.Context, userID, channelID string, page, pageSize int) ([]domain.Conversation, int64, error)
	UpdateTitle(ctx context.Context, userID, id, title string) error
}

// MessageService posts questions into conversations and lists messages.
type MessageService interface {
	Post(ctx context.Context, p services.Principal, conversationID, question string) (*domain.Message, error)
	ListPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
}

// AnswerService answers a one-off question about a channel.
type AnswerService interface {
	Answer(ctx context.Context, p services.Principal, channelID, question string) (*services.AnswerResult, error)
}

//
// Handler wiring
//

// Deps collects what the handlers need. DB backs ETags and idempotency
// records and may be nil, which disables both.
type Deps struct {
	Channels      ChannelService
	Videos        VideoService
	Ingestor      Ingestor
	Credentials   CredentialService
	Conversations ConversationService
	Messages      MessageService
	Answers       AnswerService

	DB               *gorm.DB
	IdempotencyTTL   time.Duration
	MaxQuestionRunes int
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	d Deps
}

// New constructs Handlers bound to d.
func New(d Deps) *Handlers {
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 24 * time.Hour
	}
	if d.MaxQuestionRunes <= 0 {
		d.MaxQuestionRunes = services.DefaultMaxQuestionRunes
	}
	return &Handlers{d: d}
}

//
// DTOs shared across resources
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func pagination(p utils.Page, total int64) Pagination {
	return Pagination{
		Page:       p.Number,
		PageSize:   p.Size,
		Total:      total,
		TotalPages: p.TotalPages(total),
		HasNext:    p.HasNext(total),
	}
}

//
// Helpers
//

// principal returns the caller, aborting with 401 when the identity
// middleware did not run.
func principal(c *gin.Context) (services.Principal, bool) {
	p, found := middleware.PrincipalFrom(c)
	if !found || p.UserID == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return services.Principal{}, false
	}
	return p, true
}

func pageFrom(c *gin.Context) utils.Page {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

// notModified sets a weak ETag and reports whether If-None-Match matched.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
