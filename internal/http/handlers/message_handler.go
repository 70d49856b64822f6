// Message HTTP handlers.
//
//   - POST /conversations/{id}/messages   (ask; stores question and answer)
//   - GET  /conversations/{id}/messages   (paginated history, ETag)
//
// Idempotency: with an Idempotency-Key whose record exists for (user,
// conversation, key), the stored assistant message is returned with
// `Idempotency-Replayed: true` and no new answer is produced.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/http/middleware"
	"github.com/tbourn/transcript-chat/internal/repo"
)

// PostMessageRequest is the JSON payload for asking a question.
type PostMessageRequest struct {
	Content string `json:"content" binding:"required,min=1" example:"How much does the pro plan cost?"`
}

// PostMessageResponse wraps the assistant reply.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse wraps a page of messages, oldest first.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings, collapses blank-line runs and
// trims.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// question binds and normalizes a question body, failing fast at the edge.
func (h *Handlers) question(c *gin.Context) (string, bool) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return "", false
	}
	q := sanitizeContent(req.Content)
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return "", false
	}
	if utf8.RuneCountInString(q) > h.d.MaxQuestionRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", h.d.MaxQuestionRunes))
		return "", false
	}
	return q, true
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Ask a question in a conversation
// @Description Answers from the conversation's channel transcripts and stores both messages.
// @Description Supports idempotency via the Idempotency-Key header (same key, same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       id               path    string  true   "Conversation ID"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Question"
// @Success     200  {object}  handlers.PostMessageResponse  "Assistant reply"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse  "Missing or invalid provider credential"
// @Failure     503  {object}  handlers.ErrorResponse  "Provider unavailable"
// @Failure     504  {object}  handlers.ErrorResponse  "Query timed out"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	convID := c.Param("id")

	q, valid := h.question(c)
	if !valid {
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && middleware.IsReplay(c) && h.d.DB != nil {
		rec, err := repo.GetIdempotency(ctx, h.d.DB, p.UserID, convID, idemKey, time.Now().UTC())
		if err == nil && rec != nil {
			if prev, err := repo.GetMessage(h.d.DB.WithContext(ctx), rec.MessageID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, PostMessageResponse{Message: prev})
				return
			}
		}
	}

	m, err := h.d.Messages.Post(ctx, p, convID, q)
	if err != nil {
		failErr(c, err)
		return
	}

	if idemKey != "" && h.d.DB != nil {
		if _, err := repo.CreateIdempotency(ctx, h.d.DB, p.UserID, convID, idemKey, m.ID, http.StatusOK, h.d.IdempotencyTTL); err != nil && !repo.IsUniqueViolation(err) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}
	ok(c, http.StatusOK, PostMessageResponse{Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a conversation
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       id             path    string  true   "Conversation ID"  format(uuid)
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListMessagesResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	convID := c.Param("id")
	pg := pageFrom(c)

	// Ownership first so the ETag never reveals another user's history.
	if _, err := h.d.Conversations.Get(ctx, p.UserID, convID); err != nil {
		failErr(c, err)
		return
	}
	if h.d.DB != nil {
		if count, maxTS, err := repo.MessagesStats(ctx, h.d.DB, convID); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			if notModified(c, fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%d"`, convID, pg.Number, pg.Size, count, ts)) {
				return
			}
		}
	}

	items, total, err := h.d.Messages.ListPage(ctx, p.UserID, convID, pg.Number, pg.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Message{}
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: pagination(pg, total)})
}
