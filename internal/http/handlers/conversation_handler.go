// Conversation HTTP handlers.
//
//   - POST /conversations               (start a conversation about a channel)
//   - GET  /conversations               (list, paginated, ETag, ?channel_id filter)
//   - GET  /conversations/{id}          (one conversation)
//   - PUT  /conversations/{id}/title    (rename)
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/repo"
)

// CreateConversationRequest is the JSON payload for starting a conversation.
type CreateConversationRequest struct {
	ChannelID string `json:"channel_id" binding:"required" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
	// Title is optional; the first question names the conversation otherwise.
	Title string `json:"title" example:"Pricing questions"`
}

// UpdateTitleRequest is the JSON payload for renaming a conversation.
type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"Plan comparison"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// CreateConversation godoc
// @ID          createConversation
// @Summary     Start a conversation about a channel
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CreateConversationRequest  true  "Conversation"
// @Success     201   {object}  domain.Conversation
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channel_id required")
		return
	}
	conv, err := h.d.Conversations.Create(c.Request.Context(), p, req.ChannelID, strings.TrimSpace(req.Title))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       channel_id     query   string  false  "Only this channel"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListConversationsResponse
// @Success     304  {string}  string  "Not Modified"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	pg := pageFrom(c)
	channelID := c.Query("channel_id")

	if h.d.DB != nil {
		if count, maxTS, err := repo.ConversationsStats(ctx, h.d.DB, p.UserID); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"conversations:%s:%s:%d:%d:%d:%d"`, p.UserID, channelID, pg.Number, pg.Size, count, ts)
			if notModified(c, etag) {
				return
			}
		}
	}

	items, total, err := h.d.Conversations.ListPage(ctx, p.UserID, channelID, pg.Number, pg.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Conversation{}
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items, Pagination: pagination(pg, total)})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Conversation ID"  format(uuid)
// @Success     200  {object}  domain.Conversation
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	conv, err := h.d.Conversations.Get(c.Request.Context(), p.UserID, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// UpdateConversationTitle godoc
// @ID          updateConversationTitle
// @Summary     Rename a conversation
// @Tags        Conversations
// @Accept      json
// @Security    BearerAuth
// @Param       id    path      string                       true  "Conversation ID"  format(uuid)
// @Param       body  body      handlers.UpdateTitleRequest  true  "New title"
// @Success     204   {string}  string  "No Content"
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /conversations/{id}/title [put]
func (h *Handlers) UpdateConversationTitle(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	var req UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1-255 chars)")
		return
	}
	if err := h.d.Conversations.UpdateTitle(c.Request.Context(), p.UserID, c.Param("id"), req.Title); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
