// Channel HTTP handlers.
//
//   - POST   /channels        (register)
//   - GET    /channels        (list the caller's channels)
//   - GET    /channels/{id}   (one channel with per-state video counts)
//   - DELETE /channels/{id}   (cascade delete, index purged first)
//   - GET    /stats           (totals across the caller's channels)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// CreateChannelRequest is the JSON payload for registering a channel.
type CreateChannelRequest struct {
	Name     string `json:"name"      binding:"required,max=255" example:"Acme Product Channel"`
	SourceID string `json:"source_id" binding:"required,max=255" example:"UC_x5XG1OV2P6uZZ5FSM9Ttw"`
}

// ListChannelsResponse wraps the caller's channels.
type ListChannelsResponse struct {
	Channels []domain.Channel `json:"channels"`
}

// CreateChannel godoc
// @ID          createChannel
// @Summary     Register a channel
// @Tags        Channels
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CreateChannelRequest  true  "Channel"
// @Success     201   {object}  domain.Channel
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     401   {object}  handlers.ErrorResponse
// @Router      /channels [post]
func (h *Handlers) CreateChannel(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and source_id are required")
		return
	}
	ch, err := h.d.Channels.Register(c.Request.Context(), p.UserID, req.Name, req.SourceID)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+ch.ID)
	ok(c, http.StatusCreated, ch)
}

// ListChannels godoc
// @ID          listChannels
// @Summary     List the caller's channels
// @Tags        Channels
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ListChannelsResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /channels [get]
func (h *Handlers) ListChannels(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	items, err := h.d.Channels.List(c.Request.Context(), p.UserID)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Channel{}
	}
	ok(c, http.StatusOK, ListChannelsResponse{Channels: items})
}

// GetChannel godoc
// @ID          getChannel
// @Summary     Get a channel with video ingestion counts
// @Tags        Channels
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Channel ID"  format(uuid)
// @Success     200  {object}  services.ChannelSummary
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /channels/{id} [get]
func (h *Handlers) GetChannel(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	sum, err := h.d.Channels.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// DeleteChannel godoc
// @ID          deleteChannel
// @Summary     Delete a channel and everything under it
// @Tags        Channels
// @Security    BearerAuth
// @Param       id   path      string  true  "Channel ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /channels/{id} [delete]
func (h *Handlers) DeleteChannel(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	if err := h.d.Channels.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// GetStats godoc
// @ID          getStats
// @Summary     Totals across the caller's channels
// @Tags        Channels
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.Stats
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /stats [get]
func (h *Handlers) GetStats(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	st, err := h.d.Channels.Stats(c.Request.Context(), p.UserID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}
