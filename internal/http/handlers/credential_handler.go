// Provider credential HTTP handlers. The key is write-only: responses only
// ever carry a masked hint.
//
//   - PUT    /credentials
//   - GET    /credentials
//   - DELETE /credentials
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetCredentialRequest carries the provider API key.
type SetCredentialRequest struct {
	APIKey string `json:"api_key" binding:"required" example:"sk-live-0123456789abcdef"`
}

// SetCredential godoc
// @ID          setCredential
// @Summary     Store the caller's provider API key
// @Tags        Credentials
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.SetCredentialRequest  true  "API key"
// @Success     200   {object}  services.CredentialInfo
// @Failure     400   {object}  handlers.ErrorResponse
// @Router      /credentials [put]
func (h *Handlers) SetCredential(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	var req SetCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "api_key required")
		return
	}
	info, err := h.d.Credentials.Set(c.Request.Context(), p.UserID, req.APIKey)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, info)
}

// GetCredential godoc
// @ID          getCredential
// @Summary     Show the masked provider key
// @Tags        Credentials
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.CredentialInfo
// @Failure     422  {object}  handlers.ErrorResponse  "No key configured"
// @Router      /credentials [get]
func (h *Handlers) GetCredential(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	info, err := h.d.Credentials.Get(c.Request.Context(), p.UserID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, info)
}

// DeleteCredential godoc
// @ID          deleteCredential
// @Summary     Remove the provider key
// @Tags        Credentials
// @Security    BearerAuth
// @Success     204  {string}  string  "No Content"
// @Router      /credentials [delete]
func (h *Handlers) DeleteCredential(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	if err := h.d.Credentials.Delete(c.Request.Context(), p.UserID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
