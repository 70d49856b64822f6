// Stateless answer endpoint: POST /channels/{id}/answer.
//
// It runs the same retrieval and composition as a conversation message but
// stores nothing, and returns the evidence chunks alongside the answer.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AnswerChannel godoc
// @ID          answerChannel
// @Summary     Answer a question from a channel's transcripts
// @Tags        Answers
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                       true  "Channel ID"  format(uuid)
// @Param       body  body      handlers.PostMessageRequest  true  "Question"
// @Success     200   {object}  services.AnswerResult
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     422   {object}  handlers.ErrorResponse
// @Failure     503   {object}  handlers.ErrorResponse
// @Failure     504   {object}  handlers.ErrorResponse
// @Router      /channels/{id}/answer [post]
func (h *Handlers) AnswerChannel(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	q, valid := h.question(c)
	if !valid {
		return
	}
	res, err := h.d.Answers.Answer(c.Request.Context(), p, c.Param("id"), q)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
