// Package handlers defines the HTTP error taxonomy of the API.
//
// Every error response carries a stable, lowercase snake_case code next to
// the HTTP status; clients branch on the code. failErr maps service errors
// onto (status, code) in one place:
//
//	ValidationError, malformed transcript      400 bad_request
//	channel outside the caller's owned set     403 forbidden
//	unknown conversation / channel / video     404 not_found
//	already indexed, ingestion in progress     409 conflict
//	missing or rejected provider key           422 missing_credential / invalid_credential
//	provider rate limited or unavailable       503 provider_unavailable (+ Retry-After)
//	query deadline exceeded                    504 query_timeout
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "missing_credential",
//	  "message": "no provider credential configured"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/services"
	"github.com/tbourn/transcript-chat/internal/transcript"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeMissingCredential   = "missing_credential"
	ErrCodeInvalidCredential   = "invalid_credential"
	ErrCodeProviderUnavailable = "provider_unavailable"
	ErrCodeQueryTimeout        = "query_timeout"
	ErrCodeCanceled            = "canceled"
	ErrCodeMethodNotAllowed    = "method_not_allowed"
)

// defaultRetryAfter is sent when the provider gave no hint.
const defaultRetryAfter = 5 * time.Second

// failErr translates a service error into the error envelope.
func failErr(c *gin.Context, err error) {
	var (
		ve *services.ValidationError
		pe *embedding.ProviderError
	)
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, ve.Error())
	case errors.Is(err, transcript.ErrUnknownFormat), errors.Is(err, transcript.ErrBadTimestamp):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())

	case errors.Is(err, services.ErrChannelForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())

	case errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrChannelNotFound),
		errors.Is(err, services.ErrVideoNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())

	case errors.Is(err, services.ErrAlreadyIndexed), errors.Is(err, services.ErrIngestInProgress):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())

	case errors.Is(err, services.ErrMissingCredential):
		fail(c, http.StatusUnprocessableEntity, ErrCodeMissingCredential, err.Error())

	case errors.Is(err, services.ErrQueryTimeout):
		c.Header("Retry-After", "1")
		fail(c, http.StatusGatewayTimeout, ErrCodeQueryTimeout, err.Error())

	case errors.As(err, &pe):
		switch pe.Kind {
		case embedding.KindInvalidCredential:
			fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidCredential, "the provider rejected the configured API key")
		case embedding.KindRateLimited, embedding.KindUnavailable:
			wait := pe.RetryAfter
			if wait <= 0 {
				wait = defaultRetryAfter
			}
			c.Header("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
			fail(c, http.StatusServiceUnavailable, ErrCodeProviderUnavailable, "embedding provider is "+pe.Kind.String())
		default:
			fail(c, http.StatusBadGateway, ErrCodeInternal, "embedding provider error")
		}

	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this body.
		fail(c, 499, ErrCodeCanceled, "request canceled")

	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
