// Package services holds the application logic: retrieval, answer
// composition, ingestion, and the conversation, channel, video and
// credential operations the HTTP and CLI layers call.
//
// This file centralizes the service-level error values so handlers can map
// them to HTTP results with errors.Is and errors.As.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/transcript-chat/internal/embedding"
)

// Resource errors.
var (
	// ErrConversationNotFound indicates that the conversation does not exist
	// or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")
	ErrChannelNotFound      = errors.New("channel not found")
	ErrVideoNotFound        = errors.New("video not found")

	// ErrChannelForbidden is returned for any operation scoped to a channel
	// outside the caller's owned set.
	ErrChannelForbidden = errors.New("channel is not owned by the caller")

	// ErrAlreadyIndexed is returned by Ingest for a video that has completed
	// ingestion; use Reingest to replace its chunks.
	ErrAlreadyIndexed = errors.New("video is already indexed")

	// ErrIngestInProgress is returned when a video is mid-pipeline in
	// another process.
	ErrIngestInProgress = errors.New("video ingestion is in progress")

	// ErrMissingCredential means the user has no provider key configured.
	ErrMissingCredential = errors.New("no provider credential configured")

	// ErrQueryTimeout is returned when answering exceeds the query timeout.
	// It is retryable.
	ErrQueryTimeout = errors.New("query timed out")
)

// Validation causes wrapped by *ValidationError.
var (
	ErrEmptyQuestion   = errors.New("question is empty")
	ErrQuestionTooLong = errors.New("question too long")
	ErrInvalidAPIKey   = errors.New("api key must start with sk-")
	ErrEmptyField      = errors.New("value is required")
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Reason != "":
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	case e.Field != "":
		return "invalid " + e.Field
	default:
		return "invalid input: " + e.Reason
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: err.Error(), Err: err}
}

// ConsistencyError records a mismatch between the vector index and the
// relational store. It is logged and counted, never returned to clients.
type ConsistencyError struct {
	ChunkID   string
	VideoID   string
	ChannelID string
	Reason    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("index inconsistency for chunk %s (video %s, channel %s): %s", e.ChunkID, e.VideoID, e.ChannelID, e.Reason)
}

// IsRetryable reports whether err is a transient failure worth retrying:
// a query timeout or a rate-limited/unavailable provider.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQueryTimeout) || embedding.IsRetryable(err)
}

// isCtxErr reports whether err comes from context cancellation or expiry.
func isCtxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
