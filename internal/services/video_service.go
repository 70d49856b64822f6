package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/repo"
)

// NewVideoInput describes a video to register.
type NewVideoInput struct {
	SourceID        string     `json:"source_id"`
	Title           string     `json:"title"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// VideoStatus is a video with its stored chunk count.
type VideoStatus struct {
	domain.Video
	Chunks int64 `json:"chunks"`
}

// VideoService registers videos and reports their ingestion status.
type VideoService struct {
	DB *gorm.DB
}

// Add registers a pending video under channelID.
func (s *VideoService) Add(ctx context.Context, p Principal, channelID string, in NewVideoInput) (*domain.Video, error) {
	if _, err := authorizeChannel(ctx, s.DB, p, channelID); err != nil {
		return nil, err
	}
	in.SourceID, in.Title = strings.TrimSpace(in.SourceID), strings.TrimSpace(in.Title)
	if in.SourceID == "" {
		return nil, invalid("source_id", ErrEmptyField)
	}
	if in.Title == "" {
		return nil, invalid("title", ErrEmptyField)
	}
	if in.DurationSeconds < 0 {
		return nil, &ValidationError{Field: "duration_seconds", Reason: "must not be negative"}
	}
	return repo.CreateVideo(ctx, s.DB, channelID, repo.NewVideo{
		SourceID:        in.SourceID,
		Title:           in.Title,
		UploadedAt:      in.UploadedAt,
		DurationSeconds: in.DurationSeconds,
	})
}

// List returns the videos of a channel p owns.
func (s *VideoService) List(ctx context.Context, p Principal, channelID string) ([]domain.Video, error) {
	if _, err := authorizeChannel(ctx, s.DB, p, channelID); err != nil {
		return nil, err
	}
	return repo.ListVideosByChannel(ctx, s.DB, channelID)
}

// Status returns a video and its chunk count.
func (s *VideoService) Status(ctx context.Context, p Principal, videoID string) (*VideoStatus, error) {
	v, err := repo.GetVideo(ctx, s.DB, videoID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	if _, err := authorizeChannel(ctx, s.DB, p, v.ChannelID); err != nil {
		return nil, err
	}
	n, err := repo.CountChunksByVideo(ctx, s.DB, videoID)
	if err != nil {
		return nil, err
	}
	return &VideoStatus{Video: *v, Chunks: n}, nil
}
