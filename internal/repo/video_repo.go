// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for videos and
// their ingestion state.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// ErrStateConflict is returned by TransitionVideoState when the video was not
// in the expected state (another writer moved it first).
var ErrStateConflict = errors.New("video state changed concurrently")

// NewVideo describes a video to register under a channel.
type NewVideo struct {
	SourceID        string
	Title           string
	UploadedAt      *time.Time
	DurationSeconds float64
}

// CreateVideo inserts a video in the pending state.
func CreateVideo(ctx context.Context, db *gorm.DB, channelID string, in NewVideo) (*domain.Video, error) {
	now := time.Now().UTC()
	v := &domain.Video{
		ID:              uuid.NewString(),
		ChannelID:       channelID,
		SourceID:        in.SourceID,
		Title:           in.Title,
		UploadedAt:      in.UploadedAt,
		DurationSeconds: in.DurationSeconds,
		IngestState:     domain.StatePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, err
	}
	return v, nil
}

// GetVideo fetches a video by ID.
func GetVideo(ctx context.Context, db *gorm.DB, id string) (*domain.Video, error) {
	var v domain.Video
	if err := db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVideoForOwner fetches a video whose channel is owned by userID.
func GetVideoForOwner(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Video, error) {
	var v domain.Video
	err := db.WithContext(ctx).
		Joins("JOIN channels ON channels.id = videos.channel_id").
		Where("videos.id = ? AND channels.user_id = ?", id, userID).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVideosByChannel returns a channel's videos, newest upload first.
func ListVideosByChannel(ctx context.Context, db *gorm.DB, channelID string) ([]domain.Video, error) {
	var out []domain.Video
	err := db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("uploaded_at desc, created_at desc, id asc").
		Find(&out).Error
	return out, err
}

// ListVideoIDsByChannel returns the IDs of a channel's videos.
func ListVideoIDsByChannel(ctx context.Context, db *gorm.DB, channelID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Video{}).
		Where("channel_id = ?", channelID).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

// VideoStates maps each of ids that belongs to channelID to its ingest
// state. Unknown IDs are absent from the result.
func VideoStates(ctx context.Context, db *gorm.DB, channelID string, ids []string) (map[string]domain.IngestState, error) {
	out := make(map[string]domain.IngestState, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID          string
		IngestState domain.IngestState
	}
	err := db.WithContext(ctx).
		Model(&domain.Video{}).
		Select("id, ingest_state").
		Where("id IN ? AND channel_id = ?", ids, channelID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.IngestState
	}
	return out, nil
}

// TransitionVideoState moves a video from one ingest state to another. The
// step is validated by domain.CheckTransition and applied with a conditional
// UPDATE, so a concurrent writer yields ErrStateConflict instead of a lost
// update. reason is stored as the ingest error when moving to failed and
// cleared otherwise.
func TransitionVideoState(ctx context.Context, db *gorm.DB, id string, from, to domain.IngestState, reason string) error {
	if err := domain.CheckTransition(from, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	updates := map[string]any{
		"ingest_state": to,
		"ingest_error": "",
		"updated_at":   now,
	}
	switch to {
	case domain.StateFailed:
		updates["ingest_error"] = reason
	case domain.StateIndexed:
		updates["ingested_at"] = now
	case domain.StatePending:
		updates["ingested_at"] = nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Video{}).
		Where("id = ? AND ingest_state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// FailInterrupted marks every video left in chunking or embedding as failed.
// It runs at startup, when no ingestion can be in flight, and returns the
// number of videos it touched.
func FailInterrupted(ctx context.Context, db *gorm.DB, reason string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Video{}).
		Where("ingest_state IN ?", []domain.IngestState{domain.StateChunking, domain.StateEmbedding}).
		Updates(map[string]any{
			"ingest_state": domain.StateFailed,
			"ingest_error": reason,
			"updated_at":   time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
