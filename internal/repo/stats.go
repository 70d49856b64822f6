// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries: per-user
// totals, and the count/latest pairs behind ETags in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// ConversationsStats returns the number of a user's conversations and the
// greatest UpdatedAt among them (nil when there are none).
func ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where("user_id = ?", userID)
	return countAndLatest(q)
}

// MessagesStats returns the number of messages in a conversation and the
// greatest UpdatedAt among them (nil when there are none).
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	return countAndLatest(q)
}

// VideoStateCounts returns how many videos of a channel are in each ingest
// state.
func VideoStateCounts(ctx context.Context, db *gorm.DB, channelID string) (map[domain.IngestState]int64, error) {
	var rows []struct {
		IngestState domain.IngestState
		N           int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Video{}).
		Select("ingest_state, COUNT(*) AS n").
		Where("channel_id = ?", channelID).
		Group("ingest_state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.IngestState]int64, len(rows))
	for _, r := range rows {
		out[r.IngestState] = r.N
	}
	return out, nil
}

// UserTotals aggregates what a user has registered and ingested.
type UserTotals struct {
	Channels int64
	Videos   map[domain.IngestState]int64
	Chunks   int64
}

// UserStats counts a user's channels, their videos per ingest state and the
// chunks stored for them.
func UserStats(ctx context.Context, db *gorm.DB, userID string) (*UserTotals, error) {
	out := &UserTotals{Videos: map[domain.IngestState]int64{}}
	if err := db.WithContext(ctx).Model(&domain.Channel{}).Where("user_id = ?", userID).Count(&out.Channels).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		IngestState domain.IngestState
		N           int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Video{}).
		Select("videos.ingest_state AS ingest_state, COUNT(*) AS n").
		Joins("JOIN channels ON channels.id = videos.channel_id").
		Where("channels.user_id = ?", userID).
		Group("videos.ingest_state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out.Videos[r.IngestState] = r.N
	}

	err = db.WithContext(ctx).
		Model(&domain.TranscriptChunk{}).
		Joins("JOIN videos ON videos.id = transcript_chunks.video_id").
		Joins("JOIN channels ON channels.id = videos.channel_id").
		Where("channels.user_id = ?", userID).
		Count(&out.Chunks).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func countAndLatest(q *gorm.DB) (int64, *time.Time, error) {
	q = q.Session(&gorm.Session{})
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err := q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
