// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for transcript
// chunks: bulk insert and delete per video, lookups that only see chunks of
// indexed videos, and batched scans used to rebuild the vector index.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// insertBatchSize bounds the number of rows per INSERT statement.
const insertBatchSize = 100

// ChunkRef is a transcript chunk joined with the video metadata needed for
// citation and tenant checks.
type ChunkRef struct {
	domain.TranscriptChunk
	ChannelID     string
	VideoSourceID string
	VideoTitle    string
}

// InsertChunks writes chunks in batches. Callers run it inside a transaction
// so a run's chunk set is committed all at once.
func InsertChunks(ctx context.Context, db *gorm.DB, chunks []domain.TranscriptChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(chunks, insertBatchSize).Error
}

// DeleteChunksByVideo removes every chunk of a video and reports how many
// rows were deleted.
func DeleteChunksByVideo(ctx context.Context, db *gorm.DB, videoID string) (int64, error) {
	res := db.WithContext(ctx).Where("video_id = ?", videoID).Delete(&domain.TranscriptChunk{})
	return res.RowsAffected, res.Error
}

// CountChunksByVideo returns the number of chunks stored for a video.
func CountChunksByVideo(ctx context.Context, db *gorm.DB, videoID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.TranscriptChunk{}).Where("video_id = ?", videoID).Count(&n).Error
	return n, err
}

// ListChunksByVideo returns a video's chunks ordered by ordinal.
func ListChunksByVideo(ctx context.Context, db *gorm.DB, videoID string) ([]domain.TranscriptChunk, error) {
	var out []domain.TranscriptChunk
	err := db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("ordinal asc").
		Find(&out).Error
	return out, err
}

// chunkRefSelect projects transcript_chunks plus the joined video columns.
const chunkRefSelect = "transcript_chunks.*, videos.channel_id AS channel_id, videos.source_id AS video_source_id, videos.title AS video_title"

// QueryableChunks loads the chunks with the given IDs that belong to an
// indexed video of channelID. IDs that do not satisfy all three conditions
// are simply absent from the result; callers compare lengths to detect
// index drift.
func QueryableChunks(ctx context.Context, db *gorm.DB, channelID string, ids []string) ([]ChunkRef, error) {
	if len(ids) == 0 {
		return []ChunkRef{}, nil
	}
	var out []ChunkRef
	err := db.WithContext(ctx).
		Model(&domain.TranscriptChunk{}).
		Select(chunkRefSelect).
		Joins("JOIN videos ON videos.id = transcript_chunks.video_id").
		Where("transcript_chunks.id IN ? AND videos.channel_id = ? AND videos.ingest_state = ?", ids, channelID, domain.StateIndexed).
		Scan(&out).Error
	return out, err
}

// ScanIndexableChunks streams every embedded chunk of an indexed video in
// batches of batchSize, ordered by (video_id, ordinal). A non-empty channelID
// restricts the scan to that channel. fn is called once per batch; a non-nil
// error from fn stops the scan and is returned.
func ScanIndexableChunks(ctx context.Context, db *gorm.DB, channelID string, batchSize int, fn func([]ChunkRef) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	q := db.WithContext(ctx).
		Model(&domain.TranscriptChunk{}).
		Select(chunkRefSelect).
		Joins("JOIN videos ON videos.id = transcript_chunks.video_id").
		Where("videos.ingest_state = ? AND transcript_chunks.dimension > 0", domain.StateIndexed)
	if channelID != "" {
		q = q.Where("videos.channel_id = ?", channelID)
	}
	q = q.Order("transcript_chunks.video_id asc, transcript_chunks.ordinal asc")

	for offset := 0; ; offset += batchSize {
		var batch []ChunkRef
		if err := q.Session(&gorm.Session{}).Offset(offset).Limit(batchSize).Scan(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}
