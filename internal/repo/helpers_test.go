package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// newRepoDB opens a private in-memory database with the full schema.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustChannel(t *testing.T, db *gorm.DB, userID, name string) *domain.Channel {
	t.Helper()
	ch, err := CreateChannel(context.Background(), db, userID, name, "UC-"+name)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch
}

func mustVideo(t *testing.T, db *gorm.DB, channelID, sourceID string) *domain.Video {
	t.Helper()
	v, err := CreateVideo(context.Background(), db, channelID, NewVideo{SourceID: sourceID, Title: "Video " + sourceID})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	return v
}

func mustChunks(t *testing.T, db *gorm.DB, videoID string, n int) []domain.TranscriptChunk {
	t.Helper()
	out := make([]domain.TranscriptChunk, n)
	for i := range out {
		out[i] = domain.TranscriptChunk{
			ID:           uuid.NewString(),
			VideoID:      videoID,
			Ordinal:      i,
			StartSeconds: float64(i * 10),
			EndSeconds:   float64(i*10 + 12),
			Text:         fmt.Sprintf("chunk %d", i),
			Embedding:    domain.EncodeEmbedding([]float32{1, float32(i)}),
			Dimension:    2,
			CreatedAt:    time.Now().UTC(),
		}
	}
	if err := InsertChunks(context.Background(), db, out); err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	return out
}

// advance walks a video through the given states.
func advance(t *testing.T, db *gorm.DB, videoID string, states ...domain.IngestState) {
	t.Helper()
	v, err := GetVideo(context.Background(), db, videoID)
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	from := v.IngestState
	for _, to := range states {
		if err := TransitionVideoState(context.Background(), db, videoID, from, to, ""); err != nil {
			t.Fatalf("transition %s -> %s: %v", from, to, err)
		}
		from = to
	}
}
