package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection so the foreign_keys pragma applies to every statement.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&Channel{}, &Video{}, &TranscriptChunk{}, &Conversation{}, &Message{}, &Credential{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Channel{}).TableName():         "channels",
		(Video{}).TableName():           "videos",
		(TranscriptChunk{}).TableName(): "transcript_chunks",
		(Conversation{}).TableName():    "conversations",
		(Message{}).TableName():         "messages",
		(Credential{}).TableName():      "credentials",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	if !m.HasIndex(&Channel{}, "idx_user_channels") {
		t.Fatalf("expected idx_user_channels on channels")
	}
	if !m.HasIndex(&Video{}, "ux_channel_video_source") {
		t.Fatalf("expected ux_channel_video_source on videos")
	}
	if !m.HasIndex(&TranscriptChunk{}, "ux_video_ordinal") {
		t.Fatalf("expected ux_video_ordinal on transcript_chunks")
	}
	if !m.HasIndex(&Message{}, "idx_conversation_msgs") {
		t.Fatalf("expected idx_conversation_msgs on messages")
	}
}

func TestCascade_ChannelDeletesVideosAndChunks(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	ch := Channel{ID: "c-1", UserID: "u1", Name: "Cooking", SourceID: "UC1", CreatedAt: now}
	v := Video{ID: "v-1", ChannelID: ch.ID, SourceID: "yt1", Title: "Bread", IngestState: StateIndexed, CreatedAt: now}
	ck := TranscriptChunk{ID: "k-1", VideoID: v.ID, Ordinal: 0, StartSeconds: 0, EndSeconds: 10, Text: "flour", CreatedAt: now}
	conv := Conversation{ID: "cv-1", UserID: "u1", ChannelID: ch.ID, Title: "t", CreatedAt: now}
	for _, rec := range []any{&ch, &v, &ck, &conv} {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("create %T: %v", rec, err)
		}
	}

	if err := db.Delete(&Channel{ID: ch.ID}).Error; err != nil {
		t.Fatalf("delete channel: %v", err)
	}

	var n int64
	db.Model(&Video{}).Where("channel_id = ?", ch.ID).Count(&n)
	if n != 0 {
		t.Fatalf("videos not cascaded: %d", n)
	}
	db.Model(&TranscriptChunk{}).Where("video_id = ?", v.ID).Count(&n)
	if n != 0 {
		t.Fatalf("chunks not cascaded: %d", n)
	}
	db.Unscoped().Model(&Conversation{}).Where("channel_id = ?", ch.ID).Count(&n)
	if n != 0 {
		t.Fatalf("conversations not cascaded: %d", n)
	}
}

func TestChunkChecks_RejectInvertedRange(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()
	_ = db.Create(&Channel{ID: "c", UserID: "u", Name: "n", SourceID: "s", CreatedAt: now}).Error
	_ = db.Create(&Video{ID: "v", ChannelID: "c", SourceID: "y", Title: "t", IngestState: StatePending, CreatedAt: now}).Error

	bad := TranscriptChunk{ID: "k", VideoID: "v", StartSeconds: 5, EndSeconds: 5, Text: "x", CreatedAt: now}
	if err := db.Create(&bad).Error; err == nil {
		t.Fatalf("expected CHECK violation for end <= start")
	}
}

func TestMessage_CitationRoundTrip(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()
	_ = db.Create(&Channel{ID: "c", UserID: "u", Name: "n", SourceID: "s", CreatedAt: now}).Error
	_ = db.Create(&Conversation{ID: "cv", UserID: "u", ChannelID: "c", Title: "t", CreatedAt: now}).Error

	m := Message{ID: "m1", ConversationID: "cv", Role: "assistant", Content: "answer", CreatedAt: now}
	m.SetCitation(NewCitation("v-1", "abc123", "Bread", 75.9))
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	plain := Message{ID: "m2", ConversationID: "cv", Role: "user", Content: "q", CreatedAt: now}
	if err := db.Create(&plain).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var got Message
	if err := db.First(&got, "id = ?", "m1").Error; err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Citation == nil {
		t.Fatalf("expected citation after load")
	}
	if got.Citation.VideoID != "v-1" || got.Citation.Timestamp != "01:15" {
		t.Fatalf("unexpected citation: %+v", got.Citation)
	}
	if got.Citation.URL != "https://www.youtube.com/watch?v=abc123&t=75s" {
		t.Fatalf("unexpected url: %s", got.Citation.URL)
	}

	var gotPlain Message
	if err := db.First(&gotPlain, "id = ?", "m2").Error; err != nil {
		t.Fatalf("read: %v", err)
	}
	if gotPlain.Citation != nil {
		t.Fatalf("user message must not carry a citation: %+v", gotPlain.Citation)
	}
}

func TestMessage_RoleCheck(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()
	_ = db.Create(&Channel{ID: "c", UserID: "u", Name: "n", SourceID: "s", CreatedAt: now}).Error
	_ = db.Create(&Conversation{ID: "cv", UserID: "u", ChannelID: "c", Title: "t", CreatedAt: now}).Error

	err := db.Create(&Message{ID: "m", ConversationID: "cv", Role: "system", Content: "x", CreatedAt: now}).Error
	if err == nil {
		t.Fatalf("expected CHECK violation for role")
	}
}

func TestCredential_UniquePerUser(t *testing.T) {
	db := newDomainDB(t)
	if err := db.Create(&Credential{ID: "a", UserID: "u1", Provider: "openai", APIKey: "sk-1"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Create(&Credential{ID: "b", UserID: "u1", Provider: "openai", APIKey: "sk-2"}).Error; err == nil {
		t.Fatalf("expected unique violation on user_id")
	}
}
