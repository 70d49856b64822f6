package services

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/transcript-chat/internal/chunker"
	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/repo"
	"github.com/tbourn/transcript-chat/internal/vectorindex"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// testEnv is a full engine over an in-memory store, the hashing embedder
// and a memory index.
type testEnv struct {
	db    *gorm.DB
	idx   *vectorindex.Memory
	emb   embedding.Embedder
	ing   *Ingestor
	ret   *Retriever
	ans   *AnswerService
	creds *CredentialService
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	idx := vectorindex.NewMemory()
	emb := embedding.NewHashing(256)
	ch := chunker.New(chunker.WithTargetChars(80), chunker.WithOverlap(0))

	ing := NewIngestor(db, emb, idx, ch)
	ing.BatchSize = 2
	ret := NewRetriever(db, emb, idx)
	creds := &CredentialService{DB: db}
	ans := &AnswerService{
		DB:          db,
		Retriever:   ret,
		Composer:    NewComposer(nil),
		Credentials: creds,
		TopK:        DefaultTopK,
		MinScore:    DefaultMinScore,
	}
	return &testEnv{db: db, idx: idx, emb: emb, ing: ing, ret: ret, ans: ans, creds: creds}
}

func (e *testEnv) channel(t *testing.T, userID, name string) *domain.Channel {
	t.Helper()
	ch, err := repo.CreateChannel(context.Background(), e.db, userID, name, "UC-"+name)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch
}

func (e *testEnv) video(t *testing.T, channelID, sourceID, title string, duration float64) *domain.Video {
	t.Helper()
	v, err := repo.CreateVideo(context.Background(), e.db, channelID, repo.NewVideo{SourceID: sourceID, Title: title, DurationSeconds: duration})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	return v
}

// principal loads the channels userID owns, as the identity middleware does.
func (e *testEnv) principal(t *testing.T, userID string) Principal {
	t.Helper()
	ids, err := repo.OwnedChannelIDs(context.Background(), e.db, userID)
	if err != nil {
		t.Fatalf("owned channels: %v", err)
	}
	return NewPrincipal(userID, ids)
}

func (e *testEnv) videoState(t *testing.T, id string) *domain.Video {
	t.Helper()
	v, err := repo.GetVideo(context.Background(), e.db, id)
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	return v
}

// segs builds consecutive five-second segments.
func segs(texts ...string) []chunker.Segment {
	out := make([]chunker.Segment, len(texts))
	for i, s := range texts {
		out[i] = chunker.Segment{Start: float64(i * 5), End: float64(i*5 + 5), Text: s}
	}
	return out
}

// failingEmbedder embeds single texts but fails every batch.
type failingEmbedder struct {
	*embedding.Hashing
	err error
}

func (f failingEmbedder) EmbedBatch(context.Context, embedding.Credential, []string) ([][]float32, error) {
	return nil, f.err
}

// blockingEmbedder signals started and then waits for cancellation.
type blockingEmbedder struct {
	*embedding.Hashing
	started chan struct{}
}

func (b blockingEmbedder) EmbedBatch(ctx context.Context, _ embedding.Credential, _ []string) ([][]float32, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// conversationRepo adapts the repo functions for ConversationService.
type conversationRepo struct{}

func (conversationRepo) CreateConversation(ctx context.Context, db *gorm.DB, userID, channelID, title string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, userID, channelID, title)
}

func (conversationRepo) GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id, userID)
}

func (conversationRepo) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, userID, title)
}

func (conversationRepo) CountConversations(ctx context.Context, db *gorm.DB, userID, channelID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID, channelID)
}

func (conversationRepo) ListConversationsPage(ctx context.Context, db *gorm.DB, userID, channelID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, channelID, offset, limit)
}
