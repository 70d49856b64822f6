// Package app assembles the engine from configuration: relational store,
// vector index, embedder stack, chunker, optional generator and the
// application services. The HTTP server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/chunker"
	"github.com/tbourn/transcript-chat/internal/config"
	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/generation"
	"github.com/tbourn/transcript-chat/internal/http/handlers"
	"github.com/tbourn/transcript-chat/internal/repo"
	"github.com/tbourn/transcript-chat/internal/services"
	"github.com/tbourn/transcript-chat/internal/vectorindex"
)

// Index backends.
const (
	IndexMemory = "memory"
	IndexBolt   = "bolt"
)

// interruptedReason marks videos left mid-pipeline by a previous process.
const interruptedReason = "interrupted by restart"

// App is a fully wired engine. Close releases everything Build opened.
type App struct {
	Cfg config.Config

	DB       *gorm.DB
	Index    vectorindex.Index
	Embedder embedding.Embedder
	Chunker  *chunker.Chunker

	Channels      *services.ChannelService
	Videos        *services.VideoService
	Credentials   *services.CredentialService
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Retriever     *services.Retriever
	Answers       *services.AnswerService
	Ingestor      *services.Ingestor

	closers []io.Closer
}

// Option adjusts Build.
type Option func(*options)

type options struct {
	db       *gorm.DB
	embedder embedding.Embedder
	tracing  bool
}

// WithDB uses an already-open database instead of cfg.Store.
func WithDB(db *gorm.DB) Option { return func(o *options) { o.db = db } }

// WithEmbedder replaces the configured embedder stack.
func WithEmbedder(e embedding.Embedder) Option { return func(o *options) { o.embedder = e } }

// WithTracing installs the GORM tracing plugin.
func WithTracing() Option { return func(o *options) { o.tracing = true } }

// Build opens the stores and wires the services. On error, anything
// already opened is closed.
func Build(cfg config.Config, opts ...Option) (a *App, err error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	a = &App{Cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	if a.DB = o.db; a.DB == nil {
		if a.DB, err = openDB(cfg.Store); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if sqlDB, e := a.DB.DB(); e == nil {
			a.closers = append(a.closers, sqlDB)
		}
	}
	if o.tracing {
		if err = repo.EnableTracing(a.DB); err != nil {
			return nil, fmt.Errorf("db tracing: %w", err)
		}
	}
	if err = repo.AutoMigrate(a.DB); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if a.Embedder = o.embedder; a.Embedder == nil {
		if a.Embedder, err = a.embedderStack(cfg.Embedding, cfg.Redis); err != nil {
			return nil, err
		}
	}

	if a.Index, err = a.openIndex(cfg.Index, a.Embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	a.Chunker = chunker.New(
		chunker.WithTargetChars(cfg.Chunk.TargetChars),
		chunker.WithMaxDuration(cfg.Chunk.MaxDuration),
		chunker.WithOverlap(cfg.Chunk.Overlap),
	)

	a.wireServices(cfg)
	return a, nil
}

func openDB(sc config.StoreConfig) (*gorm.DB, error) {
	if sc.Driver == repo.DriverPostgres {
		return repo.Open(sc.Driver, sc.DSN)
	}
	if err := ensureDir(sc.Path); err != nil {
		return nil, err
	}
	return repo.Open(repo.DriverSQLite, sc.Path)
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

func (a *App) openIndex(ic config.IndexConfig, dim int) (vectorindex.Index, error) {
	switch strings.ToLower(ic.Backend) {
	case "", IndexMemory:
		return vectorindex.NewMemory(vectorindex.WithDimension(dim)), nil
	case IndexBolt:
		b, err := vectorindex.OpenBolt(ic.Path, vectorindex.WithDimension(dim))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", ic.Backend)
	}
}

func (a *App) embedderStack(ec config.EmbeddingConfig, rc config.RedisConfig) (embedding.Embedder, error) {
	var lim embedding.Limiter
	if ec.Provider == embedding.ProviderOpenAI {
		if rc.Addr != "" {
			rl, err := embedding.NewRedisLimiter(rc.Addr, rc.Password, "", max(int(math.Ceil(ec.RPS)), 1), time.Second)
			if err != nil {
				return nil, fmt.Errorf("redis limiter: %w", err)
			}
			a.closers = append(a.closers, rl)
			lim = rl
		} else {
			lim = embedding.NewLocalLimiter(ec.RPS, ec.Burst)
		}
	}
	emb, err := embedding.NewStack(embedding.StackConfig{
		Provider: ec.Provider,
		OpenAI: embedding.OpenAIConfig{
			Model:     ec.Model,
			Dimension: ec.Dimension,
			BaseURL:   ec.BaseURL,
		},
		Retry: embedding.RetryPolicy{
			MaxAttempts:    ec.MaxAttempts,
			InitialBackoff: ec.InitialBackoff,
			MaxBackoff:     ec.MaxBackoff,
		},
		Limiter:  lim,
		RetryOpt: []embedding.RetryOption{embedding.WithRetryLogger(log.Logger)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return emb, nil
}

func (a *App) wireServices(cfg config.Config) {
	db := a.DB

	a.Channels = services.NewChannelService(db, a.Index)
	a.Videos = &services.VideoService{DB: db}
	a.Credentials = &services.CredentialService{
		DB:                db,
		RequireCredential: cfg.Embedding.Provider == embedding.ProviderOpenAI,
	}
	a.Conversations = services.NewConversationService(db, ConversationRepo{})

	a.Retriever = services.NewRetriever(db, a.Embedder, a.Index)
	a.Retriever.MaxQuestionRunes = cfg.Retrieval.MaxQuestionRunes

	var composer *services.Composer
	if cfg.Generator.Enabled {
		composer = services.NewComposer(generation.NewOpenAI(generation.Config{
			Model:   cfg.Generator.Model,
			BaseURL: cfg.Embedding.BaseURL,
		}))
	} else {
		composer = services.NewComposer(nil)
	}
	composer.SnippetMaxRunes = cfg.Retrieval.SnippetMaxRunes

	a.Answers = &services.AnswerService{
		DB:           db,
		Retriever:    a.Retriever,
		Composer:     composer,
		Credentials:  a.Credentials,
		TopK:         cfg.Retrieval.TopK,
		MinScore:     cfg.Retrieval.MinScore,
		QueryTimeout: cfg.Retrieval.QueryTimeout,
	}
	a.Messages = &services.MessageService{
		DB:          db,
		Answers:     a.Answers,
		TitleLocale: language.English,
		TitleMaxLen: 6,
	}

	a.Ingestor = services.NewIngestor(db, a.Embedder, a.Index, a.Chunker)
	if cfg.Embedding.BatchSize > 0 {
		a.Ingestor.BatchSize = cfg.Embedding.BatchSize
	}
	if cfg.Embedding.Concurrency > 0 {
		a.Ingestor.Concurrency = cfg.Embedding.Concurrency
	}
}

// Deps exposes the services to the HTTP layer.
func (a *App) Deps() handlers.Deps {
	return handlers.Deps{
		Channels:         a.Channels,
		Videos:           a.Videos,
		Ingestor:         a.Ingestor,
		Credentials:      a.Credentials,
		Conversations:    a.Conversations,
		Messages:         a.Messages,
		Answers:          a.Answers,
		DB:               a.DB,
		IdempotencyTTL:   a.Cfg.IdempotencyTTL,
		MaxQuestionRunes: a.Cfg.Retrieval.MaxQuestionRunes,
	}
}

// Recover fails videos a previous process left mid-pipeline, then reloads
// the index from the committed chunks. It returns the number of vectors
// loaded.
func (a *App) Recover(ctx context.Context) (int, error) {
	n, err := repo.FailInterrupted(ctx, a.DB, interruptedReason)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted: %w", err)
	}
	if n > 0 {
		log.Warn().Int64("videos", n).Msg("marked interrupted ingestions as failed")
	}
	return a.LoadIndex(ctx)
}

// LoadIndex rebuilds the vector index from the committed chunks without
// touching video states, so it is safe while another process ingests.
func (a *App) LoadIndex(ctx context.Context) (int, error) {
	return a.Ingestor.RebuildIndex(ctx)
}

// Close waits for background ingestions (bounded by ctx) and closes the
// index, limiter and database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Ingestor != nil {
		errs = append(errs, a.Ingestor.Wait(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ConversationRepo adapts the repo free functions to
// services.ConversationRepo.
type ConversationRepo struct{}

func (ConversationRepo) CreateConversation(ctx context.Context, db *gorm.DB, userID, channelID, title string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, userID, channelID, title)
}

func (ConversationRepo) GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id, userID)
}

func (ConversationRepo) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, userID, title)
}

func (ConversationRepo) CountConversations(ctx context.Context, db *gorm.DB, userID, channelID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID, channelID)
}

func (ConversationRepo) ListConversationsPage(ctx context.Context, db *gorm.DB, userID, channelID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, channelID, offset, limit)
}
