// Package services – ConversationService
//
// This file implements ConversationService, which manages conversations: a
// user's exchange with the assistant about one channel. It normalizes
// titles, enforces ownership, and paginates listings. Automatic titles are
// produced by MessageService on the first question.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// ConversationRepo defines the repository contract required by
// ConversationService.
type ConversationRepo interface {
	CreateConversation(ctx context.Context, db *gorm.DB, userID, channelID, title string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error
	CountConversations(ctx context.Context, db *gorm.DB, userID, channelID string) (int64, error)
	ListConversationsPage(ctx context.Context, db *gorm.DB, userID, channelID string, offset, limit int) ([]domain.Conversation, error)
}

// ConversationService provides conversation-level operations.
type ConversationService struct {
	DB   *gorm.DB
	Repo ConversationRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{DB: db, Repo: r, TitleMaxLen: 60}
}

// Create starts a conversation about channelID, which p must own.
func (s *ConversationService) Create(ctx context.Context, p Principal, channelID, title string) (*domain.Conversation, error) {
	if _, err := authorizeChannel(ctx, s.DB, p, channelID); err != nil {
		return nil, err
	}
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleNew
	}
	return s.Repo.CreateConversation(ctx, s.DB, p.UserID, channelID, s.clip(title))
}

// Get returns one conversation of userID.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*domain.Conversation, error) {
	c, err := s.Repo.GetConversation(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListPage returns a page of the user's conversations, newest first. A
// non-empty channelID narrows the listing to that channel.
func (s *ConversationService) ListPage(ctx context.Context, userID, channelID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountConversations(ctx, s.DB, userID, channelID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := s.Repo.ListConversationsPage(ctx, s.DB, userID, channelID, offset, pageSize)
	return items, total, err
}

// UpdateTitle renames a conversation. A blank title becomes "Untitled".
func (s *ConversationService) UpdateTitle(ctx context.Context, userID, id, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleUntitled
	}
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.Repo.UpdateConversationTitle(ctx, s.DB, id, userID, s.clip(title))
}

func (s *ConversationService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
