// Package services – MessageService
//
// This file implements MessageService, which owns the lifecycle of
// conversation messages. Posting a question checks ownership, asks the
// AnswerService, and persists the user/assistant pair atomically together
// with the citation and score. The first question of a conversation with a
// placeholder title also names the conversation.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/repo"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"

	// placeholder titles eligible for auto-generation
	defaultTitleNew      = "New conversation"
	defaultTitleUntitled = "Untitled"
)

// Answerer produces a grounded answer for a channel.
type Answerer interface {
	Answer(ctx context.Context, p Principal, channelID, question string) (*AnswerResult, error)
}

// MessageService coordinates message persistence and answers.
type MessageService struct {
	DB      *gorm.DB
	Answers Answerer

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int
}

// Post answers question inside conversationID and stores both messages in
// one transaction. Nothing is stored when answering fails.
func (s *MessageService) Post(ctx context.Context, p Principal, conversationID, question string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Post",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", p.UserID),
		),
	)
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, invalid("question", ErrEmptyQuestion)
	}

	conv, err := repo.GetConversation(ctx, s.DB, conversationID, p.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	res, err := s.Answers.Answer(ctx, p, conv.ChannelID, question)
	if err != nil {
		return nil, err
	}

	var assistant *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateMessage(tx, conv.ID, roleUser, question, nil, nil); err != nil {
			return err
		}
		m, err := repo.CreateMessage(tx, conv.ID, roleAssistant, res.Text, res.Score, res.Citation)
		if err != nil {
			return err
		}
		assistant = m

		if shouldAutoTitle(conv.Title) {
			if gen := s.generateTitle(question); gen != "" {
				return tx.Model(&domain.Conversation{}).
					Where("id = ? AND user_id = ?", conv.ID, p.UserID).
					Update("title", s.clipTitle(gen)).Error
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("cited", assistant.Citation != nil))
	return assistant, nil
}

// ListPage returns a page of a conversation's messages, oldest first.
func (s *MessageService) ListPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetConversation(ctx, s.DB, conversationID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), conversationID, offset, pageSize)
	return items, total, err
}

// shouldAutoTitle reports whether the current title is a placeholder.
func shouldAutoTitle(current string) bool {
	t := strings.ToLower(strings.TrimSpace(current))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// generateTitle derives a short title from the question.
func (s *MessageService) generateTitle(question string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(question), -1)
	if len(toks) == 0 {
		return ""
	}
	caser := cases.Title(s.TitleLocaleOrDefault())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	return strings.Join(out, " ")
}

func (s *MessageService) clipTitle(title string) string {
	limit := s.TitleMaxLen
	if limit <= 0 {
		limit = 60
	}
	if utf8.RuneCountInString(title) > limit {
		return strings.TrimSpace(string([]rune(title)[:limit]))
	}
	return title
}

// TitleLocaleOrDefault returns the configured casing locale, English if unset.
func (s *MessageService) TitleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// Letters with optional trailing digits ("gpt4").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"what": {}, "does": {}, "do": {}, "how": {}, "why": {}, "did": {}, "he": {}, "she": {}, "they": {},
}
