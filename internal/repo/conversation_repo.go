// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts a new Conversation owned by userID and scoped to
// channelID. The ID is a random UUID and CreatedAt is set to UTC.
func CreateConversation(ctx context.Context, db *gorm.DB, userID, channelID, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChannelID: channelID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// CountConversations returns the number of conversations owned by userID.
// A non-empty channelID narrows the count to that channel.
func CountConversations(ctx context.Context, db *gorm.DB, userID, channelID string) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where("user_id = ?", userID)
	if channelID != "" {
		q = q.Where("channel_id = ?", channelID)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of conversations for userID, newest
// first. A non-empty channelID narrows the listing to that channel.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID, channelID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if channelID != "" {
		q = q.Where("channel_id = ?", channelID)
	}
	err := q.Order("created_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetConversation fetches a conversation by ID and owner. If the record does
// not exist (or belongs to someone else), it returns ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateConversationTitle renames a conversation owned by userID. It returns
// ErrNotFound when no row matched.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
