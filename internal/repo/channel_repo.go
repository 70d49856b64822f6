// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for channels and
// the ownership lookups the engine uses for tenant isolation.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// CreateChannel inserts a channel owned by userID.
func CreateChannel(ctx context.Context, db *gorm.DB, userID, name, sourceID string) (*domain.Channel, error) {
	now := time.Now().UTC()
	c := &domain.Channel{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		SourceID:  sourceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetChannel fetches a channel by ID regardless of owner.
func GetChannel(ctx context.Context, db *gorm.DB, id string) (*domain.Channel, error) {
	var c domain.Channel
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChannels returns the channels owned by userID ordered by name.
func ListChannels(ctx context.Context, db *gorm.DB, userID string) ([]domain.Channel, error) {
	var out []domain.Channel
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name asc, id asc").
		Find(&out).Error
	return out, err
}

// OwnedChannelIDs returns the IDs of every channel owned by userID.
func OwnedChannelIDs(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Channel{}).
		Where("user_id = ?", userID).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

// DeleteChannel removes a channel owned by userID. Videos, chunks and
// conversations go with it through ON DELETE CASCADE. It returns ErrNotFound
// when no row matched.
func DeleteChannel(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Channel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
