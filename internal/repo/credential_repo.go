// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores per-user provider credentials.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/transcript-chat/internal/domain"
)

// UpsertCredential stores key as the user's only active credential,
// replacing any previous value.
func UpsertCredential(ctx context.Context, db *gorm.DB, userID, provider, key string) (*domain.Credential, error) {
	now := time.Now().UTC()
	c := &domain.Credential{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  provider,
		APIKey:    key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "api_key", "updated_at"}),
	}).Create(c).Error
	if err != nil {
		return nil, err
	}
	return GetCredential(ctx, db, userID)
}

// GetCredential returns the user's credential or ErrNotFound.
func GetCredential(ctx context.Context, db *gorm.DB, userID string) (*domain.Credential, error) {
	var c domain.Credential
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCredential removes the user's credential. Deleting a missing
// credential is not an error.
func DeleteCredential(ctx context.Context, db *gorm.DB, userID string) error {
	err := db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Credential{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
