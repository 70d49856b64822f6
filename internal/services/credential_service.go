package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/repo"
)

const (
	providerOpenAI = "openai"
	apiKeyPrefix   = "sk-"
	minAPIKeyLen   = 20
)

// CredentialInfo is what callers may see of a stored key.
type CredentialInfo struct {
	Provider  string    `json:"provider"`
	Hint      string    `json:"hint"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialService stores one provider key per user and resolves the
// credential used for embedding and generation calls.
type CredentialService struct {
	DB *gorm.DB

	// RequireCredential makes Resolve fail with ErrMissingCredential when a
	// user has no key. Providers that need no key leave it false.
	RequireCredential bool
}

// Set validates and stores key, replacing any previous one. Only the masked
// hint is returned.
func (s *CredentialService) Set(ctx context.Context, userID, key string) (*CredentialInfo, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalid("api_key", ErrEmptyField)
	}
	if !strings.HasPrefix(key, apiKeyPrefix) || len(key) < minAPIKeyLen || strings.ContainsAny(key, " \t\r\n") {
		return nil, invalid("api_key", ErrInvalidAPIKey)
	}
	c, err := repo.UpsertCredential(ctx, s.DB, userID, providerOpenAI, key)
	if err != nil {
		return nil, err
	}
	return &CredentialInfo{Provider: c.Provider, Hint: MaskKey(c.APIKey), UpdatedAt: c.UpdatedAt}, nil
}

// Get returns the masked view of the user's key, or ErrMissingCredential.
func (s *CredentialService) Get(ctx context.Context, userID string) (*CredentialInfo, error) {
	c, err := repo.GetCredential(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMissingCredential
		}
		return nil, err
	}
	return &CredentialInfo{Provider: c.Provider, Hint: MaskKey(c.APIKey), UpdatedAt: c.UpdatedAt}, nil
}

// Delete removes the user's key.
func (s *CredentialService) Delete(ctx context.Context, userID string) error {
	return repo.DeleteCredential(ctx, s.DB, userID)
}

// GetActiveKey returns the user's raw key. ok is false when none is stored.
func (s *CredentialService) GetActiveKey(ctx context.Context, userID string) (key string, ok bool, err error) {
	c, err := repo.GetCredential(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return c.APIKey, true, nil
}

// Resolve builds the embedding credential for userID.
func (s *CredentialService) Resolve(ctx context.Context, userID string) (embedding.Credential, error) {
	key, ok, err := s.GetActiveKey(ctx, userID)
	if err != nil {
		return embedding.Credential{}, err
	}
	if !ok && s.RequireCredential {
		return embedding.Credential{}, ErrMissingCredential
	}
	return embedding.Credential{UserID: userID, APIKey: key}, nil
}

// MaskKey keeps the prefix and the last four characters.
func MaskKey(key string) string {
	if len(key) <= len(apiKeyPrefix)+4 {
		return apiKeyPrefix + "****"
	}
	return key[:len(apiKeyPrefix)] + "****" + key[len(key)-4:]
}
