package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/repo"
	"github.com/tbourn/transcript-chat/internal/vectorindex"
)

// ChannelSummary is a channel with per-state video counts.
type ChannelSummary struct {
	domain.Channel
	Videos map[domain.IngestState]int64 `json:"videos"`
}

// Stats totals what a user has registered and ingested across channels.
type Stats struct {
	Channels      int64                        `json:"channels"`
	Videos        int64                        `json:"videos"`
	VideosByState map[domain.IngestState]int64 `json:"videos_by_state"`
	Chunks        int64                        `json:"chunks"`
}

// ChannelService registers, lists and deletes channels.
type ChannelService struct {
	DB    *gorm.DB
	Index vectorindex.Index
	Log   zerolog.Logger
}

// NewChannelService wires a ChannelService.
func NewChannelService(db *gorm.DB, idx vectorindex.Index) *ChannelService {
	return &ChannelService{DB: db, Index: idx, Log: log.Logger}
}

// Register creates a channel owned by userID.
func (s *ChannelService) Register(ctx context.Context, userID, name, sourceID string) (*domain.Channel, error) {
	name, sourceID = strings.TrimSpace(name), strings.TrimSpace(sourceID)
	if name == "" {
		return nil, invalid("name", ErrEmptyField)
	}
	if sourceID == "" {
		return nil, invalid("source_id", ErrEmptyField)
	}
	return repo.CreateChannel(ctx, s.DB, userID, name, sourceID)
}

// List returns the user's channels.
func (s *ChannelService) List(ctx context.Context, userID string) ([]domain.Channel, error) {
	return repo.ListChannels(ctx, s.DB, userID)
}

// Get returns a channel p owns, with its video state counts.
func (s *ChannelService) Get(ctx context.Context, p Principal, channelID string) (*ChannelSummary, error) {
	ch, err := authorizeChannel(ctx, s.DB, p, channelID)
	if err != nil {
		return nil, err
	}
	counts, err := repo.VideoStateCounts(ctx, s.DB, channelID)
	if err != nil {
		return nil, err
	}
	return &ChannelSummary{Channel: *ch, Videos: counts}, nil
}

// Stats returns userID's totals.
func (s *ChannelService) Stats(ctx context.Context, userID string) (*Stats, error) {
	t, err := repo.UserStats(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := &Stats{Channels: t.Channels, VideosByState: t.Videos, Chunks: t.Chunks}
	for _, n := range t.Videos {
		out.Videos += n
	}
	return out, nil
}

// Delete removes a channel with its videos, chunks and conversations. Index
// entries go first so no query can see chunks whose rows are gone.
func (s *ChannelService) Delete(ctx context.Context, p Principal, channelID string) error {
	if _, err := authorizeChannel(ctx, s.DB, p, channelID); err != nil {
		return err
	}
	ids, err := repo.ListVideoIDsByChannel(ctx, s.DB, channelID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.Index.DeleteByVideo(ctx, id); err != nil {
			return fmt.Errorf("purge index for video %s: %w", id, err)
		}
	}
	if err := repo.DeleteChannel(ctx, s.DB, channelID, p.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrChannelNotFound
		}
		return err
	}
	s.Log.Info().Str("channel_id", channelID).Int("videos", len(ids)).Msg("channel deleted")
	return nil
}
