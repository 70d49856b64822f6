package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/repo"
)

// Principal is the authenticated caller and the set of channels it owns, as
// delivered by the authentication layer.
type Principal struct {
	UserID   string
	channels map[string]struct{}
}

// NewPrincipal builds a Principal owning channelIDs.
func NewPrincipal(userID string, channelIDs []string) Principal {
	set := make(map[string]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return Principal{UserID: userID, channels: set}
}

// Owns reports whether channelID is in the owned set.
func (p Principal) Owns(channelID string) bool {
	_, ok := p.channels[channelID]
	return ok
}

// Channels returns the owned channel ids in no particular order.
func (p Principal) Channels() []string {
	out := make([]string, 0, len(p.channels))
	for id := range p.channels {
		out = append(out, id)
	}
	return out
}

// authorizeChannel loads channelID and checks that p may act on it. Missing
// channels yield ErrChannelNotFound; channels outside the owned set, or
// owned by someone else in the store, yield ErrChannelForbidden.
func authorizeChannel(ctx context.Context, db *gorm.DB, p Principal, channelID string) (*domain.Channel, error) {
	if channelID == "" {
		return nil, invalid("channel_id", ErrEmptyField)
	}
	ch, err := repo.GetChannel(ctx, db, channelID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	if !p.Owns(channelID) || ch.UserID != p.UserID {
		return nil, ErrChannelForbidden
	}
	return ch, nil
}
