// Package domain defines the persistence models for channels, videos,
// transcript chunks, conversations, and credentials. These types are mapped
// with GORM and form the authoritative data layer; the vector index is a
// projection rebuilt from TranscriptChunk rows.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Channel is a YouTube channel registered by its owner. Deleting a channel
// cascades to its videos (and through them to transcript chunks) and to its
// conversations.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: owner identifier; indexed for ownership lookups.
//   - Name: display name.
//   - SourceID: platform identifier or URL of the channel.
type Channel struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_channels"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	SourceID  string    `json:"source_id"  gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Channel.
func (Channel) TableName() string { return "channels" }

// Video belongs to exactly one Channel. Its transcript is ingested through the
// state machine in IngestState; once indexed, only an explicit re-ingestion
// changes its chunk set.
type Video struct {
	ID              string      `json:"id"                     gorm:"type:char(36);primaryKey"`
	ChannelID       string      `json:"channel_id"             gorm:"type:char(36);not null;index;uniqueIndex:ux_channel_video_source,priority:1"`
	SourceID        string      `json:"source_id"              gorm:"type:varchar(64);not null;uniqueIndex:ux_channel_video_source,priority:2"`
	Title           string      `json:"title"                  gorm:"type:varchar(512);not null"`
	UploadedAt      *time.Time  `json:"uploaded_at,omitempty"`
	DurationSeconds float64     `json:"duration_seconds"       gorm:"not null;default:0"`
	IngestState     IngestState `json:"ingest_state"           gorm:"type:varchar(16);not null;default:'pending';index;check:ingest_state IN ('pending','chunking','embedding','indexed','failed')"`
	IngestError     string      `json:"ingest_error,omitempty" gorm:"type:text"`
	IngestedAt      *time.Time  `json:"ingested_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	Channel Channel `json:"-" gorm:"foreignKey:ChannelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Video.
func (Video) TableName() string { return "videos" }

// TranscriptChunk is a contiguous, time-bounded slice of a video transcript
// and the unit of retrieval. Embedding holds Dimension little-endian float32
// values; rows are only written once every chunk of a run has been embedded.
type TranscriptChunk struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	VideoID        string    `json:"video_id"        gorm:"type:char(36);not null;uniqueIndex:ux_video_ordinal,priority:1"`
	Ordinal        int       `json:"ordinal"         gorm:"not null;uniqueIndex:ux_video_ordinal,priority:2"`
	StartSeconds   float64   `json:"start_seconds"   gorm:"not null;check:start_seconds >= 0"`
	EndSeconds     float64   `json:"end_seconds"     gorm:"not null;check:end_seconds > start_seconds"`
	Text           string    `json:"text"            gorm:"type:text;not null"`
	Embedding      []byte    `json:"-"               gorm:"type:blob"`
	Dimension      int       `json:"dimension"       gorm:"not null;default:0"`
	EmbeddingModel string    `json:"embedding_model" gorm:"type:varchar(128)"`
	CreatedAt      time.Time `json:"created_at"`

	Video Video `json:"-" gorm:"foreignKey:VideoID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TranscriptChunk.
func (TranscriptChunk) TableName() string { return "transcript_chunks" }

// Conversation is an ordered exchange between one user and the assistant,
// scoped to a single channel.
type Conversation struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_conversations"`
	ChannelID string         `json:"channel_id" gorm:"type:char(36);not null;index"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null;default:'New conversation'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	Channel Channel `json:"-" gorm:"foreignKey:ChannelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single utterance in a conversation. Assistant messages carry at
// most one citation (video + start time); user messages never do. The
// citation is stored in the cited_* columns and exposed as Citation.
type Message struct {
	ID                string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID    string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	Role              string         `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content           string         `json:"content"         gorm:"type:text;not null"`
	Score             *float64       `json:"score,omitempty"`
	CitedVideoID      *string        `json:"-"               gorm:"type:char(36)"`
	CitedSourceID     string         `json:"-"               gorm:"type:varchar(64)"`
	CitedTitle        string         `json:"-"               gorm:"type:varchar(512)"`
	CitedStartSeconds float64        `json:"-"`
	CreatedAt         time.Time      `json:"created_at"      gorm:"index:idx_conversation_msgs,priority:2"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-"               gorm:"index"`

	// Citation is derived from the cited_* columns after load.
	Citation *Citation `json:"citation,omitempty" gorm:"-"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// SetCitation copies c into the cited_* columns and the Citation field.
// A nil c clears both.
func (m *Message) SetCitation(c *Citation) {
	if c == nil {
		m.CitedVideoID = nil
		m.CitedSourceID, m.CitedTitle, m.CitedStartSeconds = "", "", 0
		m.Citation = nil
		return
	}
	vid := c.VideoID
	m.CitedVideoID = &vid
	m.CitedSourceID = c.SourceID
	m.CitedTitle = c.Title
	m.CitedStartSeconds = c.StartSeconds
	cc := *c
	m.Citation = &cc
}

// AfterFind rebuilds Citation from the stored columns.
func (m *Message) AfterFind(*gorm.DB) error {
	if m.CitedVideoID == nil || *m.CitedVideoID == "" {
		m.Citation = nil
		return nil
	}
	m.Citation = NewCitation(*m.CitedVideoID, m.CitedSourceID, m.CitedTitle, m.CitedStartSeconds)
	return nil
}

// Citation points an assistant answer at the transcript chunk it is grounded
// on. Timestamp and URL are derived from StartSeconds and SourceID.
type Citation struct {
	VideoID      string  `json:"video_id"`
	SourceID     string  `json:"source_id"`
	Title        string  `json:"title"`
	StartSeconds float64 `json:"start_seconds"`
	Timestamp    string  `json:"timestamp"`
	URL          string  `json:"url,omitempty"`
}

// Credential is a user's embedding-provider API key. There is at most one
// per user; the key is write-only from the API's perspective.
type Credential struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex"`
	Provider  string    `json:"provider"   gorm:"type:varchar(32);not null;default:'openai'"`
	APIKey    string    `json:"-"          gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Credential.
func (Credential) TableName() string { return "credentials" }
