package services

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/repo"
	"github.com/tbourn/transcript-chat/internal/vectorindex"
)

// Retrieval defaults.
const (
	DefaultTopK             = 5
	DefaultMinScore         = 0.25
	DefaultMaxQuestionRunes = 2000
)

// GroundedChunk is a retrieved chunk verified against the relational store.
type GroundedChunk struct {
	ChunkID       string  `json:"chunk_id"`
	VideoID       string  `json:"video_id"`
	VideoSourceID string  `json:"video_source_id"`
	VideoTitle    string  `json:"video_title"`
	Ordinal       int     `json:"ordinal"`
	StartSeconds  float64 `json:"start_seconds"`
	EndSeconds    float64 `json:"end_seconds"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
}

// Retriever embeds a question, queries the index within one channel and
// returns the verified chunks that clear the score threshold.
type Retriever struct {
	DB       *gorm.DB
	Embedder embedding.Embedder
	Index    vectorindex.Index

	MaxQuestionRunes int
	Log              zerolog.Logger
}

// NewRetriever wires a Retriever with default limits.
func NewRetriever(db *gorm.DB, emb embedding.Embedder, idx vectorindex.Index) *Retriever {
	return &Retriever{
		DB:               db,
		Embedder:         emb,
		Index:            idx,
		MaxQuestionRunes: DefaultMaxQuestionRunes,
		Log:              log.Logger,
	}
}

// Retrieve returns at most k chunks of channelID scoring at least minScore,
// ordered by score descending and ordinal ascending. No match is an empty,
// non-nil slice and a nil error.
//
// Index candidates that the store does not confirm (missing chunk, video not
// indexed, different channel) are dropped and reported as ConsistencyError
// in the log; the call still succeeds with the remaining results.
func (r *Retriever) Retrieve(ctx context.Context, cred embedding.Credential, question, channelID string, k int, minScore float64) ([]GroundedChunk, error) {
	tr := otel.Tracer("services/Retriever")
	ctx, span := tr.Start(ctx, "Retrieve",
		trace.WithAttributes(
			attribute.String("channel.id", channelID),
			attribute.Int("k", k),
			attribute.Float64("min_score", minScore),
		),
	)
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, invalid("question", ErrEmptyQuestion)
	}
	if r.MaxQuestionRunes > 0 && utf8.RuneCountInString(question) > r.MaxQuestionRunes {
		return nil, invalid("question", ErrQuestionTooLong)
	}
	if channelID == "" {
		return nil, invalid("channel_id", ErrEmptyField)
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vec, err := r.Embedder.Embed(ctx, cred, question)
	if err != nil {
		return nil, err
	}

	cands, err := r.Index.Query(ctx, vec, max(k*4, k), vectorindex.Filter{ChannelID: channelID})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("candidates", len(cands)))
	if len(cands) == 0 {
		return []GroundedChunk{}, nil
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ChunkID
	}
	refs, err := repo.QueryableChunks(ctx, r.DB, channelID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]repo.ChunkRef, len(refs))
	for _, ref := range refs {
		byID[ref.ID] = ref
	}

	states, err := r.missingVideoStates(ctx, channelID, cands, byID)
	if err != nil {
		return nil, err
	}

	out := make([]GroundedChunk, 0, k)
	for _, c := range cands {
		ref, ok := byID[c.ChunkID]
		switch {
		case !ok:
			// A video being (re)ingested has index entries ahead of or behind
			// its rows; those hits are expected and simply not served yet.
			if st, known := states[c.VideoID]; known && st != domain.StateIndexed {
				r.Log.Debug().Str("chunk_id", c.ChunkID).Str("video_id", c.VideoID).Str("state", string(st)).Msg("skipping hit from video not indexed")
				continue
			}
			r.inconsistent(&ConsistencyError{ChunkID: c.ChunkID, VideoID: c.VideoID, ChannelID: channelID, Reason: "chunk missing from store"})
			continue
		case ref.VideoID != c.VideoID:
			r.inconsistent(&ConsistencyError{ChunkID: c.ChunkID, VideoID: c.VideoID, ChannelID: channelID, Reason: "video mismatch"})
			continue
		case strings.TrimSpace(ref.Text) == "":
			r.inconsistent(&ConsistencyError{ChunkID: c.ChunkID, VideoID: c.VideoID, ChannelID: channelID, Reason: "chunk has no text"})
			continue
		}
		if c.Score < minScore {
			continue
		}
		out = append(out, GroundedChunk{
			ChunkID:       ref.ID,
			VideoID:       ref.VideoID,
			VideoSourceID: ref.VideoSourceID,
			VideoTitle:    ref.VideoTitle,
			Ordinal:       ref.Ordinal,
			StartSeconds:  ref.StartSeconds,
			EndSeconds:    ref.EndSeconds,
			Text:          ref.Text,
			Score:         c.Score,
		})
	}

	sortGrounded(out)
	if len(out) > k {
		out = out[:k]
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// missingVideoStates loads the ingest state of every video with a candidate
// the store did not return.
func (r *Retriever) missingVideoStates(ctx context.Context, channelID string, cands []vectorindex.Result, found map[string]repo.ChunkRef) (map[string]domain.IngestState, error) {
	seen := map[string]bool{}
	var ids []string
	for _, c := range cands {
		if _, ok := found[c.ChunkID]; ok || seen[c.VideoID] {
			continue
		}
		seen[c.VideoID] = true
		ids = append(ids, c.VideoID)
	}
	return repo.VideoStates(ctx, r.DB, channelID, ids)
}

func (r *Retriever) inconsistent(e *ConsistencyError) {
	consistencyErrors.Inc()
	r.Log.Warn().Err(e).Str("chunk_id", e.ChunkID).Str("channel_id", e.ChannelID).Msg("retrieval consistency error")
}

func sortGrounded(cs []GroundedChunk) {
	sort.SliceStable(cs, func(a, b int) bool { return groundedLess(cs[a], cs[b]) })
}

func groundedLess(a, b GroundedChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Ordinal != b.Ordinal {
		return a.Ordinal < b.Ordinal
	}
	if a.VideoID != b.VideoID {
		return a.VideoID < b.VideoID
	}
	return a.ChunkID < b.ChunkID
}
