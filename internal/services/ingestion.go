package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/transcript-chat/internal/chunker"
	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/repo"
	"github.com/tbourn/transcript-chat/internal/vectorindex"
)

// Ingestion defaults.
const (
	DefaultBatchSize   = 64
	DefaultConcurrency = 4
	rebuildScanSize    = 500
)

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	VideoID   string             `json:"video_id"`
	State     domain.IngestState `json:"state"`
	Chunks    int                `json:"chunks"`
	Dimension int                `json:"dimension"`
	Duration  time.Duration      `json:"duration_ns"`
	Error     string             `json:"error,omitempty"`
}

// Ingestor runs the transcript pipeline: validate, chunk, embed, commit.
// Runs for different videos proceed in parallel; runs for the same video
// are serialized.
type Ingestor struct {
	DB       *gorm.DB
	Embedder embedding.Embedder
	Index    vectorindex.Index
	Chunker  *chunker.Chunker

	BatchSize   int
	Concurrency int
	Log         zerolog.Logger

	locks *keyedMutex
	wg    sync.WaitGroup
	base  context.Context
	stop  context.CancelFunc
}

// NewIngestor wires an Ingestor with default batching.
func NewIngestor(db *gorm.DB, emb embedding.Embedder, idx vectorindex.Index, ch *chunker.Chunker) *Ingestor {
	if ch == nil {
		ch = chunker.New()
	}
	base, stop := context.WithCancel(context.Background())
	return &Ingestor{
		DB:          db,
		Embedder:    emb,
		Index:       idx,
		Chunker:     ch,
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
		Log:         log.Logger,
		locks:       newKeyedMutex(),
		base:        base,
		stop:        stop,
	}
}

// Ingest processes a video that is pending or failed. An indexed video
// yields ErrAlreadyIndexed.
func (in *Ingestor) Ingest(ctx context.Context, p Principal, cred embedding.Credential, videoID string, segs []chunker.Segment) (*IngestReport, error) {
	return in.run(ctx, p, cred, videoID, segs, false)
}

// Reingest replaces the chunk set of a video in any settled state.
func (in *Ingestor) Reingest(ctx context.Context, p Principal, cred embedding.Credential, videoID string, segs []chunker.Segment) (*IngestReport, error) {
	return in.run(ctx, p, cred, videoID, segs, true)
}

// Start checks the request synchronously and then runs the pipeline in a
// tracked goroutine. The run outlives ctx but is cancelled by Wait when
// shutdown runs out of time.
func (in *Ingestor) Start(ctx context.Context, p Principal, cred embedding.Credential, videoID string, segs []chunker.Segment, reingest bool) error {
	if err := validateSegments(segs); err != nil {
		return err
	}
	v, err := in.ownedVideo(ctx, p, videoID)
	if err != nil {
		return err
	}
	if err := checkDuration(segs, v.DurationSeconds); err != nil {
		return err
	}
	if err := checkStartState(v.IngestState, reingest); err != nil {
		return err
	}

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		unregister := context.AfterFunc(in.base, cancel)
		defer unregister()

		rep, err := in.run(runCtx, p, cred, videoID, segs, reingest)
		if err != nil {
			in.Log.Warn().Err(err).Str("video_id", videoID).Msg("background ingestion failed")
			return
		}
		in.Log.Info().Str("video_id", videoID).Int("chunks", rep.Chunks).Dur("took", rep.Duration).Msg("background ingestion finished")
	}()
	return nil
}

// Wait blocks until every run started with Start has finished. When ctx
// expires first, in-flight runs are cancelled (their videos end up failed)
// and Wait returns once they have cleaned up.
func (in *Ingestor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		in.stop()
		<-done
		return ctx.Err()
	}
}

func (in *Ingestor) run(ctx context.Context, p Principal, cred embedding.Credential, videoID string, segs []chunker.Segment, reingest bool) (*IngestReport, error) {
	tr := otel.Tracer("services/Ingestor")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("video.id", videoID),
			attribute.Int("segments", len(segs)),
			attribute.Bool("reingest", reingest),
		),
	)
	defer span.End()

	if err := validateSegments(segs); err != nil {
		return nil, err
	}

	unlock, err := in.locks.Lock(ctx, videoID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	v, err := in.ownedVideo(ctx, p, videoID)
	if err != nil {
		return nil, err
	}
	if err := checkDuration(segs, v.DurationSeconds); err != nil {
		return nil, err
	}
	if err := checkStartState(v.IngestState, reingest); err != nil {
		return nil, err
	}

	started := time.Now()
	r := &ingestRun{in: in, video: v, state: v.IngestState}
	rep, err := r.execute(ctx, cred, segs)
	rep.Duration = time.Since(started)

	ingestDuration.Observe(rep.Duration.Seconds())
	ingestions.WithLabelValues(string(rep.State)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		in.Log.Error().Err(err).Str("video_id", videoID).Str("state", string(rep.State)).Msg("ingestion failed")
		return rep, err
	}
	ingestChunks.Add(float64(rep.Chunks))
	span.SetAttributes(attribute.Int("chunks", rep.Chunks), attribute.Int("dimension", rep.Dimension))
	in.Log.Info().Str("video_id", videoID).Int("chunks", rep.Chunks).Dur("took", rep.Duration).Msg("video indexed")
	return rep, nil
}

// ownedVideo loads videoID and checks the caller owns its channel.
func (in *Ingestor) ownedVideo(ctx context.Context, p Principal, videoID string) (*domain.Video, error) {
	if videoID == "" {
		return nil, invalid("video_id", ErrEmptyField)
	}
	v, err := repo.GetVideo(ctx, in.DB, videoID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	if _, err := authorizeChannel(ctx, in.DB, p, v.ChannelID); err != nil {
		return nil, err
	}
	return v, nil
}

// ingestRun carries the mutable state of one pipeline execution.
type ingestRun struct {
	in       *Ingestor
	video    *domain.Video
	state    domain.IngestState
	inserted bool
}

func (r *ingestRun) transition(ctx context.Context, to domain.IngestState) error {
	if err := repo.TransitionVideoState(ctx, r.in.DB, r.video.ID, r.state, to, ""); err != nil {
		if errors.Is(err, repo.ErrStateConflict) {
			return ErrIngestInProgress
		}
		return err
	}
	r.state = to
	return nil
}

func (r *ingestRun) execute(ctx context.Context, cred embedding.Credential, segs []chunker.Segment) (*IngestReport, error) {
	rep := &IngestReport{VideoID: r.video.ID, State: r.state}
	db, idx := r.in.DB, r.in.Index

	// Claim the video before touching its chunks. Both steps are
	// compare-and-set on the stored state, so a run holding a stale snapshot
	// loses here and leaves the winner's rows alone.
	if r.state != domain.StatePending {
		if err := r.transition(ctx, domain.StatePending); err != nil {
			rep.Error = err.Error()
			return rep, err
		}
	}
	if err := r.transition(ctx, domain.StateChunking); err != nil {
		rep.State = r.state
		rep.Error = err.Error()
		return rep, err
	}
	rep.State = r.state

	fail := func(cause error) (*IngestReport, error) {
		r.compensate(ctx, cause)
		rep.State = r.state
		rep.Chunks, rep.Dimension = 0, 0
		rep.Error = cause.Error()
		return rep, cause
	}

	// Drop the previous chunk set: index first, then the rows it projects.
	if err := idx.DeleteByVideo(ctx, r.video.ID); err != nil {
		return fail(fmt.Errorf("purge index: %w", err))
	}
	if _, err := repo.DeleteChunksByVideo(ctx, db, r.video.ID); err != nil {
		return fail(fmt.Errorf("purge chunks: %w", err))
	}

	chunks, err := r.in.Chunker.Chunk(segs)
	if err != nil {
		return fail(err)
	}
	chunks = clampChunks(chunks, r.video.DurationSeconds)

	if err := r.transition(ctx, domain.StateEmbedding); err != nil {
		return fail(err)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := r.in.embedAll(ctx, cred, texts)
	if err != nil {
		return fail(err)
	}
	dim := len(vecs[0])

	rows := make([]domain.TranscriptChunk, len(chunks))
	entries := make([]vectorindex.Entry, len(chunks))
	model := r.in.Embedder.Model()
	for i, c := range chunks {
		id := uuid.NewString()
		rows[i] = domain.TranscriptChunk{
			ID:             id,
			VideoID:        r.video.ID,
			Ordinal:        c.Ordinal,
			StartSeconds:   c.Start,
			EndSeconds:     c.End,
			Text:           c.Text,
			Embedding:      domain.EncodeEmbedding(vecs[i]),
			Dimension:      dim,
			EmbeddingModel: model,
		}
		entries[i] = vectorindex.Entry{
			ChunkID:   id,
			VideoID:   r.video.ID,
			ChannelID: r.video.ChannelID,
			Ordinal:   c.Ordinal,
			Vector:    vecs[i],
		}
	}

	// Rows land while the video is still embedding, so retrieval ignores
	// them until the final transition.
	if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return repo.InsertChunks(ctx, tx, rows)
	}); err != nil {
		return fail(fmt.Errorf("insert chunks: %w", err))
	}
	r.inserted = true

	if err := idx.Upsert(ctx, entries...); err != nil {
		return fail(fmt.Errorf("index upsert: %w", err))
	}
	if err := r.transition(ctx, domain.StateIndexed); err != nil {
		return fail(err)
	}

	rep.State = r.state
	rep.Chunks = len(rows)
	rep.Dimension = dim
	return rep, nil
}

// compensate removes whatever the run wrote and marks the video failed. It
// runs detached from ctx cancellation so an aborted run still cleans up.
func (r *ingestRun) compensate(parent context.Context, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 30*time.Second)
	defer cancel()
	lg := r.in.Log.With().Str("video_id", r.video.ID).Logger()

	if err := r.in.Index.DeleteByVideo(ctx, r.video.ID); err != nil {
		lg.Error().Err(err).Msg("compensation: index delete failed")
	}
	// The run owns the video from chunking on, so its rows are ours to drop.
	if r.inserted || r.state == domain.StateChunking || r.state == domain.StateEmbedding {
		if _, err := repo.DeleteChunksByVideo(ctx, r.in.DB, r.video.ID); err != nil {
			lg.Error().Err(err).Msg("compensation: chunk delete failed")
		}
	}
	if r.state == domain.StateFailed || r.state == domain.StateIndexed {
		return
	}
	reason := cause.Error()
	if isCtxErr(cause) {
		reason = "ingestion interrupted: " + reason
	}
	if err := repo.TransitionVideoState(ctx, r.in.DB, r.video.ID, r.state, domain.StateFailed, reason); err != nil {
		lg.Error().Err(err).Msg("compensation: could not mark video failed")
		return
	}
	r.state = domain.StateFailed
}

// embedAll embeds texts in batches with bounded concurrency. Results are
// slotted by position and must share one dimension.
func (in *Ingestor) embedAll(ctx context.Context, cred embedding.Credential, texts []string) ([][]float32, error) {
	bs := in.BatchSize
	if bs <= 0 {
		bs = DefaultBatchSize
	}
	conc := in.Concurrency
	if conc <= 0 {
		conc = DefaultConcurrency
	}

	vecs := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for start := 0; start < len(texts); start += bs {
		end := min(start+bs, len(texts))
		g.Go(func() error {
			out, err := in.Embedder.EmbedBatch(gctx, cred, texts[start:end])
			if err != nil {
				return err
			}
			if len(out) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(out), end-start)
			}
			copy(vecs[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(vecs) == 0 {
		return nil, errors.New("no chunks to embed")
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("chunk %d: %w", i, vectorindex.ErrDimension)
		}
	}
	return vecs, nil
}

// RebuildIndex replaces the index contents with every embedded chunk of an
// indexed video. Rows whose stored vector is unusable are skipped and
// reported. It returns the number of entries loaded.
func (in *Ingestor) RebuildIndex(ctx context.Context) (int, error) {
	tr := otel.Tracer("services/Ingestor")
	ctx, span := tr.Start(ctx, "RebuildIndex")
	defer span.End()

	want := in.Embedder.Dimension()
	var entries []vectorindex.Entry
	err := repo.ScanIndexableChunks(ctx, in.DB, "", rebuildScanSize, func(batch []repo.ChunkRef) error {
		for i := range batch {
			ref := &batch[i]
			vec, err := ref.TranscriptChunk.Vector()
			if err == nil && want > 0 && len(vec) != want {
				err = fmt.Errorf("dimension %d, embedder produces %d", len(vec), want)
			}
			if err != nil {
				consistencyErrors.Inc()
				in.Log.Warn().Err(&ConsistencyError{ChunkID: ref.ID, VideoID: ref.VideoID, ChannelID: ref.ChannelID, Reason: err.Error()}).
					Msg("skipping chunk during index rebuild")
				continue
			}
			entries = append(entries, vectorindex.Entry{
				ChunkID:   ref.ID,
				VideoID:   ref.VideoID,
				ChannelID: ref.ChannelID,
				Ordinal:   ref.Ordinal,
				Vector:    vec,
			})
		}
		return ctx.Err()
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if err := in.Index.Rebuild(ctx, entries); err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))
	in.Log.Info().Int("entries", len(entries)).Msg("vector index rebuilt")
	return len(entries), nil
}

// validateSegments wraps chunker validation failures as ValidationError.
func validateSegments(segs []chunker.Segment) error {
	if err := chunker.Validate(segs); err != nil {
		return &ValidationError{Field: "segments", Reason: err.Error(), Err: err}
	}
	return nil
}

// checkDuration rejects segments starting at or after a known duration.
func checkDuration(segs []chunker.Segment, duration float64) error {
	if duration <= 0 {
		return nil
	}
	for i, s := range segs {
		if s.Start >= duration && strings.TrimSpace(s.Text) != "" {
			err := &chunker.SegmentError{Index: i, Err: chunker.ErrInvalidTiming}
			return &ValidationError{
				Field:  "segments",
				Reason: fmt.Sprintf("segment %d starts at %.2fs, after the video ends (%.2fs)", i, s.Start, duration),
				Err:    err,
			}
		}
	}
	return nil
}

// checkStartState decides whether a run may begin from state s.
func checkStartState(s domain.IngestState, reingest bool) error {
	switch s {
	case domain.StateChunking, domain.StateEmbedding:
		return ErrIngestInProgress
	case domain.StateIndexed:
		if !reingest {
			return ErrAlreadyIndexed
		}
	}
	return nil
}

// clampChunks trims chunk ends to a known video duration.
func clampChunks(cs []chunker.Chunk, duration float64) []chunker.Chunk {
	if duration <= 0 {
		return cs
	}
	for i := range cs {
		if cs[i].End > duration {
			cs[i].End = duration
		}
	}
	return cs
}

// ----------------------------------------------------------------------------
// Keyed mutex

// keyedMutex is a set of per-key locks whose Lock honours ctx. Entries are
// reference counted and dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires key and returns its release func.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				k.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// size reports the number of live keys.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
