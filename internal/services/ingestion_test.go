package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/transcript-chat/internal/chunker"
	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/repo"
	"github.com/tbourn/transcript-chat/internal/vectorindex"
)

var lecture = segs(
	"Welcome back to the channel.",
	"Today we talk about pricing for the pro plan.",
	"The pro plan costs twelve dollars a month.",
	"Annual billing gives two months free.",
	"Thanks for watching and see you next time.",
)

func TestIngest_IndexesVideo(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "Pricing explained", 0)
	p := e.principal(t, "u1")

	rep, err := e.ing.Ingest(context.Background(), p, embedding.Credential{UserID: "u1"}, v.ID, lecture)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rep.State != domain.StateIndexed || rep.Chunks == 0 || rep.Dimension != 256 {
		t.Fatalf("unexpected report %+v", rep)
	}
	got := e.videoState(t, v.ID)
	if got.IngestState != domain.StateIndexed || got.IngestedAt == nil {
		t.Fatalf("video not indexed: %+v", got)
	}
	n, _ := repo.CountChunksByVideo(context.Background(), e.db, v.ID)
	if int(n) != rep.Chunks || e.idx.CountByVideo(v.ID) != rep.Chunks {
		t.Fatalf("rows=%d index=%d report=%d", n, e.idx.CountByVideo(v.ID), rep.Chunks)
	}
}

func TestIngest_ValidationHappensBeforeStateChange(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")

	bad := []chunker.Segment{{Start: 5, End: 3, Text: "backwards"}}
	_, err := e.ing.Ingest(context.Background(), p, embedding.Credential{}, v.ID, bad)
	var ve *ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, chunker.ErrInvalidTiming) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := e.videoState(t, v.ID); got.IngestState != domain.StatePending {
		t.Fatalf("state changed to %s", got.IngestState)
	}
}

func TestIngest_SegmentsPastDurationRejected(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 12)
	p := e.principal(t, "u1")

	_, err := e.ing.Ingest(context.Background(), p, embedding.Credential{}, v.ID, lecture)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := e.videoState(t, v.ID); got.IngestState != domain.StatePending {
		t.Fatalf("state changed to %s", got.IngestState)
	}
}

func TestIngest_ClampsChunkEndsToDuration(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 7)
	p := e.principal(t, "u1")

	if _, err := e.ing.Ingest(context.Background(), p, embedding.Credential{}, v.ID, segs("one two three", "four five six")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	rows, err := repo.ListChunksByVideo(context.Background(), e.db, v.ID)
	if err != nil || len(rows) == 0 {
		t.Fatalf("list chunks: %v (%d rows)", err, len(rows))
	}
	for _, r := range rows {
		if r.EndSeconds > 7 {
			t.Fatalf("chunk %d ends at %.1f, past the 7s duration", r.Ordinal, r.EndSeconds)
		}
	}
}

func TestIngest_OwnershipAndStateRules(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	owner := e.principal(t, "u1")
	stranger := e.principal(t, "u2")
	ctx := context.Background()

	if _, err := e.ing.Ingest(ctx, stranger, embedding.Credential{}, v.ID, lecture); !errors.Is(err, ErrChannelForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := e.ing.Ingest(ctx, owner, embedding.Credential{}, "missing", lecture); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.ing.Ingest(ctx, owner, embedding.Credential{}, v.ID, lecture); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := e.ing.Ingest(ctx, owner, embedding.Credential{}, v.ID, lecture); !errors.Is(err, ErrAlreadyIndexed) {
		t.Fatalf("expected already indexed, got %v", err)
	}
	if _, err := e.ing.Reingest(ctx, owner, embedding.Credential{}, v.ID, lecture); err != nil {
		t.Fatalf("reingest: %v", err)
	}
}

func TestIngest_EmbeddingOutageLeavesVideoFailed(t *testing.T) {
	e := newEnv(t)
	outage := &embedding.ProviderError{Kind: embedding.KindUnavailable, Status: 503, Err: errors.New("upstream down")}
	e.ing.Embedder = failingEmbedder{Hashing: embedding.NewHashing(256), err: outage}

	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")

	rep, err := e.ing.Ingest(context.Background(), p, embedding.Credential{}, v.ID, lecture)
	if !errors.Is(err, outage) || !IsRetryable(err) {
		t.Fatalf("expected provider outage, got %v", err)
	}
	if rep == nil || rep.State != domain.StateFailed {
		t.Fatalf("report = %+v", rep)
	}
	got := e.videoState(t, v.ID)
	if got.IngestState != domain.StateFailed || got.IngestError == "" {
		t.Fatalf("video = %+v", got)
	}
	if e.idx.Len() != 0 {
		t.Fatalf("index has %d entries", e.idx.Len())
	}
	if n, _ := repo.CountChunksByVideo(context.Background(), e.db, v.ID); n != 0 {
		t.Fatalf("chunks left behind: %d", n)
	}

	// A failed video may be ingested again once the provider recovers.
	e.ing.Embedder = e.emb
	if _, err := e.ing.Ingest(context.Background(), p, embedding.Credential{}, v.ID, lecture); err != nil {
		t.Fatalf("retry ingest: %v", err)
	}
}

func TestIngest_FailedReingestRemovesPreviousChunks(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")
	ctx := context.Background()

	if _, err := e.ing.Ingest(ctx, p, embedding.Credential{}, v.ID, lecture); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	e.ing.Embedder = failingEmbedder{Hashing: embedding.NewHashing(256), err: errors.New("boom")}
	if _, err := e.ing.Reingest(ctx, p, embedding.Credential{}, v.ID, lecture); err == nil {
		t.Fatal("expected failure")
	}
	if got := e.videoState(t, v.ID); got.IngestState != domain.StateFailed {
		t.Fatalf("state = %s", got.IngestState)
	}
	if e.idx.CountByVideo(v.ID) != 0 {
		t.Fatal("stale index entries remain")
	}
}

func TestIngest_CancellationMarksFailed(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{}, 1)
	e.ing.Embedder = blockingEmbedder{Hashing: embedding.NewHashing(256), started: started}

	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := e.ing.Ingest(ctx, p, embedding.Credential{}, v.ID, lecture)
		errc <- err
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("embedding never started")
	}
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	got := e.videoState(t, v.ID)
	if got.IngestState != domain.StateFailed {
		t.Fatalf("state = %s", got.IngestState)
	}
	if e.idx.Len() != 0 {
		t.Fatal("index not empty")
	}
}

func TestIngest_DeterministicWithoutDuplicates(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")
	ctx := context.Background()

	texts := func() []string {
		rows, err := repo.ListChunksByVideo(ctx, e.db, v.ID)
		if err != nil {
			t.Fatalf("list chunks: %v", err)
		}
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.Text
		}
		return out
	}

	if _, err := e.ing.Ingest(ctx, p, embedding.Credential{}, v.ID, lecture); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	first := texts()
	for i := 0; i < 2; i++ {
		if _, err := e.ing.Reingest(ctx, p, embedding.Credential{}, v.ID, lecture); err != nil {
			t.Fatalf("reingest: %v", err)
		}
	}
	again := texts()
	if len(first) != len(again) {
		t.Fatalf("chunk count changed: %d -> %d", len(first), len(again))
	}
	for i := range first {
		if first[i] != again[i] {
			t.Fatalf("chunk %d differs: %q vs %q", i, first[i], again[i])
		}
	}
	if e.idx.Len() != len(first) {
		t.Fatalf("index has %d entries for %d chunks", e.idx.Len(), len(first))
	}
}

func TestIngest_ConcurrentRunsOnSameVideoSerialize(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.ing.Reingest(context.Background(), p, embedding.Credential{}, v.ID, lecture)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	n, _ := repo.CountChunksByVideo(context.Background(), e.db, v.ID)
	if int(n) != e.idx.CountByVideo(v.ID) {
		t.Fatalf("rows=%d index=%d", n, e.idx.CountByVideo(v.ID))
	}
	if e.ing.locks.size() != 0 {
		t.Fatalf("lock entries leaked: %d", e.ing.locks.size())
	}
}

// A second process sharing the database must not purge chunks another
// process already owns when its view of the video is stale.
func TestIngest_StaleRunDoesNotPurgeAnotherProcessRows(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")
	ctx := context.Background()

	other := vectorindex.NewMemory()
	inB := NewIngestor(e.db, e.emb, other, chunker.New(chunker.WithTargetChars(80), chunker.WithOverlap(0)))
	stale := *v // still pending in this copy

	rep, err := e.ing.Ingest(ctx, p, embedding.Credential{}, v.ID, lecture)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	run := &ingestRun{in: inB, video: &stale, state: domain.StatePending}
	if _, err := run.execute(ctx, embedding.Credential{}, lecture); !errors.Is(err, ErrIngestInProgress) {
		t.Fatalf("want ErrIngestInProgress, got %v", err)
	}
	n, _ := repo.CountChunksByVideo(ctx, e.db, v.ID)
	if int(n) != rep.Chunks {
		t.Fatalf("rows=%d, want %d", n, rep.Chunks)
	}
	if e.idx.CountByVideo(v.ID) != rep.Chunks {
		t.Fatalf("index=%d, want %d", e.idx.CountByVideo(v.ID), rep.Chunks)
	}
	if got := e.videoState(t, v.ID); got.IngestState != domain.StateIndexed {
		t.Fatalf("state=%s, want indexed", got.IngestState)
	}
}

func TestIngestor_StartAndWait(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")

	reqCtx, cancel := context.WithCancel(context.Background())
	if err := e.ing.Start(reqCtx, p, embedding.Credential{}, v.ID, lecture, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel() // the request finishing must not abort the run

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := e.ing.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := e.videoState(t, v.ID); got.IngestState != domain.StateIndexed {
		t.Fatalf("state = %s", got.IngestState)
	}
	if err := e.ing.Start(context.Background(), p, embedding.Credential{}, v.ID, lecture, false); !errors.Is(err, ErrAlreadyIndexed) {
		t.Fatalf("expected already indexed, got %v", err)
	}
}

func TestIngestor_WaitCancelsOnDeadline(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{}, 1)
	e.ing.Embedder = blockingEmbedder{Hashing: embedding.NewHashing(256), started: started}
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")

	if err := e.ing.Start(context.Background(), p, embedding.Credential{}, v.ID, lecture, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.ing.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait = %v", err)
	}
	if got := e.videoState(t, v.ID); got.IngestState != domain.StateFailed {
		t.Fatalf("state = %s", got.IngestState)
	}
}

func TestRebuildIndex_SkipsCorruptRows(t *testing.T) {
	e := newEnv(t)
	ch := e.channel(t, "u1", "alpha")
	v := e.video(t, ch.ID, "vid1", "t", 0)
	p := e.principal(t, "u1")
	ctx := context.Background()

	rep, err := e.ing.Ingest(ctx, p, embedding.Credential{}, v.ID, lecture)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	rows, _ := repo.ListChunksByVideo(ctx, e.db, v.ID)
	if err := e.db.Model(&domain.TranscriptChunk{}).Where("id = ?", rows[0].ID).Update("embedding", []byte{1, 2, 3}).Error; err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	fresh := vectorindex.NewMemory()
	e.ing.Index = fresh
	n, err := e.ing.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != rep.Chunks-1 || fresh.Len() != n {
		t.Fatalf("rebuilt %d entries (index %d), want %d", n, fresh.Len(), rep.Chunks-1)
	}
}

func TestKeyedMutex_HonoursContext(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	other, err := k.Lock(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	other()
	unlock()
	unlock()
	if k.size() != 0 {
		t.Fatalf("size = %d", k.size())
	}
}
