package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/repo"
)

func TestChannelService_RegisterAndList(t *testing.T) {
	e := newEnv(t)
	svc := NewChannelService(e.db, e.idx)
	ctx := context.Background()

	var ve *ValidationError
	if _, err := svc.Register(ctx, "u1", " ", "UC1"); !errors.As(err, &ve) || ve.Field != "name" {
		t.Fatalf("expected name validation, got %v", err)
	}
	if _, err := svc.Register(ctx, "u1", "Science", ""); !errors.As(err, &ve) || ve.Field != "source_id" {
		t.Fatalf("expected source validation, got %v", err)
	}
	ch, err := svc.Register(ctx, "u1", " Science ", "UC1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if ch.Name != "Science" || ch.UserID != "u1" {
		t.Fatalf("channel = %+v", ch)
	}
	list, err := svc.List(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	if other, _ := svc.List(ctx, "u2"); len(other) != 0 {
		t.Fatalf("u2 sees %d channels", len(other))
	}
}

func TestChannelService_DeletePurgesIndex(t *testing.T) {
	e := newEnv(t)
	svc := NewChannelService(e.db, e.idx)
	ctx := context.Background()
	keep := e.channel(t, "u1", "keep")
	drop := e.channel(t, "u1", "drop")
	vk := e.video(t, keep.ID, "k1", "keep", 0)
	vd := e.video(t, drop.ID, "d1", "drop", 0)
	p := e.principal(t, "u1")
	for _, id := range []string{vk.ID, vd.ID} {
		if _, err := e.ing.Ingest(ctx, p, embedding.Credential{}, id, lecture); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	keptEntries := e.idx.CountByVideo(vk.ID)

	if err := svc.Delete(ctx, e.principal(t, "u2"), drop.ID); !errors.Is(err, ErrChannelForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := svc.Delete(ctx, p, drop.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if e.idx.CountByVideo(vd.ID) != 0 || e.idx.Len() != keptEntries {
		t.Fatalf("index after delete: len=%d kept=%d", e.idx.Len(), keptEntries)
	}
	if _, err := repo.GetVideo(ctx, e.db, vd.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("video survived channel delete: %v", err)
	}
	if n, _ := repo.CountChunksByVideo(ctx, e.db, vd.ID); n != 0 {
		t.Fatalf("chunks survived: %d", n)
	}
}

func TestChannelService_GetCountsVideos(t *testing.T) {
	e := newEnv(t)
	svc := NewChannelService(e.db, e.idx)
	ch := e.channel(t, "u1", "alpha")
	e.video(t, ch.ID, "a", "a", 0)
	v := e.video(t, ch.ID, "b", "b", 0)
	p := e.principal(t, "u1")
	if _, err := e.ing.Ingest(context.Background(), p, embedding.Credential{}, v.ID, lecture); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.Get(context.Background(), p, ch.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sum.Videos[domain.StatePending] != 1 || sum.Videos[domain.StateIndexed] != 1 {
		t.Fatalf("counts = %v", sum.Videos)
	}
}

func TestChannelService_Stats(t *testing.T) {
	e := newEnv(t)
	svc := NewChannelService(e.db, e.idx)
	ctx := context.Background()
	a := e.channel(t, "u1", "alpha")
	e.channel(t, "u1", "beta")
	v := e.video(t, a.ID, "vid1", "t", 0)
	e.video(t, a.ID, "vid2", "t2", 0)
	e.video(t, e.channel(t, "u2", "gamma").ID, "vid3", "t3", 0)

	rep, err := e.ing.Ingest(ctx, e.principal(t, "u1"), embedding.Credential{}, v.ID, lecture)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	st, err := svc.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Channels != 2 || st.Videos != 2 || st.Chunks != int64(rep.Chunks) {
		t.Fatalf("stats = %+v", st)
	}
	if st.VideosByState[domain.StateIndexed] != 1 || st.VideosByState[domain.StatePending] != 1 {
		t.Fatalf("by state = %v", st.VideosByState)
	}
}

func TestVideoService_AddListStatus(t *testing.T) {
	e := newEnv(t)
	svc := &VideoService{DB: e.db}
	ch := e.channel(t, "u1", "alpha")
	p := e.principal(t, "u1")
	ctx := context.Background()

	var ve *ValidationError
	if _, err := svc.Add(ctx, p, ch.ID, NewVideoInput{Title: "t"}); !errors.As(err, &ve) {
		t.Fatalf("expected validation, got %v", err)
	}
	if _, err := svc.Add(ctx, p, ch.ID, NewVideoInput{SourceID: "x", Title: "t", DurationSeconds: -1}); !errors.As(err, &ve) {
		t.Fatalf("expected duration validation, got %v", err)
	}
	v, err := svc.Add(ctx, p, ch.ID, NewVideoInput{SourceID: "x", Title: "Talk", DurationSeconds: 120})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if v.IngestState != domain.StatePending {
		t.Fatalf("state = %s", v.IngestState)
	}
	if _, err := svc.Add(ctx, e.principal(t, "u2"), ch.ID, NewVideoInput{SourceID: "y", Title: "t"}); !errors.Is(err, ErrChannelForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	list, err := svc.List(ctx, p, ch.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}

	if _, err := e.ing.Ingest(ctx, p, embedding.Credential{}, v.ID, lecture); err != nil {
		t.Fatal(err)
	}
	st, err := svc.Status(ctx, p, v.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.IngestState != domain.StateIndexed || st.Chunks == 0 {
		t.Fatalf("status = %+v", st)
	}
	if _, err := svc.Status(ctx, p, "missing"); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Status(ctx, e.principal(t, "u2"), v.ID); !errors.Is(err, ErrChannelForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
