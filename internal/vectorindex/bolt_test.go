package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "vectors.db")
	ctx := context.Background()

	b, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = b.Upsert(ctx,
		entry("A", "v1", "a", 0, 1, 0),
		entry("A", "v1", "b", 1, 0.5, 0.5),
		entry("B", "v2", "c", 0, 1, 0),
	)
	_ = b.Delete(ctx, "b")
	before, _ := b.Query(ctx, []float32{1, 0}, 5, Filter{ChannelID: "A"})
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b2, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()
	if b2.Len() != 2 || b2.Dimension() != 2 {
		t.Fatalf("reloaded len=%d dim=%d", b2.Len(), b2.Dimension())
	}
	after, _ := b2.Query(ctx, []float32{1, 0}, 5, Filter{ChannelID: "A"})
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("results changed across reopen:\n%v\n%v", before, after)
	}
}

func TestBolt_DeleteByVideoAndRebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()
	b, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = b.Upsert(ctx, entry("A", "v1", "a", 0, 1, 0), entry("A", "v2", "b", 0, 0, 1))
	if err := b.DeleteByVideo(ctx, "v1"); err != nil {
		t.Fatalf("delete by video: %v", err)
	}
	if b.CountByVideo("v1") != 0 || b.Len() != 1 {
		t.Fatalf("len=%d", b.Len())
	}

	if err := b.Rebuild(ctx, []Entry{entry("C", "v9", "z", 0, 1, 1)}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	_ = b.Close()

	b2, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()
	if b2.Len() != 1 {
		t.Fatalf("rebuild not persisted, len=%d", b2.Len())
	}
	res, _ := b2.Query(ctx, []float32{1, 1}, 1, Filter{ChannelID: "C"})
	if len(res) != 1 || res[0].ChunkID != "z" {
		t.Fatalf("unexpected: %+v", res)
	}
}

func TestBolt_RejectsBadBatchWithoutWriting(t *testing.T) {
	b, err := OpenBolt(filepath.Join(t.TempDir(), "v.db"), WithDimension(2))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	err = b.Upsert(context.Background(), entry("A", "v", "ok", 0, 1, 0), entry("A", "v", "bad", 0, 1, 0, 0))
	if !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("mirror changed: %d", b.Len())
	}
}
