package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

func entry(ch, vid, id string, ord int, v ...float32) Entry {
	return Entry{ChunkID: id, VideoID: vid, ChannelID: ch, Ordinal: ord, Vector: v}
}

func TestQuery_RequiresChannel(t *testing.T) {
	m := NewMemory()
	if _, err := m.Query(context.Background(), []float32{1, 0}, 3, Filter{}); !errors.Is(err, ErrUnscoped) {
		t.Fatalf("expected ErrUnscoped, got %v", err)
	}
}

// A closer vector in another channel must never leak into the results.
func TestQuery_TenantIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Upsert(ctx,
		entry("A", "va", "a1", 0, 0.6, 0.8),
		entry("B", "vb", "b1", 0, 1, 0), // identical to the query
	)
	res, err := m.Query(ctx, []float32{1, 0}, 10, Filter{ChannelID: "A"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res) != 1 || res[0].ChunkID != "a1" || res[0].ChannelID != "A" {
		t.Fatalf("unexpected results: %+v", res)
	}
	if res, _ := m.Query(ctx, []float32{1, 0}, 10, Filter{ChannelID: "nobody"}); res == nil || len(res) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", res)
	}
}

func TestQuery_OrderingAndTieBreaks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Upsert(ctx,
		entry("A", "v2", "c", 1, 1, 0),
		entry("A", "v1", "b", 1, 1, 0),
		entry("A", "v1", "a", 3, 1, 0),
		entry("A", "v1", "z", 0, 1, 0),
		entry("A", "v1", "low", 0, 0, 1),
	)
	res, _ := m.Query(ctx, []float32{2, 0}, 10, Filter{ChannelID: "A"})
	var got []string
	for _, r := range res {
		got = append(got, r.ChunkID)
	}
	want := []string{"z", "b", "c", "a", "low"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if res[0].Score < 0.999999 || res[4].Score != 0 {
		t.Fatalf("unexpected scores: %+v", res)
	}

	top2, _ := m.Query(ctx, []float32{2, 0}, 2, Filter{ChannelID: "A"})
	if len(top2) != 2 || top2[0].ChunkID != "z" {
		t.Fatalf("top-2 = %+v", top2)
	}
	byVideo, _ := m.Query(ctx, []float32{2, 0}, 10, Filter{ChannelID: "A", VideoID: "v2"})
	if len(byVideo) != 1 || byVideo[0].ChunkID != "c" {
		t.Fatalf("video filter = %+v", byVideo)
	}
}

func TestUpsert_Validation(t *testing.T) {
	m := NewMemory(WithDimension(2))
	ctx := context.Background()
	if err := m.Upsert(ctx, entry("A", "v", "x", 0, 1, 2, 3)); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
	if err := m.Upsert(ctx, entry("", "v", "x", 0, 1, 2)); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
	if err := m.Upsert(ctx, entry("A", "v", "x", 0, 0, 0)); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("zero vector should be rejected, got %v", err)
	}
	// A bad entry rejects the whole batch.
	if err := m.Upsert(ctx, entry("A", "v", "ok", 0, 1, 0), entry("A", "v", "bad", 1, 1)); err == nil {
		t.Fatal("expected batch rejection")
	}
	if m.Len() != 0 {
		t.Fatalf("partial batch applied: %d", m.Len())
	}
	if _, err := m.Query(ctx, []float32{1, 2, 3}, 1, Filter{ChannelID: "A"}); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ErrDimension on query, got %v", err)
	}
}

func TestUpsert_ReplacesAndMovesPartitions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Upsert(ctx, entry("A", "v", "x", 0, 1, 0))
	_ = m.Upsert(ctx, entry("B", "v", "x", 0, 1, 0))
	if m.Len() != 1 {
		t.Fatalf("len = %d", m.Len())
	}
	if res, _ := m.Query(ctx, []float32{1, 0}, 5, Filter{ChannelID: "A"}); len(res) != 0 {
		t.Fatalf("stale partition entry: %+v", res)
	}
}

func TestDeleteAndDeleteByVideo(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Upsert(ctx,
		entry("A", "v1", "a", 0, 1, 0),
		entry("A", "v1", "b", 1, 1, 0),
		entry("A", "v2", "c", 0, 1, 0),
	)
	_ = m.DeleteByVideo(ctx, "v1")
	if m.Len() != 1 || m.CountByVideo("v1") != 0 {
		t.Fatalf("after DeleteByVideo len=%d", m.Len())
	}
	_ = m.Delete(ctx, "c", "missing")
	if m.Len() != 0 {
		t.Fatalf("after Delete len=%d", m.Len())
	}
}

func randomEntries(rng *rand.Rand, n, dim int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			// Coarse values create plenty of exact score ties.
			v[j] = float32(rng.Intn(3))
		}
		v[rng.Intn(dim)] = 1
		out[i] = Entry{
			ChunkID:   fmt.Sprintf("c%03d", i),
			VideoID:   fmt.Sprintf("v%d", rng.Intn(4)),
			ChannelID: []string{"A", "B"}[rng.Intn(2)],
			Ordinal:   rng.Intn(10),
			Vector:    v,
		}
	}
	return out
}

// Rebuilding from the same entries, in any order, yields identical results.
func TestRebuild_IsPureFunctionOfEntries(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := randomEntries(rng, 200, 4)
	ctx := context.Background()

	a := NewMemory()
	for _, e := range entries {
		_ = a.Upsert(ctx, e)
	}
	shuffled := append([]Entry(nil), entries...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	b := NewMemory()
	if err := b.Rebuild(ctx, shuffled); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	for q := 0; q < 50; q++ {
		vec := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		for _, ch := range []string{"A", "B"} {
			ra, _ := a.Query(ctx, vec, 7, Filter{ChannelID: ch})
			rb, _ := b.Query(ctx, vec, 7, Filter{ChannelID: ch})
			if fmt.Sprint(ra) != fmt.Sprint(rb) {
				t.Fatalf("query %d channel %s differs:\n%v\n%v", q, ch, ra, rb)
			}
		}
	}
}

func TestMemory_ConcurrentReadersAndWriters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_ = m.Upsert(ctx, entry("A", fmt.Sprintf("v%d", w), id, i, 1, float32(i)))
				if i%10 == 0 {
					_ = m.DeleteByVideo(ctx, fmt.Sprintf("v%d", w))
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := m.Query(ctx, []float32{1, 1}, 5, Filter{ChannelID: "A"}); err != nil {
					t.Errorf("query: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
