// Package vectorindex stores transcript-chunk vectors with their metadata and
// answers channel-scoped nearest-neighbour queries.
//
// The index is a derived projection of the relational store: it can always
// be rebuilt from the stored chunk embeddings, and Query is a pure function
// of the current entry set. Scoring is cosine similarity; results are ordered
// by score descending, then ordinal ascending, then video id, then chunk id,
// so equal inputs always produce identical top-k lists.
//
// Every query must name a channel. There is no way to search across tenants.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrUnscoped     = errors.New("vectorindex: query filter must name a channel")
	ErrDimension    = errors.New("vectorindex: vector dimension mismatch")
	ErrInvalidEntry = errors.New("vectorindex: entry is missing ids or has a zero vector")
)

// Entry is one chunk vector and the metadata used for filtering and
// tie-breaking.
type Entry struct {
	ChunkID   string
	VideoID   string
	ChannelID string
	Ordinal   int
	Vector    []float32
}

// Filter scopes a query. ChannelID is mandatory; VideoID optionally narrows
// further.
type Filter struct {
	ChannelID string
	VideoID   string
}

// Result is a scored match.
type Result struct {
	ChunkID   string
	VideoID   string
	ChannelID string
	Ordinal   int
	Score     float64
}

// Index is implemented by Memory and Bolt.
type Index interface {
	Upsert(ctx context.Context, entries ...Entry) error
	Delete(ctx context.Context, chunkIDs ...string) error
	DeleteByVideo(ctx context.Context, videoID string) error
	Query(ctx context.Context, vec []float32, k int, f Filter) ([]Result, error)
	Rebuild(ctx context.Context, entries []Entry) error
	Len() int
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	dimension int
}

// WithDimension fixes the vector size. Without it the size is taken from
// the first entry written.
func WithDimension(d int) Option {
	return func(c *config) {
		if d > 0 {
			c.dimension = d
		}
	}
}

// ----------------------------------------------------------------------------
// Memory

type item struct {
	Entry
	norm float64
}

// Memory is an in-process Index partitioned by channel. It is safe for
// concurrent use: queries share a read lock, writes take the write lock.
type Memory struct {
	mu       sync.RWMutex
	dim      int
	fixedDim bool
	chunks   map[string]*item            // chunk id -> item
	channels map[string]map[string]*item // channel id -> chunk id -> item
	videos   map[string]map[string]struct{}
}

// NewMemory returns an empty Memory index.
func NewMemory(opts ...Option) *Memory {
	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}
	m := &Memory{dim: cfg.dimension, fixedDim: cfg.dimension > 0}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.chunks = make(map[string]*item)
	m.channels = make(map[string]map[string]*item)
	m.videos = make(map[string]map[string]struct{})
	if !m.fixedDim {
		m.dim = 0
	}
}

// Dimension reports the vector size, or 0 while unknown.
func (m *Memory) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dim
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// prepare validates entries against dim (learning it when zero) and returns
// the items to insert along with the resulting dimension.
func prepare(dim int, entries []Entry) ([]*item, int, error) {
	out := make([]*item, 0, len(entries))
	for _, e := range entries {
		if e.ChunkID == "" || e.VideoID == "" || e.ChannelID == "" {
			return nil, dim, fmt.Errorf("%w: chunk %q", ErrInvalidEntry, e.ChunkID)
		}
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return nil, dim, fmt.Errorf("%w: chunk %s has %d, want %d", ErrDimension, e.ChunkID, len(e.Vector), dim)
		}
		n := norm(e.Vector)
		if n == 0 {
			return nil, dim, fmt.Errorf("%w: chunk %s", ErrInvalidEntry, e.ChunkID)
		}
		cp := e
		cp.Vector = append([]float32(nil), e.Vector...)
		out = append(out, &item{Entry: cp, norm: n})
	}
	return out, dim, nil
}

func (m *Memory) Upsert(_ context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, dim, err := prepare(m.dim, entries)
	if err != nil {
		return err
	}
	m.dim = dim
	for _, it := range items {
		m.put(it)
	}
	return nil
}

func (m *Memory) put(it *item) {
	if old, ok := m.chunks[it.ChunkID]; ok {
		m.remove(old)
	}
	m.chunks[it.ChunkID] = it
	part := m.channels[it.ChannelID]
	if part == nil {
		part = make(map[string]*item)
		m.channels[it.ChannelID] = part
	}
	part[it.ChunkID] = it
	vs := m.videos[it.VideoID]
	if vs == nil {
		vs = make(map[string]struct{})
		m.videos[it.VideoID] = vs
	}
	vs[it.ChunkID] = struct{}{}
}

func (m *Memory) remove(it *item) {
	delete(m.chunks, it.ChunkID)
	if part := m.channels[it.ChannelID]; part != nil {
		delete(part, it.ChunkID)
		if len(part) == 0 {
			delete(m.channels, it.ChannelID)
		}
	}
	if vs := m.videos[it.VideoID]; vs != nil {
		delete(vs, it.ChunkID)
		if len(vs) == 0 {
			delete(m.videos, it.VideoID)
		}
	}
}

func (m *Memory) Delete(_ context.Context, chunkIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		if it, ok := m.chunks[id]; ok {
			m.remove(it)
		}
	}
	return nil
}

func (m *Memory) DeleteByVideo(_ context.Context, videoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.videos[videoID] {
		m.remove(m.chunks[id])
	}
	return nil
}

// chunkIDsForVideo lists the chunk ids stored for a video, sorted.
func (m *Memory) chunkIDsForVideo(videoID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.videos[videoID]))
	for id := range m.videos[videoID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CountByVideo returns how many entries belong to videoID.
func (m *Memory) CountByVideo(videoID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.videos[videoID])
}

func (m *Memory) Rebuild(_ context.Context, entries []Entry) error {
	dim := 0
	if m.fixedDim {
		dim = m.Dimension()
	}
	items, dim, err := prepare(dim, entries)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	m.dim = dim
	for _, it := range items {
		m.put(it)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, vec []float32, k int, f Filter) ([]Result, error) {
	if f.ChannelID == "" {
		return nil, ErrUnscoped
	}
	if k <= 0 {
		return []Result{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dim != 0 && len(vec) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimension, len(vec), m.dim)
	}
	part := m.channels[f.ChannelID]
	if len(part) == 0 {
		return []Result{}, nil
	}
	qn := norm(vec)
	if qn == 0 {
		return []Result{}, nil
	}

	buf := make([]Result, 0, len(part))
	for _, it := range part {
		if f.VideoID != "" && it.VideoID != f.VideoID {
			continue
		}
		buf = append(buf, Result{
			ChunkID:   it.ChunkID,
			VideoID:   it.VideoID,
			ChannelID: it.ChannelID,
			Ordinal:   it.Ordinal,
			Score:     dot(vec, it.Vector) / (qn * it.norm),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	Sort(buf)
	if k > len(buf) {
		k = len(buf)
	}
	return buf[:k:k], nil
}

// Sort orders results by score descending, then ordinal, video id and chunk
// id ascending.
func Sort(rs []Result) {
	sort.SliceStable(rs, func(a, b int) bool {
		if rs[a].Score != rs[b].Score {
			return rs[a].Score > rs[b].Score
		}
		if rs[a].Ordinal != rs[b].Ordinal {
			return rs[a].Ordinal < rs[b].Ordinal
		}
		if rs[a].VideoID != rs[b].VideoID {
			return rs[a].VideoID < rs[b].VideoID
		}
		return rs[a].ChunkID < rs[b].ChunkID
	})
}

// ----------------------------------------------------------------------------
// Helpers

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
