package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var bucketVectors = []byte("vectors")

type storedEntry struct {
	VideoID   string    `json:"vid"`
	ChannelID string    `json:"ch"`
	Ordinal   int       `json:"o"`
	Vector    []float32 `json:"v"`
}

// Bolt persists the index in a bbolt file and serves queries from an
// in-memory mirror. Every write is committed to disk before the mirror is
// updated, so a failed write leaves both sides unchanged.
type Bolt struct {
	db  *bbolt.DB
	mem *Memory
	wmu sync.Mutex // serialises disk+mirror updates
}

// OpenBolt opens (or creates) the index file at path and loads it.
func OpenBolt(path string, opts ...Option) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt index: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vectors bucket: %w", err)
	}

	b := &Bolt{db: db, mem: NewMemory(opts...)}
	if err := b.load(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	return b, nil
}

// Close closes the underlying file.
func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) load() error {
	var entries []Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var s storedEntry
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			entries = append(entries, Entry{
				ChunkID:   string(k),
				VideoID:   s.VideoID,
				ChannelID: s.ChannelID,
				Ordinal:   s.Ordinal,
				Vector:    s.Vector,
			})
			return nil
		})
	})
	if err != nil {
		return err
	}
	return b.mem.Rebuild(context.Background(), entries)
}

func (b *Bolt) Len() int { return b.mem.Len() }

// Dimension reports the vector size, or 0 while unknown.
func (b *Bolt) Dimension() int { return b.mem.Dimension() }

// CountByVideo returns how many entries belong to videoID.
func (b *Bolt) CountByVideo(videoID string) int { return b.mem.CountByVideo(videoID) }

func (b *Bolt) Query(ctx context.Context, vec []float32, k int, f Filter) ([]Result, error) {
	return b.mem.Query(ctx, vec, k, f)
}

func (b *Bolt) Upsert(ctx context.Context, entries ...Entry) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	// Validate against the mirror's dimension before touching disk.
	if _, _, err := prepare(b.mem.Dimension(), entries); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketVectors)
		for _, e := range entries {
			data, err := json.Marshal(storedEntry{VideoID: e.VideoID, ChannelID: e.ChannelID, Ordinal: e.Ordinal, Vector: e.Vector})
			if err != nil {
				return err
			}
			if err := bk.Put([]byte(e.ChunkID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return b.mem.Upsert(ctx, entries...)
}

func (b *Bolt) Delete(ctx context.Context, chunkIDs ...string) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if err := b.deleteKeys(chunkIDs); err != nil {
		return err
	}
	return b.mem.Delete(ctx, chunkIDs...)
}

func (b *Bolt) DeleteByVideo(ctx context.Context, videoID string) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if err := b.deleteKeys(b.mem.chunkIDsForVideo(videoID)); err != nil {
		return err
	}
	return b.mem.DeleteByVideo(ctx, videoID)
}

func (b *Bolt) deleteKeys(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketVectors)
		for _, id := range ids {
			if err := bk.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rebuild replaces the file contents and the mirror with entries.
func (b *Bolt) Rebuild(ctx context.Context, entries []Entry) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	dim := 0
	if b.mem.fixedDim {
		dim = b.mem.Dimension()
	}
	if _, _, err := prepare(dim, entries); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketVectors); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		bk, err := tx.CreateBucket(bucketVectors)
		if err != nil {
			return err
		}
		for _, e := range entries {
			data, err := json.Marshal(storedEntry{VideoID: e.VideoID, ChannelID: e.ChannelID, Ordinal: e.Ordinal, Vector: e.Vector})
			if err != nil {
				return err
			}
			if err := bk.Put([]byte(e.ChunkID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return b.mem.Rebuild(ctx, entries)
}

var (
	_ Index = (*Memory)(nil)
	_ Index = (*Bolt)(nil)
)
