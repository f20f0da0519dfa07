package cache

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"image-shrinker-go/internal/sizer"
)

// Key identifies a search by its inputs. The search is deterministic for
// identical inputs, so results can be reused.
type Key uint64

// NewKey hashes the source bytes together with the search parameters.
func NewKey(source []byte, mimeType string, targetSize int64, initialQuality float64) Key {
	d := xxhash.New()
	_, _ = d.Write(source)
	_, _ = d.WriteString(mimeType)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(targetSize))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(initialQuality))
	_, _ = d.Write(buf[:])
	return Key(d.Sum64())
}

// Stats contains statistics about cache performance.
type Stats struct {
	Hits    int64
	Misses  int64
	Size    int
	MaxSize int
	HitRate float64
}

// ResultCache is a bounded LRU of encode results with hit/miss counters.
type ResultCache struct {
	maxSize int
	items   *lru.Cache[Key, *sizer.EncodeResult]
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewResultCache returns a cache holding at most maxSize results.
// A non-positive maxSize disables caching.
func NewResultCache(maxSize int) *ResultCache {
	c := &ResultCache{maxSize: maxSize}
	if maxSize > 0 {
		// lru.New only fails for a non-positive size.
		c.items, _ = lru.New[Key, *sizer.EncodeResult](maxSize)
	}
	return c
}

// Get returns the cached result for key.
func (c *ResultCache) Get(key Key) (*sizer.EncodeResult, bool) {
	if c.items == nil {
		c.misses.Add(1)
		return nil, false
	}
	result, ok := c.items.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return result, true
}

// Put stores result under key, evicting the least recently used entry.
func (c *ResultCache) Put(key Key, result *sizer.EncodeResult) {
	if c.items == nil || result == nil {
		return
	}
	c.items.Add(key, result)
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() Stats {
	s := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		MaxSize: c.maxSize,
	}
	if c.items != nil {
		s.Size = c.items.Len()
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
