package cache

import "context"

// TieredCache combines a fast first-level cache (RAM) with a larger
// second-level cache (disk). Reads promote second-level hits into the
// first level; writes populate both levels.
type TieredCache struct {
	l1 BlockCache
	l2 BlockCache
}

// NewTieredCache creates a two-level cache.
func NewTieredCache(l1, l2 BlockCache) *TieredCache {
	return &TieredCache{l1: l1, l2: l2}
}

// Get checks the first level, then the second. A second-level hit is
// promoted into the first level.
func (t *TieredCache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	if b, ok := t.l1.Get(ctx, key); ok {
		return b, true
	}
	if b, ok := t.l2.Get(ctx, key); ok {
		t.l1.Set(ctx, key, b)
		return b, true
	}
	return nil, false
}

// Set caches a block in both levels.
func (t *TieredCache) Set(ctx context.Context, key CacheKey, b []byte) {
	t.l1.Set(ctx, key, b)
	t.l2.Set(ctx, key, b)
}

// Invalidate removes matching entries from both levels.
func (t *TieredCache) Invalidate(predicate func(key CacheKey) bool) {
	t.l1.Invalidate(predicate)
	t.l2.Invalidate(predicate)
}

// Close closes both levels.
func (t *TieredCache) Close() error {
	err1 := t.l1.Close()
	err2 := t.l2.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Stats aggregates both levels. A block served from either level counts
// as a hit; only blocks absent from both count as misses.
func (t *TieredCache) Stats() (hits, misses int64) {
	h1, _ := t.l1.Stats()
	h2, m2 := t.l2.Stats()
	return h1 + h2, m2
}
