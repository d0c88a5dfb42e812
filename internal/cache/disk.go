package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DiskCacheConfig holds configuration for the disk cache.
type DiskCacheConfig struct {
	// RootDir is the directory where cache files are stored.
	RootDir string
	// MaxSizeBytes is the maximum size of the cache in bytes.
	MaxSizeBytes int64
	// MaxConcurrentWrites limits background disk writes to prevent unbounded goroutines.
	// Defaults to 16 if <= 0.
	MaxConcurrentWrites int64
}

// DiskBlockCache implements BlockCache backed by the local filesystem.
// It maintains an in-memory LRU index of the files on disk and rebuilds the
// index by scanning the directory on startup, so cached blocks survive
// process restarts.
type DiskBlockCache struct {
	mu          sync.Mutex
	rootDir     string
	maxSize     int64
	currentSize int64

	// writeSem limits concurrent background writes.
	writeSem *semaphore.Weighted

	items   map[CacheKey]*lruEntry
	lruHead *lruEntry
	lruTail *lruEntry
	wg      sync.WaitGroup

	hits   atomic.Int64
	misses atomic.Int64
}

type lruEntry struct {
	key        CacheKey
	size       int64
	filePath   string
	next, prev *lruEntry
}

// NewDiskBlockCache creates a new disk-backed block cache.
func NewDiskBlockCache(config DiskCacheConfig) (*DiskBlockCache, error) {
	if err := os.MkdirAll(config.RootDir, 0755); err != nil {
		return nil, err
	}

	maxWrites := config.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = 16
	}

	c := &DiskBlockCache{
		rootDir:  config.RootDir,
		maxSize:  config.MaxSizeBytes,
		items:    make(map[CacheKey]*lruEntry),
		writeSem: semaphore.NewWeighted(maxWrites),
	}

	// Scan synchronously: Get must not miss blocks that are already on
	// disk, and an async scan could double-count concurrent writes.
	c.scanExistingFiles()

	return c, nil
}

func (c *DiskBlockCache) scanExistingFiles() {
	// Expected layout: root/<Path>/<Kind>-<Offset>.blk
	_ = filepath.Walk(c.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // keep scanning past unreadable entries
		}
		if info.IsDir() {
			return nil
		}

		key, ok := c.parsePathToKey(path)
		if !ok {
			return nil
		}

		c.addToLRU(key, path, info.Size())
		return nil
	})
}

// encodeKeyToRelPath creates a relative path string from a key.
// Format: <Path>/<Kind>-<Offset>.blk with the Path part preserved as
// directory structure. Keys without a Path land under _misc.
func (c *DiskBlockCache) encodeKeyToRelPath(key CacheKey) string {
	fileName := fmt.Sprintf("%d-%d.blk", key.Kind, key.Offset)
	if key.Path != "" {
		return filepath.Join(key.Path, fileName)
	}
	return filepath.Join("_misc", fileName)
}

func (c *DiskBlockCache) parsePathToKey(absPath string) (CacheKey, bool) {
	relPath, err := filepath.Rel(c.rootDir, absPath)
	if err != nil {
		return CacheKey{}, false
	}

	dir, file := filepath.Split(relPath)

	var k CacheKey
	var kind int
	var off uint64

	n, err := fmt.Sscanf(file, "%d-%d.blk", &kind, &off)
	if err != nil || n != 2 {
		return CacheKey{}, false
	}

	k.Kind = CacheKind(kind)
	k.Offset = off

	if dir != "" {
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
		if dir == "_misc" {
			k.Path = ""
		} else {
			k.Path = filepath.ToSlash(dir)
		}
	}

	return k, true
}

func (c *DiskBlockCache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	ent, ok := c.items[key]
	if ok {
		c.moveToFront(ent)
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	data, err := os.ReadFile(ent.filePath)
	if err != nil {
		// File vanished underneath us; drop the index entry.
		c.mu.Lock()
		c.removeEntry(ent)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

func (c *DiskBlockCache) Set(ctx context.Context, key CacheKey, b []byte) {
	c.mu.Lock()

	// Blocks are immutable; an existing entry is just refreshed.
	if ent, ok := c.items[key]; ok {
		c.moveToFront(ent)
		c.mu.Unlock()
		return
	}

	size := int64(len(b))
	relPath := c.encodeKeyToRelPath(key)
	absPath := filepath.Join(c.rootDir, relPath)

	for c.currentSize+size > c.maxSize {
		if c.lruTail == nil {
			break
		}
		c.evictOne()
	}

	c.mu.Unlock()

	// Writes happen in the background so Set never blocks the restore
	// path. If the semaphore is exhausted, skip caching this block.
	if !c.writeSem.TryAcquire(1) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.writeSem.Release(1)

		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return
		}

		tmpFile, err := os.CreateTemp(filepath.Dir(absPath), "tmp-blk-*")
		if err != nil {
			return
		}
		tmpName := tmpFile.Name()

		defer func() {
			if _, err := os.Stat(tmpName); err == nil {
				_ = os.Remove(tmpName)
			}
		}()

		if _, err := tmpFile.Write(b); err != nil {
			_ = tmpFile.Close()
			return
		}
		if err := tmpFile.Close(); err != nil {
			return
		}

		if err := os.Rename(tmpName, absPath); err != nil {
			return
		}

		// The index is updated only after the write completed; parallel
		// Gets miss and hit the backend again during warm-up, which is fine.
		c.mu.Lock()
		defer c.mu.Unlock()

		for c.currentSize+size > c.maxSize {
			if c.lruTail == nil {
				break
			}
			c.evictOne()
		}

		c.addToLRU(key, absPath, size)
	}()
}

func (c *DiskBlockCache) Invalidate(predicate func(key CacheKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*lruEntry
	for k, ent := range c.items {
		if predicate(k) {
			toRemove = append(toRemove, ent)
		}
	}

	for _, ent := range toRemove {
		_ = os.Remove(ent.filePath)
		c.removeEntry(ent)
	}
}

// Close waits for all background writes to complete.
func (c *DiskBlockCache) Close() error {
	c.wg.Wait()
	return nil
}

func (c *DiskBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Internal LRU helpers (must hold lock)

func (c *DiskBlockCache) addToLRU(key CacheKey, path string, size int64) {
	ent := &lruEntry{
		key:      key,
		filePath: path,
		size:     size,
	}
	c.items[key] = ent
	c.currentSize += size

	if c.lruHead == nil {
		c.lruHead = ent
		c.lruTail = ent
	} else {
		ent.next = c.lruHead
		c.lruHead.prev = ent
		c.lruHead = ent
	}
}

func (c *DiskBlockCache) moveToFront(ent *lruEntry) {
	if c.lruHead == ent {
		return
	}

	// Detach
	if ent.prev != nil {
		ent.prev.next = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	}
	if c.lruTail == ent {
		c.lruTail = ent.prev
	}

	// Attach front
	ent.next = c.lruHead
	ent.prev = nil
	if c.lruHead != nil {
		c.lruHead.prev = ent
	}
	c.lruHead = ent
	if c.lruTail == nil {
		c.lruTail = ent
	}
}

func (c *DiskBlockCache) removeEntry(ent *lruEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		c.lruHead = ent.next
	}

	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		c.lruTail = ent.prev
	}

	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

func (c *DiskBlockCache) evictOne() {
	if c.lruTail == nil {
		return
	}
	_ = os.Remove(c.lruTail.filePath)
	c.removeEntry(c.lruTail)
}
