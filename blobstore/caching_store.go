package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/kmemgo/internal/cache"
	"github.com/hupe1980/kmemgo/internal/resource"
	"golang.org/x/sync/errgroup"
)

// CachingOptions configures a CachingStore.
type CachingOptions struct {
	// BlockSize is the cache block granularity in bytes.
	BlockSize int64
	// MemoryCacheBytes bounds the in-memory block cache.
	MemoryCacheBytes int64
	// DiskCacheDir enables a persistent second-level cache when non-empty.
	// Blocks cached there survive process restarts.
	DiskCacheDir string
	// DiskCacheBytes bounds the disk cache. Only used when DiskCacheDir is set.
	DiskCacheBytes int64
}

// DefaultCachingOptions are the defaults for NewCachingStore. The block
// size matches the compressed-block granularity of archived savestates,
// so one cache block maps to one ranged read.
var DefaultCachingOptions = CachingOptions{
	BlockSize:        256 * 1024,
	MemoryCacheBytes: 64 << 20,
	DiskCacheBytes:   1 << 30,
}

// CachingStore wraps a Store and adds block-level read caching. It is
// meant for remote backends (S3, MinIO) where re-reading a savestate on
// every restore costs a round trip per range.
type CachingStore struct {
	inner     Store
	cache     cache.BlockCache
	blockSize int64
}

var _ Store = (*CachingStore)(nil)

// NewCachingStore creates a CachingStore in front of inner.
func NewCachingStore(inner Store, optFns ...func(o *CachingOptions)) (*CachingStore, error) {
	if inner == nil {
		return nil, errors.New("blobstore: inner store is nil")
	}

	opts := DefaultCachingOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BlockSize <= 0 {
		return nil, fmt.Errorf("blobstore: invalid block size %d", opts.BlockSize)
	}

	// The controller enforces the total budget across shards; individual
	// shards may be unevenly loaded.
	rc := resource.NewController(resource.Config{MemoryLimitBytes: opts.MemoryCacheBytes})
	var blockCache cache.BlockCache = cache.NewShardedLRUBlockCache(opts.MemoryCacheBytes, rc)

	if opts.DiskCacheDir != "" {
		disk, err := cache.NewDiskBlockCache(cache.DiskCacheConfig{
			RootDir:      opts.DiskCacheDir,
			MaxSizeBytes: opts.DiskCacheBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("blobstore: disk cache: %w", err)
		}
		blockCache = cache.NewTieredCache(blockCache, disk)
	}

	return &CachingStore{
		inner:     inner,
		cache:     blockCache,
		blockSize: opts.BlockSize,
	}, nil
}

// Open opens a blob whose reads go through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create passes through to the inner store. Writes are not cached;
// blobs only become readable after Close, and reads populate the cache
// on demand.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

// Put invalidates cached blocks for the blob and writes through.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Invalidate(func(key cache.CacheKey) bool {
		return key.Kind == cache.CacheKindBlob && key.Path == name
	})
	return s.inner.Put(ctx, name, data)
}

// Delete invalidates cached blocks for the blob and deletes it.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Invalidate(func(key cache.CacheKey) bool {
		return key.Kind == cache.CacheKindBlob && key.Path == name
	})
	return s.inner.Delete(ctx, name)
}

// List passes through to the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// CacheStats returns hit/miss counters of the block cache.
func (s *CachingStore) CacheStats() (hits, misses int64) {
	return s.cache.Stats()
}

// Close releases the block cache. It does not close the inner store.
func (s *CachingStore) Close() error {
	return s.cache.Close()
}

// CachingBlob wraps a Blob and serves reads from the block cache.
type CachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

func (b *CachingBlob) Close() error {
	return b.inner.Close()
}

func (b *CachingBlob) Size() int64 {
	return b.inner.Size()
}

// ReadAt assembles the requested range from cached blocks, fetching
// missing blocks from the inner blob first.
func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	totalRead := 0

	startBlock := off / b.blockSize
	endBlock := (off + int64(len(p)) - 1) / b.blockSize

	if err := b.fillCache(ctx, startBlock, endBlock); err != nil {
		return 0, err
	}

	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * b.blockSize

		// Intersection of [blkStart, blkStart+blockSize) with [off, off+len(p))
		intersectStart := max(blkStart, off)
		intersectEnd := min(blkStart+b.blockSize, off+int64(len(p)))
		if intersectEnd <= intersectStart {
			continue
		}

		copySize := int(intersectEnd - intersectStart)
		dstOffset := intersectStart - off

		blockData, err := b.fetchBlock(ctx, blk)
		if err != nil {
			return totalRead, err
		}

		srcOffset := intersectStart - blkStart

		// The last block of a blob may be short.
		if srcOffset+int64(copySize) > int64(len(blockData)) {
			copySize = len(blockData) - int(srcOffset)
		}

		if copySize > 0 {
			n := copy(p[dstOffset:dstOffset+int64(copySize)], blockData[srcOffset:])
			totalRead += n
		}
	}

	return totalRead, nil
}

// fillCache loads the blocks in [startBlock, endBlock] into the cache,
// coalescing contiguous runs of missing blocks into single backend reads.
func (b *CachingBlob) fillCache(ctx context.Context, startBlock, endBlock int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var missingRuns []struct {
		start, count int64
	}

	runStart := int64(-1)
	runCount := int64(0)

	for blk := startBlock; blk <= endBlock; blk++ {
		key := cache.CacheKey{
			Kind:   cache.CacheKindBlob,
			Path:   b.name,
			Offset: uint64(blk),
		}
		if _, ok := b.cache.Get(ctx, key); !ok {
			if runStart == -1 {
				runStart = blk
				runCount = 1
			} else {
				runCount++
			}
		} else {
			if runStart != -1 {
				missingRuns = append(missingRuns, struct{ start, count int64 }{runStart, runCount})
				runStart = -1
				runCount = 0
			}
		}
	}
	if runStart != -1 {
		missingRuns = append(missingRuns, struct{ start, count int64 }{runStart, runCount})
	}

	g, _ := errgroup.WithContext(ctx)
	// Bounded fan-out to avoid FD exhaustion and backend rate limits.
	g.SetLimit(16)

	for _, run := range missingRuns {
		run := run
		g.Go(func() error {
			byteStart := run.start * b.blockSize
			byteSize := run.count * b.blockSize

			fileSize := b.Size()
			if byteStart >= fileSize {
				return nil
			}
			if byteStart+byteSize > fileSize {
				byteSize = fileSize - byteStart
			}

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(ctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			if n == 0 {
				return nil
			}

			validData := buf[:n]

			for i := int64(0); i < run.count; i++ {
				blkIdx := run.start + i
				offsetInRun := i * b.blockSize

				if offsetInRun >= int64(len(validData)) {
					break
				}

				endInRun := offsetInRun + b.blockSize
				if endInRun > int64(len(validData)) {
					endInRun = int64(len(validData))
				}

				// Copy so cached blocks don't pin the large run buffer.
				chunkSize := endInRun - offsetInRun
				blockCopy := make([]byte, chunkSize)
				copy(blockCopy, validData[offsetInRun:endInRun])

				key := cache.CacheKey{
					Kind:   cache.CacheKindBlob,
					Path:   b.name,
					Offset: uint64(blkIdx),
				}
				b.cache.Set(ctx, key, blockCopy)
			}
			return nil
		})
	}
	return g.Wait()
}

// fetchBlock returns one block, from the cache if present.
func (b *CachingBlob) fetchBlock(ctx context.Context, blkIdx int64) ([]byte, error) {
	key := cache.CacheKey{
		Kind:   cache.CacheKindBlob,
		Path:   b.name,
		Offset: uint64(blkIdx),
	}

	if data, ok := b.cache.Get(ctx, key); ok {
		return data, nil
	}

	buf := make([]byte, b.blockSize)
	offset := blkIdx * b.blockSize

	n, err := b.inner.ReadAt(ctx, buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	validData := buf[:n]

	if n > 0 {
		b.cache.Set(ctx, key, validData)
	}

	return validData, nil
}

// ReadRange serves the range through the block cache via ReadAt.
func (b *CachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	size := b.Size()
	if off < 0 || off > size {
		return nil, io.EOF
	}
	limit := off + length
	if limit > size {
		limit = size
	}
	return io.NopCloser(&contextSectionReader{blob: b, ctx: ctx, off: off, limit: limit}), nil
}

// contextSectionReader adapts CachingBlob.ReadAt to io.Reader.
type contextSectionReader struct {
	blob  *CachingBlob
	ctx   context.Context
	off   int64
	limit int64
}

func (r *contextSectionReader) Read(p []byte) (n int, err error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err = r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if err == nil && n == 0 {
		err = io.EOF
	}
	return
}
