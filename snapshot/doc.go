// Package snapshot encodes secure resources as portable savestates and moves
// them in and out of blob storage.
//
// # Format
//
// A savestate stream is a fixed 64-byte header, the occupied slot set of
// each heap as a roaring bitmap, the region payload, and a trailing CRC32
// over everything before it. The region is stored as independently
// compressed blocks (LZ4 or ZSTD) with an uncompressed fallback for blocks
// that do not shrink. Everything is little-endian.
//
// Decoding verifies structure as it reads and the checksum at the end; any
// damage surfaces as an error satisfying errors.Is(err, ErrCorrupted).
//
// # Archival
//
// Archiver binds the codec to a blobstore.Store. A save encodes into memory
// through an optional IO throughput pacer and lands with a single atomic
// Put, so interrupted saves leave nothing behind. Async saves run on a
// bounded worker pool.
package snapshot
