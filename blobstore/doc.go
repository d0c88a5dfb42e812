// Package blobstore provides storage abstraction for archived savestates.
//
// Store is the interface for reading and writing blobs. Implementations
// must be safe for concurrent use and must write atomically: a reader
// never observes a partially written savestate.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap reads and atomic rename writes
//   - MemoryStore: in-memory store for tests
//   - CachingStore: block-level read cache in front of another store
//   - s3.Store: Amazon S3 with range reads and parallel multipart uploads
//   - minio.Store: any S3-compatible endpoint via the MinIO client
//
// # Custom Implementations
//
// Implement the Store interface to support other backends. For cloud
// backends, make ReadRange issue a single ranged request; restoring a
// savestate is one long sequential read and per-page round trips dominate
// the restore time otherwise.
package blobstore
