// Package cache provides LRU caching for block data.
//
// Restoring a savestate from a remote store re-reads the same blocks on
// every restore; the block cache keeps recently fetched blocks close.
//
// # Block Cache (RAM)
//
// ShardedLRUBlockCache stores recently accessed blocks across 64 shards
// to reduce lock contention. It can share a host-wide memory budget
// through a resource.Controller.
//
// # Disk Cache (L2)
//
// For cloud storage backends, DiskBlockCache provides a persistent
// second-level cache with async writes, LRU eviction and an index
// rebuilt from disk on startup.
//
// # Tiering
//
// TieredCache combines both: RAM in front, disk behind, with promotion
// on second-level hits.
package cache
