// Package bitset provides a lock-free fixed-size bitset for concurrent access.
//
// Architecture:
//   - Flat word array sized at construction; allocator capacities never grow
//   - Lock-free: atomic.Uint64 words with CAS transitions
//   - TestAndSet / TestAndClear report whether this caller performed the
//     transition, which is how double-claim and double-release are detected
//
// Used internally for:
//   - Slab slot occupancy (live slot tracking, double-free detection)
//   - Page occupancy in the dynamic page manager
package bitset
