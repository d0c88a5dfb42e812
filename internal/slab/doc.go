// Package slab provides fixed-capacity typed slot allocators carved from
// pages of the dynamic page manager.
//
// # Layout
//
// A Heap claims its page budget eagerly at construction and slices every
// page into slots of unsafe.Sizeof(T) rounded up to the type's alignment.
// Capacity never grows afterward. Slots are handed out as *T pointing
// directly into the backing region, recycled through a free list, and
// guarded by an occupancy bitset so double frees and foreign pointers are
// detected instead of corrupting the pool.
//
// # Synchronization
//
// Heap is unsynchronized. Manager wraps one Heap with a mutex and is the
// surface concurrent callers use; the page-table flavor additionally keys a
// RefCounts table by backing page under the same lock.
package slab
