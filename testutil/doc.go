// Package testutil provides shared test helpers for exercising secure-memory
// resources against an emulated platform.
//
// # Recording Allocator
//
// RecordingAllocator wraps any platform.Allocator, recording every call in
// order and failing selected operations with scripted errors. Tests use the
// recorded sequence to prove negative properties, such as a rejected
// reservation never reaching the platform, or a failed initialize freeing
// exactly what it allocated.
//
//	rec := testutil.NewRecordingAllocator(dm)
//	rec.FailAllocate(platform.ErrPoolExhausted)
//
// # Device Memory Fixtures
//
// NewDeviceMemory maps emulated DRAM for a single test and unmaps it on
// cleanup, so tests never leak host mappings.
//
//	dm := testutil.NewDeviceMemory(t, platform.WithDRAMSize(16<<20))
package testutil
