// Package mmap provides memory mappings for emulated device memory and
// zero-copy savestate access.
//
// # Overview
//
// Anonymous mappings back the emulated DRAM: one large demand-paged region
// whose pages cost physical memory only when the guest touches them. File
// mappings give zero-copy read access to savestate blobs on disk.
//
// # Usage
//
//	// Emulated device memory
//	m, err := mmap.MapAnon(4 << 30)
//	if err != nil { ... }
//	defer m.Close()
//	dram := m.Bytes()
//
//	// Zero-copy savestate read
//	f, err := mmap.Open("state.kms")
//	if err != nil { ... }
//	defer f.Close()
//	_ = f.Advise(mmap.AccessSequential)
//
//	// Return a freed extent's backing pages to the host
//	_ = m.AdviseRange(off, size, mmap.AccessDontNeed)
//
// # Platform Support
//
// The package provides a unified API across platforms:
//
//   - Unix (Linux, macOS, BSD): mmap(2) with madvise(2) for access hints
//   - Windows: VirtualAlloc / CreateFileMapping (advice is a no-op)
//
// # Thread Safety
//
// Mapping is safe for concurrent read access. Close is idempotent, but
// callers must ensure no goroutine touches Bytes after Close returns.
package mmap
