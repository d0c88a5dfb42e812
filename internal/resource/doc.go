// Package resource governs host-side resources of the emulator process:
// cache memory, background archival workers, and archive IO throughput.
//
// This is deliberately separate from the limit package. The limit ledger
// accounts guest kernel resources (what the emulated system may consume);
// the Controller here throttles the host machinery around it (how fast
// savestates move, how much the block cache may hold).
//
//   - Memory: cache admission against a hard byte budget
//   - Concurrency: bounded background workers for saves and prefetch
//   - IO: token-bucket pacing so archival never starves the foreground
//
// # Usage
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     256 << 20,
//	    MaxBackgroundWorkers: 2,
//	    IOLimitBytesPerSec:   64 << 20,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
//	w := resource.NewRateLimitedWriter(ctx, file, rc)
//
// # Nil Safety
//
// All Controller methods tolerate a nil receiver and become no-ops, so
// resource limiting stays optional without nil checks at every call site.
package resource
