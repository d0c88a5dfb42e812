// Package kmemgo manages the secure memory of emulated processes: fixed
// regions carved from device memory that back kernel metadata such as
// page-table pages, memory-block descriptors and block-info records.
//
// The central type is SecureResource. It owns one secure region, charges it
// against a resource-limit ledger, and carves three fixed-capacity slab
// heaps out of it:
//
//	dm, _ := platform.NewDeviceMemory()
//	defer dm.Close()
//
//	ledger := limit.New(limit.Config{PhysicalMemoryBytes: 16 << 20})
//
//	sr := kmemgo.New(dm)
//	if err := sr.Initialize(1<<20, ledger, platform.PoolApplication); err != nil {
//	    return err // nothing was charged or mapped
//	}
//
//	ptm := sr.PageTableManager()
//	page, err := ptm.Allocate()
//	...
//	ptm.Free(page)
//	sr.Finalize()
//
// # Lifecycle
//
// A resource is Uninitialized, Ready or Finalized, in that order, exactly
// once. Initialize either succeeds completely or leaves zero residue: a
// failed initialize cancels the ledger reservation and returns any secure
// memory it took. Finalize requires every slot to be freed first and hands
// everything back.
//
// # Accounting
//
// Secure memory is charged against limit.Ledger before it is allocated.
// CalculateRequiredSecureMemorySize is the pricing function: deterministic,
// monotonic in size, zero for the applet pool's fixed carveout. A rejected
// reservation fails with ErrLimitReached before the platform is touched.
//
// # Savestates
//
// Snapshot captures a Ready resource as a snapshot.State: the raw region
// bytes plus each heap's slot occupancy. RestoreSnapshot rebuilds an
// equivalent resource from one, on the same device or another. The snapshot
// package carries states to and from blob storage in a checksummed,
// compressed wire format.
package kmemgo
