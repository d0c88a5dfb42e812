// Package limit provides the resource accounting ledger that admission
// control for kernel resources is charged against.
//
// A Ledger tracks capacity, reservations and committed usage per resource
// kind (physical memory, threads, events, transfer memories, sessions).
// Acquisition is two-phase: Reserve returns a Reservation that must be either
// committed or canceled, and canceling is safe on every exit path:
//
//	resv, err := ledger.Reserve(limit.PhysicalMemory, amount)
//	if err != nil {
//		return err // nothing charged
//	}
//	defer resv.Cancel() // no-op once committed
//
//	... fallible setup ...
//
//	resv.Commit()
//
// Committed capacity is returned with Release. Open and Close reference-count
// the ledger's own lifetime so long-lived holders keep it pinned.
//
// All operations are safe for concurrent use; admission never blocks.
package limit
