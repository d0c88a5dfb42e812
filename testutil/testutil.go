package testutil

import (
	"sync"
	"testing"

	"github.com/hupe1980/kmemgo/platform"
)

// Operation names recorded by RecordingAllocator.
const (
	OpAllocate = "allocate"
	OpFree     = "free"
	OpResolve  = "resolve"
)

// Call records one platform.Allocator invocation.
type Call struct {
	Op   string
	Addr platform.Address
	Size uint64
	Pool platform.Pool
	Err  error
}

// RecordingAllocator wraps a platform.Allocator, recording every call in
// order and optionally failing operations with a scripted error. It is safe
// for concurrent use.
//
// Tests use it to prove negative properties: that a rejected reservation
// never touched the platform, or that a failed initialize freed exactly what
// it allocated.
type RecordingAllocator struct {
	inner platform.Allocator

	mu          sync.Mutex
	calls       []Call
	allocateErr error
	resolveErr  error
}

// NewRecordingAllocator wraps inner.
func NewRecordingAllocator(inner platform.Allocator) *RecordingAllocator {
	return &RecordingAllocator{inner: inner}
}

// FailAllocate makes subsequent AllocateSecureMemory calls fail with err
// without reaching the wrapped allocator. A nil err clears the fault.
func (ra *RecordingAllocator) FailAllocate(err error) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.allocateErr = err
}

// FailResolve makes subsequent Resolve calls fail with err without reaching
// the wrapped allocator. A nil err clears the fault.
func (ra *RecordingAllocator) FailResolve(err error) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.resolveErr = err
}

// AllocateSecureMemory implements the platform.Allocator interface.
func (ra *RecordingAllocator) AllocateSecureMemory(size uint64, pool platform.Pool) (platform.Address, error) {
	ra.mu.Lock()
	fault := ra.allocateErr
	ra.mu.Unlock()

	var (
		addr platform.Address
		err  error
	)

	if fault != nil {
		err = fault
	} else {
		addr, err = ra.inner.AllocateSecureMemory(size, pool)
	}

	ra.record(Call{Op: OpAllocate, Addr: addr, Size: size, Pool: pool, Err: err})

	return addr, err
}

// FreeSecureMemory implements the platform.Allocator interface.
func (ra *RecordingAllocator) FreeSecureMemory(addr platform.Address, size uint64, pool platform.Pool) {
	ra.inner.FreeSecureMemory(addr, size, pool)
	ra.record(Call{Op: OpFree, Addr: addr, Size: size, Pool: pool})
}

// Resolve implements the platform.Allocator interface.
func (ra *RecordingAllocator) Resolve(addr platform.Address, size uint64) ([]byte, error) {
	ra.mu.Lock()
	fault := ra.resolveErr
	ra.mu.Unlock()

	var (
		region []byte
		err    error
	)

	if fault != nil {
		err = fault
	} else {
		region, err = ra.inner.Resolve(addr, size)
	}

	ra.record(Call{Op: OpResolve, Addr: addr, Size: size, Err: err})

	return region, err
}

// Calls returns a copy of every recorded call in order.
func (ra *RecordingAllocator) Calls() []Call {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	calls := make([]Call, len(ra.calls))
	copy(calls, ra.calls)

	return calls
}

// CallCount returns how many calls of the given operation were recorded.
func (ra *RecordingAllocator) CallCount(op string) int {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	n := 0
	for _, c := range ra.calls {
		if c.Op == op {
			n++
		}
	}

	return n
}

// Outstanding returns successful allocations minus frees. Zero means every
// allocation was returned.
func (ra *RecordingAllocator) Outstanding() int {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	n := 0
	for _, c := range ra.calls {
		switch {
		case c.Op == OpAllocate && c.Err == nil:
			n++
		case c.Op == OpFree:
			n--
		}
	}

	return n
}

// Reset clears the recorded calls. Scripted faults stay in place.
func (ra *RecordingAllocator) Reset() {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.calls = nil
}

func (ra *RecordingAllocator) record(c Call) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.calls = append(ra.calls, c)
}

// NewDeviceMemory creates emulated device memory for a test and unmaps it on
// cleanup.
func NewDeviceMemory(tb testing.TB, optFns ...func(o *platform.DeviceMemoryOptions)) *platform.DeviceMemory {
	tb.Helper()

	dm, err := platform.NewDeviceMemory(optFns...)
	if err != nil {
		tb.Fatalf("device memory: %v", err)
	}

	tb.Cleanup(func() {
		if err := dm.Close(); err != nil {
			tb.Errorf("close device memory: %v", err)
		}
	})

	return dm
}
