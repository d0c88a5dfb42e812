package platform

import (
	"errors"
	"fmt"
)

const (
	// PageSize is the granularity of the emulated physical memory.
	PageSize uint64 = 4096

	// DRAMBase is the emulated physical address where device memory begins.
	DRAMBase Address = 0x8000_0000

	// DefaultDRAMSize is the device-memory size used when no layout is given.
	DefaultDRAMSize uint64 = 256 << 20

	// AppletReservedSize is the fixed size of the applet secure-memory
	// carveout.
	AppletReservedSize uint64 = 4 << 20
)

var (
	// ErrPoolExhausted is returned when a pool cannot fit a requested
	// allocation.
	ErrPoolExhausted = errors.New("platform: memory pool exhausted")

	// ErrInvalidPool is returned for pool values outside the classifier.
	ErrInvalidPool = errors.New("platform: invalid memory pool")

	// ErrOutOfRange is returned when an address range does not lie inside
	// device memory.
	ErrOutOfRange = errors.New("platform: address range outside device memory")
)

// Address is an emulated physical address.
type Address uint64

// String implements the fmt.Stringer interface.
func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Pool classifies which partition of device memory an allocation is served
// from.
type Pool int

const (
	// PoolApplication backs application processes.
	PoolApplication Pool = iota

	// PoolApplet backs system applets; its secure memory is a fixed
	// pre-reserved carveout.
	PoolApplet

	// PoolSystem backs system processes.
	PoolSystem

	// PoolSystemNonSecure backs system processes without secure backing.
	PoolSystemNonSecure

	// NumPools is the number of pools in the classifier.
	NumPools int = iota
)

// Valid reports whether p names a pool.
func (p Pool) Valid() bool {
	return p >= PoolApplication && int(p) < NumPools
}

// String implements the fmt.Stringer interface.
func (p Pool) String() string {
	switch p {
	case PoolApplication:
		return "application"
	case PoolApplet:
		return "applet"
	case PoolSystem:
		return "system"
	case PoolSystemNonSecure:
		return "system-non-secure"
	default:
		return fmt.Sprintf("pool(%d)", int(p))
	}
}

// Allocator carves secure memory out of device memory and translates
// emulated physical addresses into host bytes. Implementations must be safe
// for concurrent use.
type Allocator interface {
	// AllocateSecureMemory reserves size bytes from the given pool and
	// returns the emulated physical address of the region.
	AllocateSecureMemory(size uint64, pool Pool) (Address, error)

	// FreeSecureMemory returns a region obtained from AllocateSecureMemory.
	// The address, size and pool must match the original allocation exactly;
	// a mismatch is a programming error and panics.
	FreeSecureMemory(addr Address, size uint64, pool Pool)

	// Resolve translates an emulated physical address range into the host
	// bytes backing it.
	Resolve(addr Address, size uint64) ([]byte, error)
}
