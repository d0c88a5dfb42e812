package kmemgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/kmemgo/internal/slab"
	"github.com/hupe1980/kmemgo/limit"
)

var (
	// ErrInvalidSize is returned when a secure-region size is zero or not
	// page-aligned.
	ErrInvalidSize = errors.New("kmemgo: invalid secure region size")

	// ErrInvalidPolicy is returned when a heap split policy has negative
	// weights or a zero weight sum.
	ErrInvalidPolicy = errors.New("kmemgo: invalid heap split policy")

	// ErrLimitReached is returned when the resource limit cannot cover a
	// reservation. Nothing is charged when it is returned.
	ErrLimitReached = limit.ErrLimitReached

	// ErrOutOfMemory is returned when the secure region or one of its heaps
	// cannot fit a request. Nothing is charged when it is returned.
	ErrOutOfMemory = slab.ErrOutOfMemory
)

// InvalidSizeError reports a rejected secure-region size.
//
// The sentinel can be matched with errors.Is(err, ErrInvalidSize).
type InvalidSizeError struct {
	Size uint64
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("invalid secure region size %d: must be a positive multiple of %d", e.Size, PageSize)
}

func (e *InvalidSizeError) Unwrap() error { return ErrInvalidSize }

// InvalidPolicyError reports a rejected heap split policy.
//
// The sentinel can be matched with errors.Is(err, ErrInvalidPolicy).
type InvalidPolicyError struct {
	Policy HeapPolicy
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid heap split policy %+v: %s", e.Policy, e.Reason)
}

func (e *InvalidPolicyError) Unwrap() error { return ErrInvalidPolicy }
