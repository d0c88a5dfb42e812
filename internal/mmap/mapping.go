package mmap

import (
	"errors"
	"os"
	"sync/atomic"
)

var (
	// ErrClosed is returned when accessing a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")

	// ErrInvalidSize is returned for negative or overflowing sizes.
	ErrInvalidSize = errors.New("mmap: invalid size")

	// ErrOutOfBounds is returned when a range does not lie inside the
	// mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)

// Mapping owns one memory mapping, either of a file or anonymous, and is
// responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	closed atomic.Bool
	unmap  func([]byte) error
}

// Open maps the file at path read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return &Mapping{}, nil
	}

	if size < 0 || size > int64(maxInt) {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:  data,
		size:  int(size),
		unmap: unmapFunc,
	}, nil
}

// MapAnon creates a read-write anonymous mapping of size bytes. The memory is
// zero-filled and demand-paged: pages cost physical memory only once touched,
// which is what lets a multi-gigabyte emulated DRAM coexist with small hosts.
func MapAnon(size int) (*Mapping, error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}

	if size == 0 {
		return &Mapping{}, nil
	}

	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:  data,
		size:  size,
		unmap: unmapFunc,
	}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}

	return nil
}

// Bytes returns the mapped bytes. The slice is valid only until Close; a
// closed mapping returns nil.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}

	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Advise hints to the kernel how the whole mapping will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if m.data == nil {
		return nil
	}

	return osAdvise(m.data, pattern)
}

// AdviseRange hints to the kernel how the range [off, off+size) will be
// accessed. The start is aligned down to a host page boundary, so the hint
// may cover slightly more than the requested range.
//
// With AccessDontNeed the kernel may discard the backing pages; on an
// anonymous mapping they read back zero-filled. Callers only pass ranges
// whose content is dead, such as freed device-memory extents.
func (m *Mapping) AdviseRange(off, size int, pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if off < 0 || size < 0 || off > m.size-size {
		return ErrOutOfBounds
	}

	if size == 0 {
		return nil
	}

	page := os.Getpagesize()
	aligned := off &^ (page - 1)

	return osAdvise(m.data[aligned:off+size], pattern)
}

const maxInt = int(^uint(0) >> 1)
