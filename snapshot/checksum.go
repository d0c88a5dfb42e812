package snapshot

import (
	"fmt"
	"io"

	"github.com/hupe1980/kmemgo/internal/hash"
)

// Savestate integrity uses CRC32 (IEEE polynomial): fast, hardware
// accelerated on common CPUs, and good at catching storage corruption.
// It is not cryptographically secure; it detects accidents, not tampering.

// Checksum computes the CRC32 checksum of data.
func Checksum(data []byte) uint32 {
	return hash.CRC32(data)
}

// checksumWriter keeps a running CRC32 over every byte written through it.
type checksumWriter struct {
	*hash.TeeWriter
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{hash.NewTeeWriter(w, hash.NewCRC32())}
}

// Sum returns the checksum of everything written so far.
func (cw *checksumWriter) Sum() uint32 {
	return cw.Sum32()
}

// checksumReader keeps a running CRC32 over every byte read through it.
type checksumReader struct {
	*hash.TeeReader
}

func newChecksumReader(r io.Reader) *checksumReader {
	return &checksumReader{hash.NewTeeReader(r, hash.NewCRC32())}
}

// Sum returns the checksum of everything read so far.
func (cr *checksumReader) Sum() uint32 {
	return cr.Sum32()
}

// Verify compares the running checksum against the expected value.
func (cr *checksumReader) Verify(expected uint32) error {
	actual := cr.Sum()
	if actual != expected {
		return &ChecksumMismatchError{
			Expected: expected,
			Actual:   actual,
		}
	}

	return nil
}

// ChecksumMismatchError is returned when checksum verification fails.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("snapshot: checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// Unwrap makes errors.Is(err, ErrCorrupted) work.
func (e *ChecksumMismatchError) Unwrap() error {
	return ErrCorrupted
}
