package snapshot

import (
	"errors"
	"fmt"
)

var (
	// snapshotMagic identifies encoded savestate streams (ASCII "KMS1").
	snapshotMagic = [4]byte{'K', 'M', 'S', '1'}

	// formatVersion is the current savestate format version.
	formatVersion = uint16(1)
)

// headerSize is the fixed encoded header length in bytes.
//
// Layout (little-endian):
//
//	[0:4]   magic "KMS1"
//	[4:6]   format version
//	[6:7]   compression type
//	[7:8]   memory pool
//	[8:16]  secure region size
//	[16:24] charged resource amount
//	[24:32] page-table heap pages
//	[32:40] memory-block heap pages
//	[40:48] block-info heap pages
//	[48:64] reserved
const headerSize = 64

var (
	// ErrInvalidMagic is returned when a stream does not start with the
	// savestate magic.
	ErrInvalidMagic = errors.New("snapshot: invalid magic number")

	// ErrInvalidVersion is returned when the format version is not supported.
	ErrInvalidVersion = errors.New("snapshot: unsupported version")

	// ErrCorrupted is returned when a stream is structurally damaged. All
	// decode-side integrity failures, including checksum mismatches, satisfy
	// errors.Is(err, ErrCorrupted).
	ErrCorrupted = errors.New("snapshot: corrupted savestate")
)

// CorruptError reports which section of a savestate stream failed to decode.
type CorruptError struct {
	Section string
	Reason  string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("snapshot: corrupted %s section: %s", e.Section, e.Reason)
}

// Unwrap makes errors.Is(err, ErrCorrupted) work.
func (e *CorruptError) Unwrap() error {
	return ErrCorrupted
}
