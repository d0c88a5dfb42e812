package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/kmemgo/platform"
)

// maxRegionSize bounds the region allocation during decode so a corrupted
// header cannot demand arbitrary memory before the checksum is verified.
const maxRegionSize = 16 << 30

// Encode writes the state to w in the savestate format: a fixed header,
// the three slot sets, the region block sequence, and a trailing CRC32
// over everything before it.
func Encode(w io.Writer, s *State, compression CompressionType) error {
	if w == nil {
		return fmt.Errorf("snapshot: writer is nil")
	}
	if !compression.Valid() {
		return fmt.Errorf("snapshot: unknown compression type %d", uint8(compression))
	}
	if err := s.Validate(); err != nil {
		return err
	}

	cw := newChecksumWriter(w)

	var hdr [headerSize]byte
	copy(hdr[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], formatVersion)
	hdr[6] = uint8(compression)
	hdr[7] = uint8(s.Pool)
	binary.LittleEndian.PutUint64(hdr[8:16], s.Size)
	binary.LittleEndian.PutUint64(hdr[16:24], s.Required)
	binary.LittleEndian.PutUint64(hdr[24:32], s.PageTablePages)
	binary.LittleEndian.PutUint64(hdr[32:40], s.MemoryBlockPages)
	binary.LittleEndian.PutUint64(hdr[40:48], s.BlockInfoPages)
	if _, err := cw.Write(hdr[:]); err != nil {
		return err
	}

	if _, err := s.PageTableSlots.WriteTo(cw); err != nil {
		return fmt.Errorf("snapshot: write page-table slots: %w", err)
	}
	if _, err := s.MemoryBlockSlots.WriteTo(cw); err != nil {
		return fmt.Errorf("snapshot: write memory-block slots: %w", err)
	}
	if _, err := s.BlockInfoSlots.WriteTo(cw); err != nil {
		return fmt.Errorf("snapshot: write block-info slots: %w", err)
	}

	if err := writeRegion(cw, s.Region, compression); err != nil {
		return fmt.Errorf("snapshot: write region: %w", err)
	}

	// The checksum itself is written outside the checksummed stream.
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], cw.Sum())
	if _, err := w.Write(footer[:]); err != nil {
		return err
	}
	return nil
}

// Decode reads a savestate stream and returns the state it carries. The
// stream is consumed exactly up to its trailing checksum.
func Decode(r io.Reader) (*State, error) {
	if r == nil {
		return nil, fmt.Errorf("snapshot: reader is nil")
	}

	cr := newChecksumReader(r)

	var hdr [headerSize]byte
	if _, err := io.ReadFull(cr, hdr[:]); err != nil {
		return nil, &CorruptError{Section: "header", Reason: "truncated"}
	}
	if [4]byte(hdr[0:4]) != snapshotMagic {
		return nil, ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint16(hdr[4:6]); version != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}

	compression := CompressionType(hdr[6])
	if !compression.Valid() {
		return nil, &CorruptError{Section: "header", Reason: fmt.Sprintf("unknown compression type %d", hdr[6])}
	}

	s := &State{
		Pool:             platform.Pool(hdr[7]),
		Size:             binary.LittleEndian.Uint64(hdr[8:16]),
		Required:         binary.LittleEndian.Uint64(hdr[16:24]),
		PageTablePages:   binary.LittleEndian.Uint64(hdr[24:32]),
		MemoryBlockPages: binary.LittleEndian.Uint64(hdr[32:40]),
		BlockInfoPages:   binary.LittleEndian.Uint64(hdr[40:48]),
	}

	if !s.Pool.Valid() {
		return nil, &CorruptError{Section: "header", Reason: fmt.Sprintf("invalid pool %d", hdr[7])}
	}
	if s.Size == 0 || s.Size%platform.PageSize != 0 {
		return nil, &CorruptError{Section: "header", Reason: fmt.Sprintf("invalid region size %d", s.Size)}
	}
	if s.Size > maxRegionSize {
		return nil, &CorruptError{Section: "header", Reason: fmt.Sprintf("region size %d exceeds limit", s.Size)}
	}
	if heapPages := s.PageTablePages + s.MemoryBlockPages + s.BlockInfoPages; heapPages > s.Size/platform.PageSize {
		return nil, &CorruptError{Section: "header", Reason: "heap pages exceed region"}
	}

	s.PageTableSlots = roaring.New()
	if _, err := s.PageTableSlots.ReadFrom(cr); err != nil {
		return nil, &CorruptError{Section: "page-table slots", Reason: err.Error()}
	}
	s.MemoryBlockSlots = roaring.New()
	if _, err := s.MemoryBlockSlots.ReadFrom(cr); err != nil {
		return nil, &CorruptError{Section: "memory-block slots", Reason: err.Error()}
	}
	s.BlockInfoSlots = roaring.New()
	if _, err := s.BlockInfoSlots.ReadFrom(cr); err != nil {
		return nil, &CorruptError{Section: "block-info slots", Reason: err.Error()}
	}

	region, err := readRegion(cr, s.Size, compression)
	if err != nil {
		return nil, err
	}
	s.Region = region

	// The footer never runs through the checksumming reader.
	var footer [4]byte
	if _, err := io.ReadFull(r, footer[:]); err != nil {
		return nil, &CorruptError{Section: "footer", Reason: "truncated"}
	}
	if err := cr.Verify(binary.LittleEndian.Uint32(footer[:])); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
