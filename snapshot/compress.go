package snapshot

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType selects the algorithm for the region payload.
type CompressionType uint8

const (
	// CompressionNone stores the region uncompressed.
	CompressionNone CompressionType = 0
	// CompressionLZ4 uses LZ4 block compression (fast, moderate ratio).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD uses ZSTD block compression (slower, better ratio).
	CompressionZSTD CompressionType = 2
)

// Valid reports whether the compression type is known.
func (c CompressionType) Valid() bool {
	return c <= CompressionZSTD
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// The region is encoded as a sequence of independently compressed blocks.
// Each block starts with an 8-byte header:
//
//	[UncompressedSize uint32][CompressedSize uint32][Data...]
//
// CompressedSize 0 means the block is stored uncompressed, which is also
// the fallback when compression does not pay (ratio above 0.9).
const (
	blockHeaderSize = 8
	regionBlockSize = 256 * 1024
)

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compressBlock encodes one block including its header. The data must fit
// in a uint32.
func compressBlock(data []byte, typ CompressionType) ([]byte, error) {
	var compressed []byte
	var err error

	switch typ {
	case CompressionLZ4:
		compressed, err = compressBlockLZ4(data)
	case CompressionZSTD:
		compressed, err = compressBlockZSTD(data)
	}
	if err != nil {
		return nil, err
	}

	// Store uncompressed when compression does not pay.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		result := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(result[4:], 0)
		copy(result[blockHeaderSize:], data)
		return result, nil
	}

	result := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(result[4:], uint32(len(compressed)))
	copy(result[blockHeaderSize:], compressed)
	return result, nil
}

func compressBlockLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return compressed[:n], nil
}

func compressBlockZSTD(data []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil), nil
}

// writeRegion writes the region payload as a block sequence.
func writeRegion(w io.Writer, region []byte, typ CompressionType) error {
	for off := 0; off < len(region); off += regionBlockSize {
		end := off + regionBlockSize
		if end > len(region) {
			end = len(region)
		}

		block, err := compressBlock(region[off:end], typ)
		if err != nil {
			return err
		}
		if _, err := w.Write(block); err != nil {
			return err
		}
	}
	return nil
}

// readRegion reads size bytes of region payload from a block sequence.
// Blocks decompress directly into the result buffer where the algorithm
// allows it.
func readRegion(r io.Reader, size uint64, typ CompressionType) ([]byte, error) {
	result := make([]byte, size)
	var hdr [blockHeaderSize]byte

	filled := uint64(0)
	for filled < size {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, &CorruptError{Section: "region", Reason: "truncated block header"}
		}
		uncompressedSize := uint64(binary.LittleEndian.Uint32(hdr[0:]))
		compressedSize := uint64(binary.LittleEndian.Uint32(hdr[4:]))

		if uncompressedSize == 0 || uncompressedSize > regionBlockSize {
			return nil, &CorruptError{Section: "region", Reason: "invalid block size"}
		}
		if uncompressedSize > size-filled {
			return nil, &CorruptError{Section: "region", Reason: "block overruns region"}
		}
		if compressedSize >= uncompressedSize {
			return nil, &CorruptError{Section: "region", Reason: "compressed block larger than payload"}
		}

		dst := result[filled : filled+uncompressedSize]

		if compressedSize == 0 {
			if _, err := io.ReadFull(r, dst); err != nil {
				return nil, &CorruptError{Section: "region", Reason: "truncated stored block"}
			}
			filled += uncompressedSize
			continue
		}

		compressed := make([]byte, compressedSize)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, &CorruptError{Section: "region", Reason: "truncated compressed block"}
		}

		switch typ {
		case CompressionLZ4:
			n, err := lz4.UncompressBlock(compressed, dst)
			if err != nil {
				return nil, &CorruptError{Section: "region", Reason: "lz4: " + err.Error()}
			}
			if uint64(n) != uncompressedSize {
				return nil, &CorruptError{Section: "region", Reason: "decompressed size mismatch"}
			}

		case CompressionZSTD:
			dec := getZstdDecoder()
			decoded, err := dec.DecodeAll(compressed, nil)
			putZstdDecoder(dec)
			if err != nil {
				return nil, &CorruptError{Section: "region", Reason: "zstd: " + err.Error()}
			}
			if uint64(len(decoded)) != uncompressedSize {
				return nil, &CorruptError{Section: "region", Reason: "decompressed size mismatch"}
			}
			copy(dst, decoded)

		default:
			// CompressionNone streams never carry compressed blocks.
			return nil, &CorruptError{Section: "region", Reason: "compressed block in uncompressed stream"}
		}

		filled += uncompressedSize
	}

	return result, nil
}
