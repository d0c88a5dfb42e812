// Package hash provides the checksum primitives behind data integrity
// checks: CRC32 (IEEE) seals the savestate format, CRC32-Castagnoli backs
// S3 object integrity headers. Both run hardware accelerated on common CPUs
// through hash/crc32.
//
// TeeWriter and TeeReader keep a running checksum over streamed data, so
// integrity covers exactly the bytes that passed through a codec without
// buffering them a second time.
package hash
