// Package conv provides checked narrowing conversions at the boundary
// between emulated quantities (uint64 sizes and addresses) and host types
// (slice lengths, ledger amounts).
//
// Conversions that are provably in range by domain constraints, such as loop
// indices and bounded counters, use direct casts instead.
package conv
