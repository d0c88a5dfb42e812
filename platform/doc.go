// Package platform defines the boundary between the resource manager and the
// emulated hardware: the memory pool classifier, emulated physical addresses,
// and the Allocator interface through which secure regions are carved out of
// device memory and translated back into host bytes.
//
// # Device Memory
//
// DeviceMemory is the production Allocator. It emulates DRAM with a single
// anonymous memory mapping, partitions it into pools according to a
// PoolLayout, and serves page-granular first-fit allocations from each pool.
// The applet pool is special: it is a fixed pre-reserved carveout with a
// single owner, claimed and released as a whole.
//
// Alternative Allocator implementations plug in for testing; see the
// testutil package.
package platform
