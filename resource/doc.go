// Package resource bounds the memory and IO consumed by off-heap values.
//
// A Controller carries two independent budgets:
//
//   - Memory: a weighted semaphore sized to MemoryLimitBytes. Heaps bound to a
//     controller reserve every slab and large block from it before mapping
//     memory, and give the bytes back when the mapping is released.
//   - IO: a token bucket of IOLimitBytesPerSec. File-backed values wait on it
//     before flushing or exporting their bytes.
//
// A nil *Controller is valid and imposes no limits.
package resource
