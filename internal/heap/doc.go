// Package heap provides a general-purpose off-heap allocator.
//
// Memory comes from anonymous mappings (see internal/mmap), so it is never
// scanned or moved by the Go garbage collector and never freed behind the
// caller's back. Unlike an arena, every block can be returned individually.
//
// # Layout
//
//   - Small requests (up to MaxSmallSize) are rounded up to a power-of-two
//     size class and carved out of fixed-size slabs. Each slab serves a single
//     class and records its live blocks in a roaring bitmap.
//   - Large requests get a dedicated page-rounded mapping that is unmapped as
//     soon as the block is freed.
//
// # Safety
//
// Free validates every address: freeing a block twice reports ErrDoubleFree
// and an address that was never handed out reports ErrInvalidAddress. Nothing
// validates plain reads and writes through a stale address.
//
// # Concurrency
//
// A Heap is safe for concurrent use. The memory it hands out is not
// synchronized in any way.
package heap
