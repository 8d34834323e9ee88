// Package mmap provides memory mappings for off-heap values.
//
// # Overview
//
// Two kinds of mappings are supported:
//
//   - MapFile maps the first size bytes of an open file. Writable mappings are
//     shared, so stores are visible to every other mapper of the same file and
//     are eventually written back to it.
//   - MapAnon maps private anonymous memory outside the Go garbage collector's
//     control. The heap allocator obtains its slabs this way.
//
// # Usage
//
//	m, err := mmap.MapFile(f, size, mmap.ReadWrite)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//	copy(data, value)
//
//	// Push dirty pages to the file
//	m.Sync()
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), msync(2) and madvise(2)
//   - Windows: CreateFileMapping/MapViewOfFile, FlushViewOfFile and
//     VirtualAlloc for anonymous memory (madvise is a no-op)
//
// # Thread Safety
//
// Close is idempotent and protected by atomic operations. Callers must ensure
// no goroutine touches Bytes() after Close() returns. The mapping provides no
// synchronization for the mapped bytes themselves.
package mmap
