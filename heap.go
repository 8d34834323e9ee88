package offheap

import (
	"sync"

	"github.com/hupe1980/offheap/internal/heap"
	"github.com/hupe1980/offheap/resource"
)

// HeapStats reports the memory held by a Heap.
type HeapStats = heap.Stats

// HeapOption configures a Heap.
type HeapOption = heap.Option

// Heap is the general-purpose off-heap allocator behind Handle.
//
// Memory is obtained from anonymous mappings and is invisible to the Go
// garbage collector. A Heap is safe for concurrent use.
type Heap struct {
	h *heap.Heap
}

// WithChunkSize sets the slab size used for small values.
func WithChunkSize(size int) HeapOption {
	return heap.WithChunkSize(size)
}

// WithMemoryLimit reserves every mapping the heap makes from rc's memory
// budget. Allocations that cannot be reserved fail, which is fatal for New.
func WithMemoryLimit(rc *resource.Controller) HeapOption {
	return func(h *heap.Heap) {
		if rc != nil {
			heap.WithMemoryAcquirer(rc)(h)
		}
	}
}

// NewHeap creates a private heap. No memory is mapped until the first
// allocation.
func NewHeap(opts ...HeapOption) *Heap {
	return &Heap{h: heap.New(opts...)}
}

var (
	defaultHeapOnce sync.Once
	defaultHeap     *Heap
)

// DefaultHeap returns the process-global heap.
func DefaultHeap() *Heap {
	defaultHeapOnce.Do(func() {
		defaultHeap = &Heap{h: heap.Default()}
	})
	return defaultHeap
}

// Stats returns the current heap statistics.
func (h *Heap) Stats() HeapStats {
	return h.h.Stats()
}

// Close unmaps all memory of the heap. Every handle allocated from it
// becomes invalid and must not be used or released afterwards.
func (h *Heap) Close() error {
	return h.h.Close()
}

func (h *Heap) String() string {
	return h.h.String()
}
