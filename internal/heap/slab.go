package heap

import (
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/offheap/internal/mmap"
)

// slab is a single anonymous mapping carved into equal blocks.
type slab struct {
	base      uintptr
	mapping   *mmap.Mapping
	class     int
	blockSize int
	nblocks   uint32
	next      uint32          // blocks [next, nblocks) have never been handed out
	live      *roaring.Bitmap // slot indices currently allocated
	gens      []uint64        // generation stamped on each slot when handed out
}

func newSlab(mapping *mmap.Mapping, class int) *slab {
	data := mapping.Bytes()
	blockSize := classSize(class)
	nblocks := len(data) / blockSize
	return &slab{
		base:      uintptr(unsafe.Pointer(&data[0])), //nolint:gosec // off-heap address
		mapping:   mapping,
		class:     class,
		blockSize: blockSize,
		nblocks:   uint32(nblocks), //nolint:gosec // bounded by chunk size
		live:      roaring.New(),
		gens:      make([]uint64, nblocks),
	}
}

func (s *slab) end() uintptr {
	return s.base + uintptr(s.mapping.Size())
}

func (s *slab) contains(addr uintptr) bool {
	return addr >= s.base && addr < s.end()
}

func (s *slab) addr(slot uint32) uintptr {
	return s.base + uintptr(slot)*uintptr(s.blockSize)
}

// slot maps an address to its block index. ok is false for interior pointers.
func (s *slab) slot(addr uintptr) (uint32, bool) {
	off := addr - s.base
	if off%uintptr(s.blockSize) != 0 {
		return 0, false
	}
	return uint32(off / uintptr(s.blockSize)), true //nolint:gosec // bounded by nblocks
}

// bump reserves a never-used slot, if any remain.
func (s *slab) bump() (uint32, bool) {
	if s.next >= s.nblocks {
		return 0, false
	}
	slot := s.next
	s.next++
	return slot, true
}

func (s *slab) block(addr uintptr) []byte {
	off := addr - s.base
	return s.mapping.Bytes()[off : off+uintptr(s.blockSize)]
}
