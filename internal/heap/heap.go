package heap

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hupe1980/offheap/internal/mmap"
)

// MemoryAcquirer is an interface for acquiring memory.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrClosed is returned by operations on a closed heap.
	ErrClosed = errors.New("heap: closed")
	// ErrDoubleFree is returned when a block is freed more than once.
	ErrDoubleFree = errors.New("heap: double free")
	// ErrInvalidAddress is returned when freeing an address the heap never handed out.
	ErrInvalidAddress = errors.New("heap: invalid address")
)

const (
	// DefaultChunkSize is the default slab size (1MB).
	DefaultChunkSize = 1024 * 1024
	// acquireTimeout bounds budget waits when the caller's context has no deadline.
	acquireTimeout = 100 * time.Millisecond
)

// Stats tracks heap memory usage.
//
//   - Slabs: slabs currently mapped
//   - LargeBlocks: dedicated large mappings currently live
//   - BytesReserved: total memory mapped from the OS
//   - BytesInUse: block bytes currently handed out (after rounding)
//   - LiveBlocks: blocks currently handed out
//   - TotalAllocs, TotalFrees: cumulative counts
type Stats struct {
	Slabs         uint64
	LargeBlocks   uint64
	BytesReserved uint64
	BytesInUse    uint64
	LiveBlocks    uint64
	TotalAllocs   uint64
	TotalFrees    uint64
}

type atomicStats struct {
	Slabs         atomic.Uint64
	LargeBlocks   atomic.Uint64
	BytesReserved atomic.Uint64
	BytesInUse    atomic.Uint64
	LiveBlocks    atomic.Uint64
	TotalAllocs   atomic.Uint64
	TotalFrees    atomic.Uint64
}

type sizeClass struct {
	free  []uintptr // released blocks, reused LIFO
	slabs []*slab
}

// Heap is an off-heap allocator with per-block free.
type Heap struct {
	chunkSize int
	pageSize  int
	acquirer  MemoryAcquirer

	mu      sync.Mutex
	classes [numClasses]sizeClass
	slabs   []*slab // all slabs, sorted by base address
	large   map[uintptr]*largeBlock
	closed  bool
	stats   atomicStats

	generation uint64 // last generation handed out, guarded by mu
}

// largeBlock is a dedicated mapping for a request above MaxSmallSize.
type largeBlock struct {
	mapping *mmap.Mapping
	gen     uint64
}

// Option is a configuration option for Heap.
type Option func(*Heap)

// WithChunkSize sets the slab size. It is rounded up to a power of two and
// never smaller than MaxSmallSize.
func WithChunkSize(size int) Option {
	return func(h *Heap) {
		h.chunkSize = size
	}
}

// WithMemoryAcquirer sets the memory budget every mapping is reserved from.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(h *Heap) {
		h.acquirer = acquirer
	}
}

// New creates a new Heap. No memory is mapped until the first allocation.
func New(opts ...Option) *Heap {
	h := &Heap{
		chunkSize: DefaultChunkSize,
		pageSize:  os.Getpagesize(),
		large:     make(map[uintptr]*largeBlock),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.chunkSize < MaxSmallSize {
		h.chunkSize = MaxSmallSize
	}
	h.chunkSize = 1 << bits.Len(uint(h.chunkSize-1)) //nolint:gosec // chunkSize > 0

	return h
}

var (
	defaultOnce sync.Once
	defaultHeap *Heap
)

// Default returns the process-global heap.
func Default() *Heap {
	defaultOnce.Do(func() {
		defaultHeap = New()
	})
	return defaultHeap
}

// ChunkSize returns the slab size.
func (h *Heap) ChunkSize() int {
	return h.chunkSize
}

// Alloc allocates size bytes and returns the block address.
// The block is zeroed. A zero or negative size allocates the smallest block.
func (h *Heap) Alloc(size int) (uintptr, error) {
	return h.AllocContext(context.Background(), size)
}

// AllocContext allocates with a context bounding any wait for memory budget.
//
// Budget is reserved without holding the heap lock, so a concurrent Free can
// return the memory a waiting allocation needs.
func (h *Heap) AllocContext(ctx context.Context, size int) (uintptr, error) {
	if size <= 0 {
		size = 1
	}
	if size > MaxSmallSize {
		return h.allocLarge(ctx, size)
	}

	class := classOf(size)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrClosed
	}
	if s, slot, ok := h.takeCached(class); ok {
		addr := h.handOut(s, slot)
		h.mu.Unlock()
		return addr, nil
	}
	h.mu.Unlock()

	if err := h.acquire(ctx, h.chunkSize); err != nil {
		return 0, err
	}
	mapping, err := mmap.MapAnon(h.chunkSize)
	if err != nil {
		h.release(h.chunkSize)
		return 0, fmt.Errorf("heap: failed to map slab: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		h.discard(mapping)
		return 0, ErrClosed
	}
	// Another goroutine may have freed or mapped a block meanwhile.
	if s, slot, ok := h.takeCached(class); ok {
		h.discard(mapping)
		return h.handOut(s, slot), nil
	}

	s := h.addSlab(mapping, class)
	slot, _ := s.bump()
	return h.handOut(s, slot), nil
}

// takeCached reuses a freed block or bumps the newest slab of the class.
func (h *Heap) takeCached(class int) (*slab, uint32, bool) {
	sc := &h.classes[class]

	if n := len(sc.free); n > 0 {
		addr := sc.free[n-1]
		sc.free = sc.free[:n-1]

		s := h.find(addr)
		slot, _ := s.slot(addr)
		return s, slot, true
	}

	// Only the newest slab of a class can have untouched blocks left.
	if n := len(sc.slabs); n > 0 {
		s := sc.slabs[n-1]
		if slot, ok := s.bump(); ok {
			return s, slot, true
		}
	}
	return nil, 0, false
}

// handOut marks slot live under a fresh generation.
func (h *Heap) handOut(s *slab, slot uint32) uintptr {
	s.live.Add(slot)
	s.gens[slot] = h.nextGeneration()

	h.allocated(s.blockSize)
	return s.addr(slot)
}

func (h *Heap) nextGeneration() uint64 {
	h.generation++
	return h.generation
}

func (h *Heap) allocated(bytes int) {
	h.stats.BytesInUse.Add(uint64(bytes)) //nolint:gosec // bytes > 0
	h.stats.LiveBlocks.Add(1)
	h.stats.TotalAllocs.Add(1)
}

// discard unmaps a mapping that was never handed out.
func (h *Heap) discard(mapping *mmap.Mapping) {
	n := mapping.Size()
	_ = mapping.Close()
	h.release(n)
}

func (h *Heap) addSlab(mapping *mmap.Mapping, class int) *slab {
	s := newSlab(mapping, class)

	i := sort.Search(len(h.slabs), func(i int) bool { return h.slabs[i].base > s.base })
	h.slabs = slices.Insert(h.slabs, i, s)
	h.classes[class].slabs = append(h.classes[class].slabs, s)

	h.stats.Slabs.Add(1)
	h.stats.BytesReserved.Add(uint64(h.chunkSize)) //nolint:gosec // chunkSize > 0
	return s
}

func (h *Heap) allocLarge(ctx context.Context, size int) (uintptr, error) {
	n := roundUp(size, h.pageSize)

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	if err := h.acquire(ctx, n); err != nil {
		return 0, err
	}
	mapping, err := mmap.MapAnon(n)
	if err != nil {
		h.release(n)
		return 0, fmt.Errorf("heap: failed to map %d bytes: %w", n, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		h.discard(mapping)
		return 0, ErrClosed
	}

	addr := uintptr(unsafe.Pointer(&mapping.Bytes()[0])) //nolint:gosec // off-heap address
	h.large[addr] = &largeBlock{mapping: mapping, gen: h.nextGeneration()}

	h.stats.LargeBlocks.Add(1)
	h.stats.BytesReserved.Add(uint64(n)) //nolint:gosec // n > 0
	h.allocated(n)
	return addr, nil
}

// Free returns the block at addr to the heap.
func (h *Heap) Free(addr uintptr) error {
	if addr == 0 {
		return fmt.Errorf("%w: nil address", ErrInvalidAddress)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	if b, ok := h.large[addr]; ok {
		delete(h.large, addr)
		n := b.mapping.Size()
		err := b.mapping.Close()
		h.release(n)

		h.stats.LargeBlocks.Add(^uint64(0))
		h.stats.BytesReserved.Add(-uint64(n)) //nolint:gosec // n > 0
		h.freed(n)
		return err
	}

	s, slot, err := h.lookupSlab(addr)
	if err != nil {
		return err
	}

	s.live.Remove(slot)
	clear(s.block(addr))
	h.freed(s.blockSize)

	sc := &h.classes[s.class]
	if s.live.IsEmpty() && len(sc.slabs) > 1 {
		return h.unmapSlab(s)
	}
	sc.free = append(sc.free, addr)
	return nil
}

func (h *Heap) freed(bytes int) {
	h.stats.BytesInUse.Add(-uint64(bytes)) //nolint:gosec // bytes > 0
	h.stats.LiveBlocks.Add(^uint64(0))
	h.stats.TotalFrees.Add(1)
}

// unmapSlab gives an empty slab back to the OS. Its blocks are dropped from
// the free list first so they can never be handed out again.
func (h *Heap) unmapSlab(s *slab) error {
	sc := &h.classes[s.class]
	sc.free = slices.DeleteFunc(sc.free, s.contains)
	sc.slabs = slices.DeleteFunc(sc.slabs, func(o *slab) bool { return o == s })
	h.slabs = slices.DeleteFunc(h.slabs, func(o *slab) bool { return o == s })

	err := s.mapping.Close()
	h.release(h.chunkSize)

	h.stats.Slabs.Add(^uint64(0))
	h.stats.BytesReserved.Add(-uint64(h.chunkSize)) //nolint:gosec // chunkSize > 0
	return err
}

// find returns the slab containing addr, or nil.
func (h *Heap) find(addr uintptr) *slab {
	i := sort.Search(len(h.slabs), func(i int) bool { return h.slabs[i].base > addr }) - 1
	if i < 0 {
		return nil
	}
	if s := h.slabs[i]; s.contains(addr) {
		return s
	}
	return nil
}

// lookupSlab resolves addr to a live slab block.
func (h *Heap) lookupSlab(addr uintptr) (*slab, uint32, error) {
	s := h.find(addr)
	if s == nil {
		return nil, 0, fmt.Errorf("%w: %#x", ErrInvalidAddress, addr)
	}
	slot, ok := s.slot(addr)
	if !ok || slot >= s.next {
		return nil, 0, fmt.Errorf("%w: %#x", ErrInvalidAddress, addr)
	}
	if !s.live.Contains(slot) {
		return nil, 0, fmt.Errorf("%w: %#x", ErrDoubleFree, addr)
	}
	return s, slot, nil
}

// generationOf returns the generation of the live block at addr.
func (h *Heap) generationOf(addr uintptr) (uint64, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if b, ok := h.large[addr]; ok {
		return b.gen, nil
	}
	s, slot, err := h.lookupSlab(addr)
	if err != nil {
		return 0, err
	}
	return s.gens[slot], nil
}

// Generation returns the generation stamped on the live block at addr when
// it was handed out. Every allocation gets a new generation, so a block
// reused after Free can be told apart from its previous owner.
func (h *Heap) Generation(addr uintptr) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generationOf(addr)
}

// Check reports whether addr is the start of a live block of this heap.
// It returns nil, ErrDoubleFree for a freed slab block, or ErrInvalidAddress.
func (h *Heap) Check(addr uintptr) error {
	return h.CheckGeneration(addr, 0)
}

// CheckGeneration is like Check, and additionally reports ErrDoubleFree when
// the block was freed and handed out again since gen was observed. A zero gen
// skips the generation check.
func (h *Heap) CheckGeneration(addr uintptr, gen uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur, err := h.generationOf(addr)
	if err != nil {
		return err
	}
	if gen != 0 && cur != gen {
		return fmt.Errorf("%w: %#x reused (generation %d, now %d)", ErrDoubleFree, addr, gen, cur)
	}
	return nil
}

// Owns reports whether addr is the start of a live block of this heap.
func (h *Heap) Owns(addr uintptr) bool {
	return h.Check(addr) == nil
}

func (h *Heap) acquire(ctx context.Context, n int) error {
	if h.acquirer == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, acquireTimeout)
		defer cancel()
	}
	if err := h.acquirer.AcquireMemory(ctx, int64(n)); err != nil {
		return fmt.Errorf("heap: reserve %d bytes: %w", n, err)
	}
	return nil
}

func (h *Heap) release(n int) {
	if h.acquirer != nil {
		h.acquirer.ReleaseMemory(int64(n))
	}
}

// Stats returns the current heap statistics.
func (h *Heap) Stats() Stats {
	return Stats{
		Slabs:         h.stats.Slabs.Load(),
		LargeBlocks:   h.stats.LargeBlocks.Load(),
		BytesReserved: h.stats.BytesReserved.Load(),
		BytesInUse:    h.stats.BytesInUse.Load(),
		LiveBlocks:    h.stats.LiveBlocks.Load(),
		TotalAllocs:   h.stats.TotalAllocs.Load(),
		TotalFrees:    h.stats.TotalFrees.Load(),
	}
}

// Close unmaps every slab and large block.
//
// All addresses handed out by the heap become invalid. Close must not run
// concurrently with code still touching those blocks.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	for _, s := range h.slabs {
		errs = append(errs, s.mapping.Close())
		h.release(h.chunkSize)
	}
	for addr, b := range h.large {
		n := b.mapping.Size()
		errs = append(errs, b.mapping.Close())
		h.release(n)
		delete(h.large, addr)
	}
	h.slabs = nil
	h.classes = [numClasses]sizeClass{}

	h.stats.Slabs.Store(0)
	h.stats.LargeBlocks.Store(0)
	h.stats.BytesReserved.Store(0)
	h.stats.BytesInUse.Store(0)
	h.stats.LiveBlocks.Store(0)

	return errors.Join(errs...)
}

func (h *Heap) String() string {
	stats := h.Stats()
	return fmt.Sprintf(
		"Heap{slabs: %d, large: %d, reserved: %.2f MB, in use: %.2f MB, live: %d, allocs: %d, frees: %d}",
		stats.Slabs,
		stats.LargeBlocks,
		float64(stats.BytesReserved)/(1024*1024),
		float64(stats.BytesInUse)/(1024*1024),
		stats.LiveBlocks,
		stats.TotalAllocs,
		stats.TotalFrees,
	)
}
