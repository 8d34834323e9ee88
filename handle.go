package offheap

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// Handle owns exactly one T stored on an off-heap Heap.
//
// The storage is never reclaimed automatically: Release must be called once,
// or the memory leaks (leaks are reported through the configured Logger when
// the handle itself is garbage collected). Use Scoped to tie the lifetime to
// a function call.
//
// A Handle must not be copied. Duplicating the pointee takes an explicit
// Clone; sharing the address takes an explicit Raw/FromRaw. Each handle
// remembers the generation of the block it wraps, so releasing storage
// through a second handle reports ErrDoubleFree, even after the heap has
// handed the block out again.
//
// Handle performs no synchronization of the stored value.
type Handle[T any] struct {
	_        noCopy
	ptr      *T
	addr     uintptr
	gen      uint64
	released atomic.Bool
	tracked  bool
	cleanup  runtime.Cleanup
	o        options
}

type leak struct {
	logger *Logger
	addr   uintptr
	size   int
}

// New moves v into freshly allocated off-heap storage.
//
// The bytes of v are copied as-is; from now on the stored copy owns whatever
// v owned, so the caller must not run v's destruction logic itself.
//
// Allocation failure is fatal: New panics with an *AllocError. It also panics
// if T is not flat (see CheckFlat).
func New[T any](v T, opts ...Option) *Handle[T] {
	o := applyOptions(opts)
	o.logger = typedLogger[T](o.logger)
	return alloc(v, o)
}

func alloc[T any](v T, o options) *Handle[T] {
	size, err := flatSize[T]()
	if err != nil {
		panic(err)
	}

	start := time.Now()
	addr, err := o.heap.h.Alloc(size)
	o.metricsCollector.RecordAlloc(size, time.Since(start), err)
	o.logger.LogAlloc(context.Background(), addr, size, err)
	if err != nil {
		panic(&AllocError{Type: typeName[T](), Size: size, Err: err})
	}

	h := wrap[T](addr, o)
	// The block was handed out just now; it cannot be stale.
	h.gen, _ = o.heap.h.Generation(addr)
	*h.ptr = v

	h.tracked = true
	h.cleanup = runtime.AddCleanup(h, func(l leak) {
		l.logger.LogLeak(context.Background(), l.addr, l.size)
	}, leak{logger: o.logger, addr: addr, size: size})

	return h
}

// FromRaw wraps an existing address as a handle without validating it.
//
// The address must point to a T allocated from the handle's heap (see
// WithHeap), typically one obtained from Raw or IntoRaw. The handle records
// the generation the block has at this moment: once the block is released
// and reused, Release through this handle returns ErrDoubleFree. Get does not
// perform that check. FromRaw panics if T is not flat.
func FromRaw[T any](addr uintptr, opts ...Option) *Handle[T] {
	if err := CheckFlat[T](); err != nil {
		panic(err)
	}
	o := applyOptions(opts)
	o.logger = typedLogger[T](o.logger)

	h := wrap[T](addr, o)
	// Zero for a block that is not live; Release then reports why.
	h.gen, _ = o.heap.h.Generation(addr)
	return h
}

func wrap[T any](addr uintptr, o options) *Handle[T] {
	return &Handle[T]{
		ptr:  (*T)(unsafe.Pointer(addr)), //nolint:govet,gosec // off-heap address, never moved by the GC
		addr: addr,
		o:    o,
	}
}

// Scoped moves v into a new handle, calls fn with it and releases the handle
// on every exit path of fn, including panics. fn may release the handle
// early; it is then not released again.
func Scoped[T any](v T, fn func(h *Handle[T]) error, opts ...Option) (err error) {
	h := New(v, opts...)
	defer func() {
		if !h.Released() {
			err = errors.Join(err, h.Release())
		}
	}()
	return fn(h)
}

// Get returns a pointer to the stored value. It is valid until Release.
//
// Get panics with ErrReleased once the handle has been released.
func (h *Handle[T]) Get() *T {
	if h.released.Load() {
		panic(ErrReleased)
	}
	return h.ptr
}

// Load returns a copy of the stored value.
func (h *Handle[T]) Load() T {
	return *h.Get()
}

// Store replaces the stored value with v. The previous value is destroyed
// first, so anything it owned is released.
func (h *Handle[T]) Store(v T) {
	p := h.Get()
	drop(p)
	*p = v
}

// Raw returns the address of the stored value.
//
// The address stays owned by the handle; use IntoRaw to give up ownership.
func (h *Handle[T]) Raw() uintptr {
	return h.addr
}

// IntoRaw consumes the handle without releasing the storage and returns its
// address. The caller becomes responsible for releasing it, usually through
// FromRaw(addr).Release().
func (h *Handle[T]) IntoRaw() uintptr {
	if h.released.Swap(true) {
		panic(ErrReleased)
	}
	h.untrack()
	return h.addr
}

// Size returns the number of bytes of the stored value.
func (h *Handle[T]) Size() int {
	return SizeOf[T]()
}

// Released reports whether the handle has been released or consumed.
func (h *Handle[T]) Released() bool {
	return h.released.Load()
}

// Clone returns a new, independent handle holding a duplicate of the stored
// value. The duplicate comes from Cloner.Clone when *T implements Cloner[T],
// otherwise it is a bitwise copy.
//
// Clone allocates from the same heap and panics like New on failure.
func (h *Handle[T]) Clone() *Handle[T] {
	p := h.Get()
	v := *p
	if c, ok := any(p).(Cloner[T]); ok {
		v = c.Clone()
	}
	return alloc(v, h.o)
}

// Release destroys the stored value and returns its storage to the heap.
//
// The value's Drop method (if any) runs exactly once. Releasing the same
// handle again returns ErrReleased. If the storage was already returned
// through another handle for the same address, Release returns ErrDoubleFree
// without running Drop, whether or not the block has been reused since.
func (h *Handle[T]) Release() (err error) {
	if h.released.Swap(true) {
		return ErrReleased
	}
	h.untrack()

	size := h.Size()
	defer func() {
		h.o.metricsCollector.RecordRelease(size, err)
		h.o.logger.LogRelease(context.Background(), h.addr, size, err)
	}()

	if err := h.o.heap.h.CheckGeneration(h.addr, h.gen); err != nil {
		return err
	}

	// Return the storage even if Drop panics.
	defer func() {
		if ferr := h.o.heap.h.Free(h.addr); ferr != nil {
			err = ferr
		}
	}()
	drop(h.ptr)
	return nil
}

func (h *Handle[T]) untrack() {
	if h.tracked {
		h.cleanup.Stop()
		h.tracked = false
	}
}

func (h *Handle[T]) String() string {
	return fmt.Sprintf("Handle[%s]{addr: %#x, size: %d, released: %t}",
		typeName[T](), h.addr, h.Size(), h.Released())
}
