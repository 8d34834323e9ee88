package offheap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hupe1980/offheap/internal/fs"
	"github.com/hupe1980/offheap/internal/mmap"
)

// File is an open file a value can be mapped into. *os.File satisfies it.
type File = fs.File

// FileSystem opens files for OpenFile and AttachFile.
type FileSystem = fs.FileSystem

// AccessPattern is a paging hint passed to Advise.
type AccessPattern = mmap.AccessPattern

// Access patterns for Advise.
const (
	AccessDefault    = mmap.AccessDefault
	AccessSequential = mmap.AccessSequential
	AccessRandom     = mmap.AccessRandom
	AccessWillNeed   = mmap.AccessWillNeed
	AccessDontNeed   = mmap.AccessDontNeed
)

// FileValue stores one T in a shared mapping of a file.
//
// Bytes [0, SizeOf[T]()) of the file are exactly T's in-memory
// representation: no header, no version, no byte-order marker. The file can
// therefore only be shared between processes built for the same
// architecture with the same definition of T.
//
// Writes through Get are visible to every other mapping of the same file.
// FileValue provides no locking; concurrent writers must coordinate
// externally.
//
// Close releases the value explicitly. A FileValue that becomes unreachable
// without Close is released by the runtime the same way (and reported through
// the Logger). Pointers returned by Get are invisible to the garbage
// collector, so they keep nothing alive: keep the FileValue reachable for as
// long as they are used, typically with a deferred Close or runtime.KeepAlive.
type FileValue[T any] struct {
	_       noCopy
	ptr     *T
	state   *fileState
	cleanup runtime.Cleanup
}

// fileState is everything the release path needs. It must never reference
// the FileValue, so the runtime cleanup can run once the value is unreachable.
type fileState struct {
	file     File
	mapping  *mmap.Mapping
	size     int
	owner    bool
	drop     func()
	released atomic.Bool
	o        options
}

// Map maps f and moves initial into it.
//
// The file is grown to SizeOf[T]() bytes when shorter. On success the
// FileValue owns f and the stored copy owns whatever initial owned. On
// failure Map returns a *MappingError matching ErrMappingFailed, and both f
// and initial remain the caller's to dispose of.
func Map[T any](f File, initial T, opts ...Option) (*FileValue[T], error) {
	o := applyOptions(opts)
	o.logger = typedLogger[T](o.logger)
	size, err := flatSize[T]()
	if err != nil {
		return nil, err
	}

	mapping, err := mapFile(f, size, true, o)
	if err != nil {
		return nil, err
	}

	p := (*T)(unsafe.Pointer(&mapping.Bytes()[0])) //nolint:gosec // mapping is at least SizeOf[T] bytes
	*p = initial

	return newFileValue(f, mapping, p, true, o), nil
}

// Attach maps a file that already holds a T, for example one written by an
// earlier process, without overwriting it.
//
// An attached view does not own the stored value: Close unmaps the region
// and closes f but does not run the value's Drop.
func Attach[T any](f File, opts ...Option) (*FileValue[T], error) {
	o := applyOptions(opts)
	o.logger = typedLogger[T](o.logger)
	size, err := flatSize[T]()
	if err != nil {
		return nil, err
	}

	mapping, err := mapFile(f, size, false, o)
	if err != nil {
		return nil, err
	}

	p := (*T)(unsafe.Pointer(&mapping.Bytes()[0])) //nolint:gosec // mapping is at least SizeOf[T] bytes
	return newFileValue(f, mapping, p, false, o), nil
}

// OpenFile opens (creating if needed) the file at path and maps initial into
// it. The file is closed again if mapping fails.
func OpenFile[T any](path string, initial T, opts ...Option) (*FileValue[T], error) {
	o := applyOptions(opts)
	f, err := o.fileSystem.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &MappingError{Op: "open", Name: path, Size: SizeOf[T](), Err: err}
	}

	v, err := Map(f, initial, opts...)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	return v, nil
}

// AttachFile opens the existing file at path and attaches to the T it holds.
func AttachFile[T any](path string, opts ...Option) (*FileValue[T], error) {
	o := applyOptions(opts)
	f, err := o.fileSystem.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &MappingError{Op: "open", Name: path, Size: SizeOf[T](), Err: err}
	}

	v, err := Attach[T](f, opts...)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	return v, nil
}

func mapFile(f File, size int, grow bool, o options) (m *mmap.Mapping, err error) {
	if f == nil {
		return nil, &MappingError{Op: "stat", Size: size, Err: os.ErrInvalid}
	}
	if osf, ok := f.(*os.File); ok && osf == nil {
		return nil, &MappingError{Op: "stat", Size: size, Err: os.ErrInvalid}
	}

	name := f.Name()
	start := time.Now()
	defer func() {
		o.metricsCollector.RecordMap(size, time.Since(start), err)
		o.logger.LogMap(context.Background(), name, size, err)
	}()

	fail := func(op string, err error) error {
		return &MappingError{Op: op, Name: name, Size: size, Err: err}
	}

	if size == 0 {
		return nil, fail("mmap", mmap.ErrInvalidSize)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, fail("stat", err)
	}
	if fi.Size() < int64(size) {
		if !grow {
			return nil, fail("attach", fmt.Errorf("%w: have %d bytes", ErrShortFile, fi.Size()))
		}
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fail("truncate", err)
		}
	}

	m, err = mmap.MapFile(f, size, mmap.ReadWrite)
	if err != nil {
		if errors.Is(err, mmap.ErrNullMapping) {
			err = errors.Join(ErrNullMapping, err)
		}
		return nil, fail("mmap", err)
	}
	return m, nil
}

func newFileValue[T any](f File, mapping *mmap.Mapping, p *T, owner bool, o options) *FileValue[T] {
	state := &fileState{
		file:    f,
		mapping: mapping,
		size:    mapping.Size(),
		owner:   owner,
		o:       o,
	}
	if owner {
		state.drop = func() { drop(p) }
	}

	v := &FileValue[T]{ptr: p, state: state}
	v.cleanup = runtime.AddCleanup(v, func(s *fileState) {
		s.o.logger.LogUnclosed(context.Background(), s.file.Name(), s.size)
		_ = s.release()
	}, state)
	return v
}

func (s *fileState) release() (err error) {
	if s.released.Swap(true) {
		return nil
	}

	defer func() {
		s.o.metricsCollector.RecordUnmap(s.size, err)
		s.o.logger.LogUnmap(context.Background(), s.file.Name(), s.size, err)
	}()

	// Unmap and close even if Drop panics.
	defer func() {
		err = errors.Join(s.mapping.Close(), s.file.Close())
	}()
	if s.drop != nil {
		s.drop()
	}
	return nil
}

// Get returns a pointer into the mapped region. It is valid until Close, and
// only while v itself is reachable: the pointer does not keep v alive, and
// an unreachable v is released by the runtime.
//
// Get panics with ErrReleased once the value has been closed.
func (v *FileValue[T]) Get() *T {
	if v.state.released.Load() {
		panic(ErrReleased)
	}
	return v.ptr
}

// Load returns a copy of the mapped value.
func (v *FileValue[T]) Load() T {
	return *v.Get()
}

// Store replaces the mapped value with x. When this FileValue owns the value,
// the previous value is destroyed first.
func (v *FileValue[T]) Store(x T) {
	p := v.Get()
	if v.state.owner {
		drop(p)
	}
	*p = x
}

// Bytes returns the mapped region, i.e. the persisted layout of the value.
// It returns nil after Close.
func (v *FileValue[T]) Bytes() []byte {
	return v.state.mapping.Bytes()
}

// File returns the underlying file. It is closed by Close.
func (v *FileValue[T]) File() File {
	return v.state.file
}

// Size returns the size of the mapped region in bytes.
func (v *FileValue[T]) Size() int {
	return v.state.size
}

// Owner reports whether this FileValue owns the stored value (created by
// Map) rather than observing it (created by Attach).
func (v *FileValue[T]) Owner() bool {
	return v.state.owner
}

// Released reports whether Close has been called.
func (v *FileValue[T]) Released() bool {
	return v.state.released.Load()
}

// Flush writes modified pages of the region back to the file, syncs the file
// and waits for completion. It waits on the IO limit configured with WithResourceController.
func (v *FileValue[T]) Flush(ctx context.Context) (err error) {
	if v.state.released.Load() {
		return ErrReleased
	}

	s := v.state
	start := time.Now()
	defer func() {
		s.o.metricsCollector.RecordFlush(s.size, time.Since(start), err)
		s.o.logger.LogFlush(ctx, s.file.Name(), s.size, err)
	}()

	if err := s.o.resources.AcquireIO(ctx, s.size); err != nil {
		return err
	}
	if err := s.mapping.Sync(); err != nil {
		return err
	}
	return s.file.Sync()
}

// WriteTo writes the persisted layout of the value to w, subject to the IO
// limit configured with WithResourceController.
func (v *FileValue[T]) WriteTo(w io.Writer) (int64, error) {
	if v.state.released.Load() {
		return 0, ErrReleased
	}
	n, err := v.state.o.resources.Writer(context.Background(), w).Write(v.state.mapping.Bytes())
	return int64(n), err
}

// Advise hints the kernel about how the region will be accessed.
func (v *FileValue[T]) Advise(pattern AccessPattern) error {
	if v.state.released.Load() {
		return ErrReleased
	}
	return v.state.mapping.Advise(pattern)
}

// Close destroys the value (when owned), unmaps the region and closes the
// file. It is idempotent.
func (v *FileValue[T]) Close() error {
	v.cleanup.Stop()
	return v.state.release()
}

func (v *FileValue[T]) String() string {
	return fmt.Sprintf("FileValue[%s]{file: %s, size: %d, owner: %t, released: %t}",
		typeName[T](), v.state.file.Name(), v.state.size, v.state.owner, v.Released())
}
