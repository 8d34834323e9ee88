package mmap

import (
	"sync/atomic"
)

// Mapping represents a memory mapping.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	mode   Mode
	closed atomic.Bool
	// unmap is the platform-specific function to unmap the memory.
	unmap func([]byte) error
}

// MapFile maps the first size bytes of f.
//
// The file must already be at least size bytes long; touching pages beyond
// the end of the file raises SIGBUS on most platforms. ReadWrite mappings are
// shared (never copy-on-write).
func MapFile(f Fder, size int, mode Mode) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMap(f.Fd(), size, mode)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		if unmapFunc != nil {
			_ = unmapFunc(data)
		}
		return nil, ErrNullMapping
	}

	return &Mapping{
		data:  data,
		size:  size,
		mode:  mode,
		unmap: unmapFunc,
	}, nil
}

// MapAnon creates a read-write anonymous mapping of the given size.
// The memory is zeroed and lives outside the Go heap.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		if unmapFunc != nil {
			_ = unmapFunc(data)
		}
		return nil, ErrNullMapping
	}

	return &Mapping{
		data:  data,
		size:  size,
		mode:  ReadWrite,
		unmap: unmapFunc,
	}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Closed reports whether Close has been called.
func (m *Mapping) Closed() bool {
	return m.closed.Load()
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
// Accessing the slice after Close() results in undefined behavior (likely a crash).
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Mode returns the protection the mapping was created with.
func (m *Mapping) Mode() Mode {
	return m.mode
}

// Sync flushes modified pages of a file mapping back to the file.
// It is a no-op for read-only mappings.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.mode != ReadWrite || len(m.data) == 0 {
		return nil
	}
	return osSync(m.data)
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil {
		return nil
	}
	return osAdvise(m.data, pattern)
}
