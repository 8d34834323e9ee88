package offheap

import (
	"errors"
	"fmt"

	"github.com/hupe1980/offheap/internal/heap"
	"github.com/hupe1980/offheap/internal/layout"
)

var (
	// ErrMappingFailed is matched by every *MappingError.
	ErrMappingFailed = errors.New("offheap: mapping failed")
	// ErrNullMapping is returned when the platform hands back no usable memory.
	ErrNullMapping = errors.New("offheap: null mapping")
	// ErrShortFile is returned by Attach when the file is smaller than the value.
	ErrShortFile = errors.New("offheap: file shorter than value")
	// ErrReleased is returned (or panicked) when a released handle is used.
	ErrReleased = errors.New("offheap: handle released")

	// ErrNotFlat is matched when a type embeds Go pointers.
	ErrNotFlat = layout.ErrNotFlat
	// ErrDoubleFree is returned when storage is released through more than one alias.
	ErrDoubleFree = heap.ErrDoubleFree
	// ErrInvalidAddress is returned when releasing an address the heap never handed out.
	ErrInvalidAddress = heap.ErrInvalidAddress
)

// MappingError reports a failure to map a value into a file.
//
// The file and initial value passed to Map are still owned by the caller.
// The underlying error (if any) can be accessed via errors.Unwrap.
type MappingError struct {
	Op   string // "stat", "truncate", "mmap" or "attach"
	Name string // file name
	Size int    // requested mapping size
	Err  error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("offheap: %s %s (%d bytes): %v", e.Op, e.Name, e.Size, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// Is reports whether target is ErrMappingFailed.
func (e *MappingError) Is(target error) bool { return target == ErrMappingFailed }

// AllocError is the panic value of New when the heap cannot provide storage.
//
// The original underlying error can be accessed via errors.Unwrap.
type AllocError struct {
	Type string
	Size int
	Err  error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("offheap: allocating %s (%d bytes): %v", e.Type, e.Size, e.Err)
}

func (e *AllocError) Unwrap() error { return e.Err }
