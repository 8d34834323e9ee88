package offheap

import (
	"context"
	"log/slog"
	"reflect"
	"unsafe"

	"github.com/hupe1980/offheap/internal/layout"
)

// Dropper is implemented by values that own resources which must be released
// exactly once when the value is destroyed. The library calls Drop on the
// stored copy, never on the value originally passed in.
type Dropper interface {
	Drop()
}

// Cloner is implemented by values that need more than a bitwise copy to be
// duplicated, typically because they own other off-heap storage.
type Cloner[T any] interface {
	Clone() T
}

// CheckFlat reports whether T can be stored off-heap.
//
// T must be flat: built only from booleans, numbers, arrays and structs. Go
// pointers, slices, strings, maps, channels, funcs and interfaces are
// rejected because the garbage collector cannot see off-heap memory and
// another process cannot follow a pointer into this one. Owned off-heap
// storage can be embedded as a uintptr obtained from Handle.IntoRaw.
func CheckFlat[T any]() error {
	return layout.Check(reflect.TypeFor[T]())
}

// SizeOf returns the number of bytes a T occupies off-heap.
func SizeOf[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// flatSize returns the size of T, or an error if T is not flat.
func flatSize[T any]() (int, error) {
	info, err := layout.Of[T]()
	if err != nil {
		return 0, err
	}
	return int(info.Size), nil //nolint:gosec // type sizes fit in int
}

// typedLogger tags l with T's name unless l discards everything.
func typedLogger[T any](l *Logger) *Logger {
	if !l.Enabled(context.Background(), slog.LevelError) {
		return l
	}
	return l.WithType(typeName[T]())
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

// drop runs the destruction logic of the value at p, if it has any.
func drop[T any](p *T) {
	if d, ok := any(p).(Dropper); ok {
		d.Drop()
	}
}

// noCopy may be added to structs which must not be copied after first use.
// It is recognized by the copylocks checker of go vet.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
