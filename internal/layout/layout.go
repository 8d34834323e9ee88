package layout

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
)

// ErrNotFlat is matched by every *Error.
var ErrNotFlat = errors.New("layout: type is not flat")

// Error describes the first non-flat component found in a type.
type Error struct {
	Type reflect.Type // the type that was checked
	Path string       // location of the offending component, e.g. "Header.Names[0]"
	Kind reflect.Kind // kind of the offending component
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("layout: %s is not flat: kind %s", e.Type, e.Kind)
	}
	return fmt.Sprintf("layout: %s is not flat: %s has kind %s", e.Type, e.Path, e.Kind)
}

// Is reports whether target is ErrNotFlat.
func (e *Error) Is(target error) bool { return target == ErrNotFlat }

// Info describes the representation of a flat type.
type Info struct {
	Size  uintptr
	Align uintptr
}

var cache sync.Map // reflect.Type -> error (nil for flat types)

// Check reports whether t is flat. It returns nil or an *Error.
func Check(t reflect.Type) error {
	if t == nil {
		return &Error{Kind: reflect.Invalid}
	}
	if v, ok := cache.Load(t); ok {
		if v == nil {
			return nil
		}
		return v.(error)
	}

	err := walk(t, t, "")
	if err != nil {
		cache.Store(t, err)
		return err
	}
	cache.Store(t, nil)
	return nil
}

// Of returns the layout of T, or an error if T is not flat.
func Of[T any]() (Info, error) {
	t := reflect.TypeFor[T]()
	if err := Check(t); err != nil {
		return Info{}, err
	}
	return Info{Size: t.Size(), Align: uintptr(t.Align())}, nil
}

// IsFixedKind reports whether k is a scalar kind with a fixed representation.
func IsFixedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	default:
		return false
	}
}

func walk(root, t reflect.Type, path string) error {
	k := t.Kind()
	if IsFixedKind(k) {
		return nil
	}

	switch k {
	case reflect.Array:
		// A zero-length array occupies no bytes, whatever its element.
		if t.Len() == 0 {
			return nil
		}
		return walk(root, t.Elem(), path+"[0]")
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			p := f.Name
			if f.Name == "_" {
				p = "_" + strconv.Itoa(i)
			}
			if path != "" {
				p = path + "." + p
			}
			if err := walk(root, f.Type, p); err != nil {
				return err
			}
		}
		return nil
	default:
		return &Error{Type: root, Path: path, Kind: k}
	}
}
