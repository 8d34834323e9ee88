package layout

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y float64
}

type record struct {
	ID     uint64
	Flags  [4]bool
	Origin point
	_      [3]byte
	Weight complex64
}

type withString struct {
	ID   int
	Name string
}

type nested struct {
	Inner struct {
		Items [2]struct {
			Ptr *int
		}
	}
}

func TestCheck_Flat(t *testing.T) {
	flat := []reflect.Type{
		reflect.TypeFor[bool](),
		reflect.TypeFor[int](),
		reflect.TypeFor[uintptr](),
		reflect.TypeFor[float32](),
		reflect.TypeFor[complex128](),
		reflect.TypeFor[[16]byte](),
		reflect.TypeFor[point](),
		reflect.TypeFor[record](),
		reflect.TypeFor[struct{}](),
		reflect.TypeFor[[0]*int](),
	}

	for _, typ := range flat {
		t.Run(typ.String(), func(t *testing.T) {
			assert.NoError(t, Check(typ))
		})
	}
}

func TestCheck_NotFlat(t *testing.T) {
	tests := []struct {
		typ  reflect.Type
		path string
		kind reflect.Kind
	}{
		{reflect.TypeFor[*int](), "", reflect.Pointer},
		{reflect.TypeFor[string](), "", reflect.String},
		{reflect.TypeFor[[]byte](), "", reflect.Slice},
		{reflect.TypeFor[map[int]int](), "", reflect.Map},
		{reflect.TypeFor[chan int](), "", reflect.Chan},
		{reflect.TypeFor[func()](), "", reflect.Func},
		{reflect.TypeFor[any](), "", reflect.Interface},
		{reflect.TypeFor[unsafe.Pointer](), "", reflect.UnsafePointer},
		{reflect.TypeFor[withString](), "Name", reflect.String},
		{reflect.TypeFor[[2]string](), "[0]", reflect.String},
		{reflect.TypeFor[nested](), "Inner.Items[0].Ptr", reflect.Pointer},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			err := Check(tt.typ)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotFlat)

			var le *Error
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.typ, le.Type)
			assert.Equal(t, tt.path, le.Path)
			assert.Equal(t, tt.kind, le.Kind)
		})
	}
}

func TestCheck_Cached(t *testing.T) {
	typ := reflect.TypeFor[withString]()

	first := Check(typ)
	second := Check(typ)
	require.Error(t, first)
	assert.Same(t, first.(*Error), second.(*Error))

	assert.NoError(t, Check(reflect.TypeFor[point]()))
	assert.NoError(t, Check(reflect.TypeFor[point]()))
}

func TestCheck_Nil(t *testing.T) {
	assert.ErrorIs(t, Check(nil), ErrNotFlat)
}

func TestOf(t *testing.T) {
	info, err := Of[record]()
	require.NoError(t, err)
	assert.Equal(t, unsafe.Sizeof(record{}), info.Size)
	assert.Equal(t, unsafe.Alignof(record{}), info.Align)

	_, err = Of[withString]()
	assert.ErrorIs(t, err, ErrNotFlat)
}

func TestError_Message(t *testing.T) {
	err := Check(reflect.TypeFor[withString]())
	assert.Contains(t, err.Error(), "Name has kind string")

	err = Check(reflect.TypeFor[*int]())
	assert.Contains(t, err.Error(), "is not flat: kind ptr")
}
