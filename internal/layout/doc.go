// Package layout decides whether a Go type is flat.
//
// A flat type has a self-contained, relocatable in-memory representation:
// booleans, fixed and platform-sized integers, floats, complex numbers, and
// arrays and structs built only from those. Anything that embeds a Go pointer
// (pointers, slices, strings, maps, channels, funcs, interfaces,
// unsafe.Pointer) is rejected, because the bytes are stored where the garbage
// collector cannot see them and may be observed by another process.
//
// Results are cached per reflect.Type.
package layout
