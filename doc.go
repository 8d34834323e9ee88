// Package offheap places single values of flat types outside the Go garbage
// collector's reach.
//
// Two ownership primitives are provided:
//
//   - Handle[T] moves a value into manually managed off-heap storage. The
//     caller releases it exactly once with Release (or ties it to a function
//     call with Scoped). Forgetting to release leaks the storage.
//   - FileValue[T] stores a value in a shared memory mapping of a file, so
//     other processes, or a later run of the same program, observe the same
//     bytes. Close (or the garbage collector, if Close is never called)
//     destroys the value, unmaps the region and closes the file.
//
// # Quick Start
//
//	h := offheap.New(Point{X: 1, Y: 2})
//	defer h.Release()
//	h.Get().X = 10
//
//	f, _ := os.OpenFile("counter.bin", os.O_RDWR|os.O_CREATE, 0o644)
//	v, err := offheap.Map(f, Counter{})
//	if err != nil {
//		// f is still ours
//	}
//	defer v.Close()
//	v.Get().N++
//
// Pointers returned by Get refer to memory the garbage collector does not
// track, so they do not keep their owner alive. A FileValue that becomes
// unreachable is released even while such a pointer is still in use; keep it
// reachable (defer v.Close(), or runtime.KeepAlive(v)) for as long as the
// pointer is used. A Handle is never released automatically.
//
// # Flat Types
//
// Only flat types can be stored: booleans, numbers, arrays and structs made of
// them. Go pointers, slices, strings, maps, channels, funcs and interfaces are
// rejected (ErrNotFlat), because off-heap memory is invisible to the garbage
// collector and a pointer means nothing in another process. Fixed-size text
// is stored as a byte array; owned off-heap buffers are stored as the
// uintptr returned by Handle.IntoRaw.
//
// The bytes of a FileValue are exactly the in-memory representation of T:
// there is no header, no version and no byte-order marker. Files are only
// portable between programs built for the same architecture that agree on
// the definition of T.
//
// # Destruction
//
// A type whose pointer implements Dropper has Drop called exactly once on the
// stored copy when it is released. Values are moved in by copy, so the value
// passed to New or Map must not be dropped by the caller afterwards. Clone
// uses Cloner when *T implements it and a bitwise copy otherwise.
//
// # Misuse
//
// Using a released handle panics with ErrReleased. Releasing the same storage
// through two handles (via Raw and FromRaw) returns ErrDoubleFree, also when
// the block was reused by a later New in between: every handle remembers the
// generation of its block. Releasing an address the heap never handed out
// returns ErrInvalidAddress. Get through a stale alias is not detected.
//
// # Resource Limits
//
// A Heap can be bound to a resource.Controller memory budget with
// WithMemoryLimit. Flush and WriteTo of file-backed values honor the
// controller's IO limit when configured with WithResourceController.
package offheap
