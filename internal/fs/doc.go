// Package fs provides the file abstraction used by file-backed values.
//
// The package defines two key interfaces:
//
//   - [File]: an open file that exposes its descriptor for mapping, can be
//     grown with Truncate and is closed with the value that owns it
//   - [FileSystem]: opens files by path and inspects them
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (simulate stat, truncate,
//     sync and close errors)
//
// # Usage
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("value.bin", fs.Fault{FailOnTruncate: true})
//
// # Design Notes
//
// This package intentionally does NOT include context.Context parameters.
// Opening and growing a local file is not interruptible at the syscall level.
package fs
