// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open backing file that can be mapped, synced and resized
//   - [FileSystem]: filesystem operations (open, remove, rename, stat, ...)
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility for fault injection (failing sync, truncate, rename, ...)
//
// # Usage
//
// Production code uses fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("graph", fs.Fault{FailOnTruncate: true})
//
// # Design Notes
//
// This package does not take context.Context parameters. Local filesystem
// calls are not interruptible at the syscall level.
package fs
