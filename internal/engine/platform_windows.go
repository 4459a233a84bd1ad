//go:build windows

package engine

const (
	// DefaultCleanRemap is true: a file cannot be extended while views of it
	// are mapped, so growth releases everything and maps from scratch.
	DefaultCleanRemap = true

	// Shrinking a file with open views fails on Windows.
	canResizeOpenFile = false
)
