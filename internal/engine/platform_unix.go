//go:build !windows

package engine

const (
	// DefaultCleanRemap is false: mappings are independent of each other,
	// so growth only maps the new tail segments.
	DefaultCleanRemap = false

	canResizeOpenFile = true
)
