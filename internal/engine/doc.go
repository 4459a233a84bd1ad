// Package engine maps and unmaps the segments of a store file.
//
// The Mapper owns the growth and shrink paths:
//   - EnsureCapacity grows the file and maps the missing segments, either
//     incrementally or by tearing down and remapping everything
//   - TrimTo unmaps trailing segments and shrinks the file where the platform
//     allows resizing an open file
//   - ReleaseAll unmaps every segment
//
// Growth is all or nothing: when any segment fails to map, every segment
// mapped by that call is released again and the previous capacity is kept.
package engine
