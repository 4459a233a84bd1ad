// Package segment tracks the mapped segments of one store file.
//
// A Table holds the mappings in index order together with a dirty set.
// Writers mark the segments they touch and FlushDirty syncs only those, in
// parallel up to the worker budget of a resource.Controller.
package segment
