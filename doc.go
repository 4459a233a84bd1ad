// Package segmap provides a segmented, memory-mapped, file-backed byte store.
//
// A Store exposes a flat, randomly addressable byte space. The space is kept
// in a single file that starts with a small header, followed by fixed-size
// segments that are memory-mapped independently. Growth maps further
// segments; trimming releases them and shrinks the file.
//
// # Quick Start
//
//	st := segmap.New("./data", "graph", segmap.WithSegmentSize(1<<20))
//	ok, err := st.LoadExisting()
//	if err != nil {
//	    return err
//	}
//	if !ok {
//	    if err := st.Create(1 << 20); err != nil {
//	        return err
//	    }
//	}
//	defer st.Close()
//
//	st.SetInt(0, 42)
//	st.SetBytes(1022, []byte{1, 2, 3, 4}, 4) // spans two segments
//	_ = st.Flush()
//
// # Layout
//
// The file starts with a HeaderOffset-byte header holding the file length
// and segment size at the last flush plus HeaderFields caller slots.
// Segment i covers logical bytes [i*size, (i+1)*size) and lives at file
// offset HeaderOffset + i*size.
//
// # Alignment
//
// SetInt, GetInt, SetShort and GetShort never split across segments. Keep
// fixed-width values out of the last bytes of a segment. SetBytes and
// GetBytes handle the boundary.
//
// # Growth
//
// GrowthIncremental maps only new tail segments and relies on existing
// shared mappings staying valid while the file grows. GrowthCleanRemap
// remaps everything on each growth. The default follows the platform.
//
// # Backup
//
// Backup streams a compressed image of a store to a blobstore.BlobStore
// (local directory, memory, S3 or MinIO); Restore rebuilds a store from it.
//
// # Concurrency
//
// A Store is not safe for concurrent use. Flush syncs dirty segments in
// parallel internally, bounded by the resource.Controller.
package segmap
