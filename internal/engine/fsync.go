package engine

import (
	"os"

	"github.com/hupe1980/segmap/internal/fs"
)

// SyncDir syncs a directory so that file creation and rename survive a crash.
func SyncDir(fsys fs.FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // Sync is the important operation
	return f.Sync()
}
