package storage

import (
	"errors"
	"io/fs"
	"os"
)

// sidecarSuffixes are the files SQLite keeps next to the database in WAL mode.
var sidecarSuffixes = []string{"", "-wal", "-shm"}

// databaseFiles lists the database file and its WAL sidecars.
func databaseFiles(path string) []string {
	files := make([]string, 0, len(sidecarSuffixes))
	for _, suffix := range sidecarSuffixes {
		files = append(files, path+suffix)
	}
	return files
}

// fileSizes sums the sizes of regular files. Missing files count as zero so a
// database that has not checkpointed yet still reports its main file.
func fileSizes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
	}
	return total, nil
}
