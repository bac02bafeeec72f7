package store

import (
	"os"

	"titan/internal/fsutil"
)

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return fsutil.AtomicWriteFile(path, data, perm)
}

func readFileIfExists(path string) ([]byte, error) {
	return fsutil.ReadFileIfExists(path)
}
