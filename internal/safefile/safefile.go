// Package safefile writes files atomically: content goes to a temp file in the
// destination directory and is renamed into place only after a clean close.
package safefile

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// Write streams r to path atomically and returns the number of bytes written.
//
// On failure the temp file is removed and any existing file at path is left
// untouched.
func Write(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()

	if copyErr != nil {
		_ = os.Remove(tmpName)
		return n, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return n, closeErr
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

// WriteBytes is Write for an in-memory payload.
func WriteBytes(path string, b []byte) error {
	_, err := Write(path, bytes.NewReader(b))
	return err
}

// RemoveIfExists deletes path. A missing file is not an error.
func RemoveIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
