package utils

import (
	"io"
	"os"
)

// CreateTempFile writes r into a new temporary file and returns its path.
// The caller removes the file.
func CreateTempFile(pattern string, r io.Reader) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// RemoveQuietly deletes path, ignoring a missing file.
func RemoveQuietly(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
