// utils/decompress.go
package utils

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"strings"
)

// DecompressBz2 writes the decompressed content of a bzip2 archive into a new
// temporary file and returns its path.
func DecompressBz2(archive []byte) (string, error) {
	path, err := CreateTempFile("demo-*.dem", bzip2.NewReader(bytes.NewReader(archive)))
	if err != nil {
		return "", fmt.Errorf("failed to decompress demo: %w", err)
	}
	return path, nil
}

// LocalDemo returns a path to an uncompressed demo for a local file. Files ending
// in .bz2 are decompressed into a temporary file, reported by isTemp.
func LocalDemo(path string) (out string, isTemp bool, err error) {
	if !strings.HasSuffix(strings.ToLower(path), ".bz2") {
		return path, false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	out, err = CreateTempFile("demo-*.dem", bzip2.NewReader(f))
	if err != nil {
		return "", false, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	return out, true, nil
}

// ReadAllLimited reads at most limit bytes from r.
func ReadAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("payload exceeds %d bytes", limit)
	}
	return data, nil
}
