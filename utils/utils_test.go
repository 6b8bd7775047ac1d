package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadAllLimited(t *testing.T) {
	data, err := ReadAllLimited(strings.NewReader("abcd"), 4)
	if err != nil || string(data) != "abcd" {
		t.Fatalf("ReadAllLimited = %q, %v", data, err)
	}
	if _, err := ReadAllLimited(strings.NewReader("abcde"), 4); err == nil {
		t.Fatal("oversized payload accepted")
	}
}

func TestLocalDemoPassesUncompressedFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.dem")
	out, isTemp, err := LocalDemo(path)
	if err != nil || out != path || isTemp {
		t.Fatalf("LocalDemo = %q, %v, %v", out, isTemp, err)
	}
}

func TestCreateTempFile(t *testing.T) {
	path, err := CreateTempFile("demo-*.dem", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("CreateTempFile: %v", err)
	}
	defer RemoveQuietly(path)

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "payload" {
		t.Fatalf("temp file holds %q, %v", data, err)
	}
	RemoveQuietly(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still present after RemoveQuietly: %v", err)
	}
}

func TestDecompressBz2RejectsGarbage(t *testing.T) {
	if path, err := DecompressBz2([]byte("not bzip2")); err == nil {
		RemoveQuietly(path)
		t.Fatal("garbage archive decompressed")
	}
}
