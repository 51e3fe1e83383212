package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteMedia creates a fake media file named name below a fresh temp
// directory and returns its path. The content is size bytes of a repeating
// pattern derived from name so different files checksum differently.
func WriteMedia(t testing.TB, name string, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	WriteFile(t, path, size, name)
	return path
}

// WriteFile fills path with size bytes of pattern, creating parent folders.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int, pattern string) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if pattern == "" {
		pattern = "B"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := bytes.Repeat([]byte(pattern), size/len(pattern)+1)[:size]
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
