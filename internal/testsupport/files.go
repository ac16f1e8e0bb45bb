package testsupport

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// FillFile creates path (and its parent directories) holding exactly size
// bytes of filler. Tests use it where only the size of a media file matters.
func FillFile(t testing.TB, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	chunk := bytes.Repeat([]byte{0xAA}, 64<<10)
	for written := int64(0); written < size; {
		n, err := io.CopyN(f, bytes.NewReader(chunk), min(size-written, int64(len(chunk))))
		if err != nil {
			_ = f.Close()
			t.Fatalf("fill %s: %v", path, err)
		}
		written += n
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}
