package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.json")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteFileAtomic(path, []byte(`{"v":2}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"v":2}` {
		t.Fatalf("content mismatch: %q", got)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up, found %d entries", len(entries))
	}
}

func TestReplaceFileRejectsEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "clip.mp4")
	staged := filepath.Join(dir, "staged.mp4")
	if err := os.WriteFile(dst, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(staged, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	err := ReplaceFile(staged, dst)
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "original" {
		t.Fatalf("destination modified: %q", got)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("expected staged file removed, stat err=%v", err)
	}
}

func TestReplaceFileSwapsBytes(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "clip.mp4")
	staged := filepath.Join(dir, "staged.mp4")
	if err := os.WriteFile(dst, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(staged, []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReplaceFile(staged, dst); err != nil {
		t.Fatalf("ReplaceFile: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "edited" {
		t.Fatalf("expected new bytes, got %q", got)
	}
	if NonEmpty(staged) {
		t.Fatal("staged path should be gone")
	}
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	data := make([]byte, 1<<16)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatalf("CopyFileVerified: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if len(got) != len(data) {
		t.Fatalf("size mismatch %d", len(got))
	}
}

func TestNonEmpty(t *testing.T) {
	dir := t.TempDir()
	if NonEmpty(filepath.Join(dir, "missing")) {
		t.Fatal("missing file reported non-empty")
	}
	if NonEmpty(dir) {
		t.Fatal("directory reported non-empty file")
	}
}
