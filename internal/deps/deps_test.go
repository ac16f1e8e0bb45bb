package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := writeScript(t, binDir, "present", "exit 0")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  ", Optional: true},
	}

	results := CheckBinaries(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestVersion(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeScript(t, dir, "ffmpeg", `echo "ffmpeg version 7.1.1 Copyright (c) 2000-2025"; echo "built with gcc"`)
	other := writeScript(t, dir, "uvx", `echo "uv 0.6.3"`)
	broken := writeScript(t, dir, "broken", "exit 3")

	tests := []struct {
		binary string
		want   string
	}{
		{ffmpeg, "7.1.1"},
		{other, "uv 0.6.3"},
		{broken, ""},
	}
	for _, tt := range tests {
		if got := Version(context.Background(), tt.binary, "-version"); got != tt.want {
			t.Fatalf("Version(%s) = %q, want %q", filepath.Base(tt.binary), got, tt.want)
		}
	}

	results := CheckBinaries(context.Background(), []Requirement{{Name: "FFmpeg", Command: ffmpeg, VersionArgs: []string{"-version"}}})
	if results[0].Version != "7.1.1" {
		t.Fatalf("expected version to be recorded, got %#v", results[0])
	}
}
