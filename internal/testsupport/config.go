package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cutroom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.FFmpeg.TimeoutSeconds = 30
	cfgVal.Transcription.RemoteAPIKey = ""
	cfgVal.LLM.APIKey = ""
	cfgVal.Generation.APIToken = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithStubbedBinaries writes stub executables that exit 0 for the provided
// names and prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		for _, name := range names {
			WriteStub(b.t, b.baseDir, name, "exit 0")
		}
	}
}

// WithStubScript installs a named stub whose body is the given POSIX shell
// script (without the shebang line).
func WithStubScript(name, body string) ConfigOption {
	return func(b *configBuilder) {
		WriteStub(b.t, b.baseDir, name, body)
	}
}

// WriteStub writes an executable shell script into <base>/bin and makes sure
// that directory leads PATH for the rest of the test.
func WriteStub(t testing.TB, base, name, body string) string {
	t.Helper()
	binDir := filepath.Join(base, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	prependPath(t, binDir)
	return target
}

func prependPath(t testing.TB, dir string) {
	oldPath := os.Getenv("PATH")
	if strings.HasPrefix(oldPath, dir+string(os.PathListSeparator)) {
		return
	}
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// Stub scripts shared by media tests. They understand just enough of the
// ffmpeg/ffprobe argv produced by internal/media/ffmpeg to act on files.
const (
	// FFmpegCopyStub copies the first -i input to the last argument.
	FFmpegCopyStub = `in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ] && [ -z "$in" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cp "$in" "$out"`

	// FFmpegFailStub prints a diagnostic and exits non-zero without writing output.
	FFmpegFailStub = `echo "Invalid argument: simulated failure" >&2
exit 1`

	// FFmpegEmptyOutputStub exits 0 after creating an empty output file.
	FFmpegEmptyOutputStub = `for a in "$@"; do out="$a"; done
: > "$out"`

	// FFmpegSleepStub never finishes on its own.
	FFmpegSleepStub = `sleep 30`

	// FFprobeStub reports a ten second 640x360 h264/aac file.
	FFprobeStub = `cat <<'JSON'
{"streams":[{"index":0,"codec_name":"h264","codec_type":"video","width":640,"height":360},{"index":1,"codec_name":"aac","codec_type":"audio","channels":2,"sample_rate":"48000"}],"format":{"filename":"x","nb_streams":2,"duration":"10.000000","size":"1000","bit_rate":"800"}}
JSON`
)
