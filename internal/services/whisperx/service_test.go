package whisperx_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cutroom/internal/logging"
	"cutroom/internal/procrun"
	"cutroom/internal/services/whisperx"
	"cutroom/internal/testsupport"
)

// transcript is a WhisperX JSON document used by stub launchers.
const transcript = `{"segments":[{"text":" Hello world","start":0.5,"end":1.4,"words":[{"word":"Hello","start":0.5,"end":0.9,"score":0.9},{"word":"world","start":1.0,"end":1.4}]},{"text":" 42 times","start":2,"end":3,"words":[{"word":"42"},{"word":"times","start":2.5,"end":3}]}],"language":"en"}`

func uvxStub(argsFile string) string {
	return `src=""; outdir=""; prev=""
for a in "$@"; do
  if [ "$prev" = "whisperx" ]; then src="$a"; fi
  if [ "$prev" = "--output_dir" ]; then outdir="$a"; fi
  prev="$a"
done
echo "$@" > "` + argsFile + `"
echo "cuda=[${CUDA_VISIBLE_DEVICES-unset}]" >> "` + argsFile + `"
base=$(basename "$src" .wav)
mkdir -p "$outdir"
cat > "$outdir/$base.json" <<'EOF'
` + transcript + `
EOF`
}

func newService(t *testing.T, body string) *whisperx.Service {
	t.Helper()
	base := t.TempDir()
	testsupport.WriteStub(t, base, "uvx", body)
	runner := procrun.NewExec(filepath.Join(base, "logs"), logging.NewNop())
	return whisperx.NewService(whisperx.Config{Model: "tiny"}, runner)
}

func TestTranscribeFileParsesWords(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	svc := newService(t, uvxStub(argsFile))
	work := t.TempDir()
	src := filepath.Join(work, "audio.wav")
	if err := os.WriteFile(src, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := svc.TranscribeFile(context.Background(), src, filepath.Join(work, "out"), "EN")
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if res.Text != "Hello world 42 times" || res.Language != "en" {
		t.Fatalf("unexpected result %+v", res)
	}
	words := res.Words()
	if len(words) != 4 || words[0].Word != "Hello" || *words[1].Start != 1.0 || words[2].Start != nil {
		t.Fatalf("unexpected words %+v", words)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	args := string(raw)
	for _, want := range []string{"--device cpu", "--compute_type float32", "--model tiny", "--language en", "cuda=[]"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in invocation:\n%s", want, args)
		}
	}
	if strings.Contains(args, "cuda ") || strings.Contains(args, "cu128") {
		t.Fatalf("GPU flags must never be passed:\n%s", args)
	}
}

func TestTranscribeFileUnavailable(t *testing.T) {
	cases := map[string]string{
		"missing module": `echo "ModuleNotFoundError: No module named 'whisperx'" >&2; exit 1`,
		"resolution":     `echo "error: No solution found when resolving tool dependencies" >&2; exit 2`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newService(t, body)
			_, err := svc.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "a.wav"), "", "")
			if !errors.Is(err, whisperx.ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestTranscribeFileMissingLauncher(t *testing.T) {
	runner := procrun.NewExec(t.TempDir(), logging.NewNop())
	svc := whisperx.NewService(whisperx.Config{UVXBinary: filepath.Join(t.TempDir(), "no-uvx")}, runner)
	_, err := svc.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "a.wav"), "", "")
	if !errors.Is(err, whisperx.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTranscribeFileRealFailureIsNotUnavailable(t *testing.T) {
	svc := newService(t, `echo "RuntimeError: audio decode failed" >&2; exit 1`)
	_, err := svc.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "a.wav"), "", "")
	if err == nil || errors.Is(err, whisperx.ErrUnavailable) {
		t.Fatalf("expected a plain failure, got %v", err)
	}
	var runErr *procrun.RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError in chain, got %v", err)
	}
}

func TestExtractCommand(t *testing.T) {
	args := strings.Join(whisperx.ExtractCommand("in.mp4", "out.wav").Args(), " ")
	if !strings.Contains(args, "-ac 1 -ar 16000 -c:a pcm_s16le out.wav") || !strings.Contains(args, "-map 0:a:0") {
		t.Fatalf("unexpected extract args: %s", args)
	}
}
