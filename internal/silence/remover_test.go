package silence_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"cutroom/internal/assets"
	"cutroom/internal/config"
	"cutroom/internal/logging"
	"cutroom/internal/services"
	"cutroom/internal/silence"
	"cutroom/internal/storage"
	"cutroom/internal/testsupport"
)

// ffmpegStub answers silencedetect with the given report, writes "[<ss>]"
// for each segment extraction and concatenates segments listed in a concat
// file. A segment starting at failAt exits non-zero.
func ffmpegStub(report, failAt string) string {
	script := `args="$*"
case "$args" in
*silencedetect*)
  cat >&2 <<'EOF'
REPORT
EOF
  exit 0;;
esac
in=""; prev=""; ss=""; out=""
for a in "$@"; do
  if [ "$prev" = "-i" ] && [ -z "$in" ]; then in="$a"; fi
  if [ "$prev" = "-ss" ] && [ -z "$ss" ]; then ss="$a"; fi
  prev="$a"
  out="$a"
done
if [ -n "$ss" ] && [ "$ss" = "FAILAT" ]; then
  echo "Conversion failed: simulated segment failure" >&2
  exit 1
fi
case "$args" in
*"-f concat"*)
  sed -n "s/^file '\(.*\)'$/\1/p" "$in" | while IFS= read -r f; do cat "$f"; done > "$out";;
*)
  printf '[%s]' "$ss" > "$out";;
esac`
	script = strings.Replace(script, "REPORT", report, 1)
	return strings.Replace(script, "FAILAT", failAt, 1)
}

type fixture struct {
	remover *silence.Remover
	svc     *assets.Service
	layout  *storage.Layout
	session string
	asset   assets.Asset
}

func newFixture(t *testing.T, ffmpegBody string) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("ffprobe", testsupport.FFprobeStub),
		testsupport.WithStubScript("ffmpeg", ffmpegBody),
	)
	return wire(t, cfg, "clip.mp4", []byte("original"))
}

func wire(t *testing.T, cfg *config.Config, name string, data []byte) fixture {
	t.Helper()
	layout := testsupport.NewLayout(t, cfg)
	svc := testsupport.NewAssets(t, cfg, layout)
	session := testsupport.NewSession(t, layout)
	asset := testsupport.IngestBytes(t, svc, session, name, data)
	svc.Wait()
	tool := testsupport.FFmpegTool(cfg, testsupport.NewRunner(cfg))
	return fixture{
		remover: silence.New(svc, tool, cfg.Silence, logging.NewNop()),
		svc:     svc,
		layout:  layout,
		session: session,
		asset:   asset,
	}
}

func (f fixture) content(t *testing.T) string {
	t.Helper()
	path, _, err := f.svc.Path(context.Background(), f.session, f.asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func (f fixture) assertTmpEmpty(t *testing.T) {
	t.Helper()
	f.svc.Wait()
	tmp, err := f.layout.TempDir(f.session)
	if err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Fatalf("expected clean tmp dir, found %d entries", len(entries))
	}
}

const twoSilences = `[silencedetect @ 0x1] silence_start: 2
[silencedetect @ 0x1] silence_end: 4 | silence_duration: 2
[silencedetect @ 0x1] silence_start: 9`

func TestRemoveCutsSilenceInOrder(t *testing.T) {
	f := newFixture(t, ffmpegStub(twoSilences, "none"))

	res, err := f.remover.Remove(context.Background(), f.session, f.asset.ID, silence.Options{})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if res.Segments != 2 || math.Abs(res.RemovedDuration-3) > 1e-6 || math.Abs(res.Duration-7) > 1e-6 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.content(t); got != "[0.000][4.000]" {
		t.Fatalf("segments joined out of order: %q", got)
	}
	if res.Asset.ID != f.asset.ID || res.Asset.EditCount != 1 {
		t.Fatalf("expected in-place edit, got %+v", res.Asset)
	}
	want := []silence.State{silence.StateIdle, silence.StateDetecting, silence.StateExtracting, silence.StateConcatenating, silence.StateDone}
	if !slices.Equal(res.States, want) {
		t.Fatalf("states = %v, want %v", res.States, want)
	}
	f.assertTmpEmpty(t)
}

func TestRemoveWithoutSilenceLeavesAssetUntouched(t *testing.T) {
	f := newFixture(t, ffmpegStub("size=N/A time=00:00:10.00", "none"))

	res, err := f.remover.Remove(context.Background(), f.session, f.asset.ID, silence.Options{})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if res.RemovedDuration != 0 || res.Segments != 0 {
		t.Fatalf("expected nothing removed, got %+v", res)
	}
	if got := f.content(t); got != "original" {
		t.Fatalf("asset modified: %q", got)
	}
	if res.Asset.EditCount != 0 {
		t.Fatalf("editCount moved: %d", res.Asset.EditCount)
	}
}

func TestRemoveEntirelySilent(t *testing.T) {
	f := newFixture(t, ffmpegStub("[silencedetect @ 0x1] silence_start: 0", "none"))

	_, err := f.remover.Remove(context.Background(), f.session, f.asset.ID, silence.Options{})
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "entirely silent") {
		t.Fatalf("expected entirely silent validation error, got %v", err)
	}
	if got := f.content(t); got != "original" {
		t.Fatalf("asset modified: %q", got)
	}
}

func TestRemoveSegmentFailureIsPartial(t *testing.T) {
	f := newFixture(t, ffmpegStub(twoSilences, "4.000"))

	res, err := f.remover.Remove(context.Background(), f.session, f.asset.ID, silence.Options{})
	if !errors.Is(err, services.ErrPartialPipeline) {
		t.Fatalf("expected partial pipeline failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "segment 1 of 2") {
		t.Fatalf("expected failing segment index in %v", err)
	}
	if res.States[len(res.States)-1] != silence.StateFailed {
		t.Fatalf("expected failed state, got %v", res.States)
	}
	if got := f.content(t); got != "original" {
		t.Fatalf("asset modified: %q", got)
	}
	f.assertTmpEmpty(t)
}

func TestRemoveRejectsBadOverrides(t *testing.T) {
	f := newFixture(t, ffmpegStub("", "none"))
	positive := 3.0
	zero := 0.0
	for _, opts := range []silence.Options{{ThresholdDB: &positive}, {MinDuration: &zero}} {
		if _, err := f.remover.Remove(context.Background(), f.session, f.asset.ID, opts); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", opts, err)
		}
	}
}

// Three one-second tones (440, 660 and 880 Hz) separated by two one-second
// silences. Removing dead air must keep all three tones, in order.
const threeToneExpr = "aevalsrc=if(between(t\\,1\\,2)+between(t\\,3\\,4)\\,0\\," +
	"0.5*sin(2*PI*t*if(lt(t\\,1.5)\\,440\\,if(lt(t\\,3.5)\\,660\\,880)))):s=44100:d=5"

func TestRemoveWithRealFFmpeg(t *testing.T) {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
	cfg := testsupport.NewConfig(t)
	src := filepath.Join(t.TempDir(), "tones.wav")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "lavfi", "-i", threeToneExpr, src)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Fatalf("generate fixture: %v: %s", err, out)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	f := wire(t, cfg, "tones.wav", data)

	res, err := f.remover.Remove(context.Background(), f.session, f.asset.ID, silence.Options{})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if res.Segments != 3 || len(res.Silences) != 2 {
		t.Fatalf("expected 3 segments around 2 silences, got %+v", res)
	}
	if math.Abs(res.RemovedDuration-2) > 0.2 {
		t.Fatalf("removed %.3fs, want ~2s", res.RemovedDuration)
	}
	// Output duration is the sum of the three tones, within one frame of slack.
	if got := res.Asset.Duration(); math.Abs(got-3) > 0.1 {
		t.Fatalf("expected ~3s output, got %.3f", got)
	}

	path, _, err := f.svc.Path(context.Background(), f.session, f.asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	pcm, err := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-i", path,
		"-f", "s16le", "-ac", "1", "-ar", "44100", "-").Output()
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	for i, want := range []float64{440, 660, 880} {
		got := toneFrequency(pcm, 44100, float64(i)+0.25, float64(i)+0.75)
		if math.Abs(got-want)/want > 0.1 {
			t.Fatalf("tone %d: measured %.0f Hz, want %.0f Hz", i+1, got, want)
		}
	}
}

// toneFrequency estimates the frequency of a pure tone between from and to
// seconds of mono s16le audio by counting zero crossings.
func toneFrequency(pcm []byte, rate int, from, to float64) float64 {
	first, last := int(from*float64(rate)), int(to*float64(rate))
	if last*2 > len(pcm) {
		return 0
	}
	crossings := 0
	prev := int16(binary.LittleEndian.Uint16(pcm[first*2:]))
	for i := first + 1; i < last; i++ {
		cur := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if (prev < 0) != (cur < 0) {
			crossings++
		}
		prev = cur
	}
	return float64(crossings) / 2 / (to - from)
}
