package ffmpeg

import (
	"strings"
	"testing"
)

func TestArgsOrdering(t *testing.T) {
	cmd := New().
		Input("in.mp4", "-ss", "1.500").
		Input("logo.png").
		FilterComplex("[0:v][1:v]overlay=10:10[v]").
		Map("[v]").
		Map("0:a?").
		Set(Preset(H264, AAC)...).
		Output("out.mp4")

	got := strings.Join(cmd.Args(), " ")
	want := "-hide_banner -nostdin -y -loglevel error -ss 1.500 -i in.mp4 -i logo.png -filter_complex [0:v][1:v]overlay=10:10[v] -map [v] -map 0:a? " +
		"-c:v libx264 -preset veryfast -crf 20 -pix_fmt yuv420p -c:a aac -b:a 192k out.mp4"
	if got != want {
		t.Fatalf("unexpected args:\n got %s\nwant %s", got, want)
	}
	if cmd.InputCount() != 2 {
		t.Fatalf("expected 2 inputs, got %d", cmd.InputCount())
	}
}

func TestFiltersJoin(t *testing.T) {
	args := New().Input("a.wav").AudioFilter("volume=2", "afade=t=in:d=1").VideoFilter("hflip").NullOutput().Args()
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-af volume=2,afade=t=in:d=1") || !strings.Contains(joined, "-vf hflip") {
		t.Fatalf("unexpected filters: %s", joined)
	}
	if !strings.HasSuffix(joined, "-f null -") {
		t.Fatalf("expected null output, got %s", joined)
	}
}

func TestUserTextStaysOneArgument(t *testing.T) {
	name := "clip; rm -rf / #.mp4"
	args := New().Input(name).Output("out.mp4").Args()
	found := false
	for _, a := range args {
		if a == name {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected path passed verbatim as one argument: %q", args)
	}
}

func TestEscapeFilterText(t *testing.T) {
	got := EscapeFilterText("it's 50%: done, [ok]")
	want := `it\\\'s 50\\%\\: done\, \[ok\]`
	if got != want {
		t.Fatalf("EscapeFilterText = %q, want %q", got, want)
	}
}

func TestSecondsClampsNegative(t *testing.T) {
	if Seconds(-2) != "0.000" || Seconds(1.23456) != "1.235" {
		t.Fatalf("unexpected formatting %s %s", Seconds(-2), Seconds(1.23456))
	}
}
