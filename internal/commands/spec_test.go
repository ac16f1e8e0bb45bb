package commands

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"cutroom/internal/services"
)

var clip = Media{Duration: 10, Width: 1920, Height: 1080, HasVideo: true, HasAudio: true}

func TestParseValidCommands(t *testing.T) {
	cases := []struct {
		raw string
		op  Op
	}{
		{`{"op":"trim","start":1,"end":4.5}`, OpTrim},
		{`{"op":"crop","x":0,"y":0,"width":1280,"height":720}`, OpCrop},
		{`{"op":"scale","width":1280,"height":-2}`, OpScale},
		{`{"op":"speed","factor":2}`, OpSpeed},
		{`{"op":"volume","gain":0.5}`, OpVolume},
		{`{"op":"mute"}`, OpMute},
		{`{"op":"rotate","degrees":90}`, OpRotate},
		{`{"op":"flip","direction":"vertical"}`, OpFlip},
		{`{"op":"fade","in":1,"out":2}`, OpFade},
		{`{"op":"color","saturation":1.4}`, OpColor},
		{`{"op":"denoise"}`, OpDenoise},
		{`{"op":"normalize_audio"}`, OpNormalizeAudio},
		{`{"op":"reframe","aspect":"9:16","centerX":0.3}`, OpReframe},
		{`{"op":"REVERSE"}`, OpReverse},
	}
	for _, tc := range cases {
		spec, err := Parse([]byte(tc.raw), clip)
		if err != nil {
			t.Fatalf("Parse(%s): %v", tc.raw, err)
		}
		if spec.Op() != tc.op {
			t.Fatalf("Parse(%s) op = %s", tc.raw, spec.Op())
		}
	}
}

func TestParseRejects(t *testing.T) {
	audio := Media{Duration: 5, HasAudio: true}
	still := Media{Width: 100, Height: 100, HasVideo: true, Still: true}
	cases := []struct {
		name string
		raw  string
		m    Media
	}{
		{"unknown op", `{"op":"explode"}`, clip},
		{"shell string", `"ffmpeg -i x.mp4 y.mp4; rm -rf /"`, clip},
		{"unknown field", `{"op":"mute","cmd":"rm"}`, clip},
		{"trim reversed", `{"op":"trim","start":4,"end":1}`, clip},
		{"trim past end", `{"op":"trim","start":1,"end":30}`, clip},
		{"trim image", `{"op":"trim","start":0,"end":1}`, still},
		{"crop outside", `{"op":"crop","x":1000,"y":0,"width":1280,"height":720}`, clip},
		{"speed too fast", `{"op":"speed","factor":8}`, clip},
		{"speed identity", `{"op":"speed","factor":1}`, clip},
		{"volume no audio", `{"op":"volume","gain":2}`, still},
		{"mute audio only", `{"op":"mute"}`, audio},
		{"rotate 45", `{"op":"rotate","degrees":45}`, clip},
		{"flip diagonal", `{"op":"flip","direction":"diagonal"}`, clip},
		{"fade too long", `{"op":"fade","in":6,"out":6}`, clip},
		{"color empty", `{"op":"color"}`, clip},
		{"reframe unknown aspect", `{"op":"reframe","aspect":"3:2"}`, clip},
		{"reframe center out of range", `{"op":"reframe","aspect":"1:1","centerX":2}`, clip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw), tc.m)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSpecMarshalKeepsOp(t *testing.T) {
	spec, err := Parse([]byte(`{"op":"trim","start":1,"end":2}`), clip)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"op":"trim"`) || !strings.Contains(string(data), `"end":2`) {
		t.Fatalf("unexpected encoding %s", data)
	}
}

func TestAtempoChain(t *testing.T) {
	cases := map[float64]string{
		2:    "atempo=2",
		4:    "atempo=2,atempo=2",
		0.25: "atempo=0.5,atempo=0.5",
		3:    "atempo=2,atempo=1.5",
	}
	for factor, want := range cases {
		if got := strings.Join(atempoChain(factor), ","); got != want {
			t.Fatalf("atempoChain(%v) = %s, want %s", factor, got, want)
		}
	}
}

func TestReframeWindow(t *testing.T) {
	left := 0.0
	w, h, x := reframeWindow(1920, 1080, aspectRatios["9:16"], &left)
	if h != 1080 || w != 608 || x != 0 {
		t.Fatalf("unexpected window %dx%d+%d", w, h, x)
	}
	w, _, x = reframeWindow(1920, 1080, aspectRatios["9:16"], nil)
	if x != (1920-w)/2 {
		t.Fatalf("expected centred window, got x=%d w=%d", x, w)
	}
	right := 1.0
	w, _, x = reframeWindow(1920, 1080, aspectRatios["9:16"], &right)
	if x+w != 1920 {
		t.Fatalf("expected window clamped to right edge, got x=%d w=%d", x, w)
	}
	w, h, _ = reframeWindow(1080, 1920, aspectRatios["16:9"], nil)
	if w != 1080 || h < 606 || h > 608 || h%2 != 0 {
		t.Fatalf("expected letterbox crop, got %dx%d", w, h)
	}
}

func TestBuildCommandCodecs(t *testing.T) {
	spec, _ := Parse([]byte(`{"op":"volume","gain":2}`), clip)
	args := strings.Join(BuildCommand(spec, clip, "in.mp4", "out.mp4").Args(), " ")
	if !strings.Contains(args, "-c:v copy") || !strings.Contains(args, "-af volume=2") || !strings.Contains(args, "-c:a aac") {
		t.Fatalf("volume should copy video and re-encode audio: %s", args)
	}
	if !strings.HasSuffix(args, "out.mp4") {
		t.Fatalf("output must be last: %s", args)
	}

	spec, _ = Parse([]byte(`{"op":"mute"}`), clip)
	args = strings.Join(BuildCommand(spec, clip, "in.mp4", "out.mp4").Args(), " ")
	if !strings.Contains(args, "-an") || strings.Contains(args, "0:a") {
		t.Fatalf("mute should drop audio: %s", args)
	}

	audio := Media{Duration: 5, HasAudio: true}
	spec, _ = Parse([]byte(`{"op":"trim","start":1,"end":2}`), audio)
	args = strings.Join(BuildCommand(spec, audio, "in.mp3", "out.mp3").Args(), " ")
	if !strings.Contains(args, "-ss 1.000 -i in.mp3") || !strings.Contains(args, "libmp3lame") || !strings.Contains(args, "-t 1.000") {
		t.Fatalf("unexpected audio trim args: %s", args)
	}

	still := Media{Width: 100, Height: 100, HasVideo: true, Still: true}
	spec, _ = Parse([]byte(`{"op":"flip","direction":"horizontal"}`), still)
	args = strings.Join(BuildCommand(spec, still, "in.png", "out.png").Args(), " ")
	if !strings.Contains(args, "-vf hflip") || !strings.Contains(args, "-frames:v 1") {
		t.Fatalf("unexpected image args: %s", args)
	}
}
