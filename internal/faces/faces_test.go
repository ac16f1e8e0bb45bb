package faces_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"cutroom/internal/faces"
	"cutroom/internal/logging"
	"cutroom/internal/services"
	"cutroom/internal/testsupport"
)

const helperOutput = `loading model...
{"tracks":[
 {"id":0,"keyframes":[{"t":0,"x":0.2,"y":0.5,"w":0.1,"h":0.1},{"t":0.5,"x":0.22,"y":0.5,"w":0.1,"h":0.1}]},
 {"id":1,"keyframes":[{"t":1,"x":0.7,"y":0.4,"w":0.2,"h":0.2},{"t":1.5,"x":0.6,"y":0.4,"w":0.2,"h":0.2},{"t":2,"x":0.8,"y":0.4,"w":0.2,"h":0.2},{"t":2.5,"x":0.65,"y":0.4,"w":0.2,"h":0.2}]},
 {"id":2,"keyframes":[{"t":3,"x":0.4,"y":0.4,"w":0.2,"h":0.2},{"t":4.2,"x":0.4,"y":0.4,"w":0.2,"h":0.2}]}
]}`

func TestParseFiltersAndOrders(t *testing.T) {
	tracks, err := faces.Parse([]byte(helperOutput))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tracks) != 2 || tracks[0].ID != 1 || tracks[1].ID != 2 {
		t.Fatalf("expected tracks 1 then 2, got %+v", tracks)
	}
	x, ok := faces.PrimaryCenterX(tracks)
	if !ok || math.Abs(x-0.675) > 1e-9 {
		t.Fatalf("expected median 0.675, got %v %v", x, ok)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := faces.Parse([]byte(`{"error":"Could not open video"}`)); !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing failure, got %v", err)
	}
	if _, err := faces.Parse([]byte(`Traceback (most recent call last)`)); !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing failure for garbage, got %v", err)
	}
	if _, ok := faces.PrimaryCenterX(nil); ok {
		t.Fatal("no tracks must not produce a centre")
	}
}

func TestDetectRunsHelper(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("ffprobe", testsupport.FFprobeStub),
		testsupport.WithStubScript("ffmpeg", testsupport.FFmpegCopyStub),
		testsupport.WithStubScript("face-helper", "cat <<'JSON'\n"+helperOutput+"\nJSON"),
	)
	cfg.Faces.Command = []string{"face-helper", "--stride", "2"}
	layout := testsupport.NewLayout(t, cfg)
	svc := testsupport.NewAssets(t, cfg, layout)
	session := testsupport.NewSession(t, layout)
	video := testsupport.IngestBytes(t, svc, session, "talk.mp4", []byte("frames"))
	detector := faces.NewDetector(svc, testsupport.NewRunner(cfg), cfg.Faces, logging.NewNop())

	res, err := detector.Detect(context.Background(), session, video.ID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Tracks) != 2 || res.PrimaryCenterX == nil || math.Abs(*res.PrimaryCenterX-0.675) > 1e-9 {
		t.Fatalf("unexpected result %+v", res)
	}

	audio := testsupport.IngestBytes(t, svc, session, "voice.mp3", []byte("mp3"))
	if _, err := detector.Detect(context.Background(), session, audio.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for audio, got %v", err)
	}
}

func TestDetectHelperFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("ffprobe", testsupport.FFprobeStub),
		testsupport.WithStubScript("ffmpeg", testsupport.FFmpegCopyStub),
		testsupport.WithStubScript("face-helper", "echo 'ModuleNotFoundError: mediapipe' >&2\nexit 1"),
	)
	cfg.Faces.Command = []string{"face-helper"}
	layout := testsupport.NewLayout(t, cfg)
	svc := testsupport.NewAssets(t, cfg, layout)
	session := testsupport.NewSession(t, layout)
	video := testsupport.IngestBytes(t, svc, session, "talk.mp4", []byte("frames"))

	_, err := faces.NewDetector(svc, testsupport.NewRunner(cfg), cfg.Faces, logging.NewNop()).Detect(context.Background(), session, video.ID)
	se, ok := services.AsServiceError(err)
	if !ok || !errors.Is(err, services.ErrProcessing) || se.Detail == "" {
		t.Fatalf("expected processing failure with stderr detail, got %v", err)
	}
}
