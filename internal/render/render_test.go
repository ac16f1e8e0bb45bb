package render_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"cutroom/internal/animation"
	"cutroom/internal/assets"
	"cutroom/internal/logging"
	"cutroom/internal/render"
	"cutroom/internal/services"
	"cutroom/internal/storage"
	"cutroom/internal/testsupport"
	"cutroom/internal/timeline"
)

type fixture struct {
	renderer *render.Renderer
	assets   *assets.Service
	layout   *storage.Layout
	session  string
}

func newFixture(t *testing.T, ffmpegBody string, scenes render.SceneRenderer) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("ffprobe", testsupport.FFprobeStub),
		testsupport.WithStubScript("ffmpeg", ffmpegBody),
	)
	layout := testsupport.NewLayout(t, cfg)
	svc := testsupport.NewAssets(t, cfg, layout)
	runner := testsupport.NewRunner(cfg)
	return fixture{
		renderer: render.New(render.Config{
			Assets: svc,
			FFmpeg: testsupport.FFmpegTool(cfg, runner),
			Runner: runner,
			Scenes: scenes,
			Logger: logging.NewNop(),
		}),
		assets:  svc,
		layout:  layout,
		session: testsupport.NewSession(t, layout),
	}
}

func simpleTimeline(assetID string) timeline.Timeline {
	return timeline.Timeline{
		Width: 640, Height: 360, FPS: 30,
		Tracks: []timeline.Track{{ID: "v", Kind: timeline.TrackVideo, Clips: []timeline.Clip{
			{ID: "a", Type: timeline.ClipMedia, AssetID: assetID, Duration: 2},
		}}},
	}
}

func TestRenderWritesIntoRenders(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub, nil)
	clip := testsupport.IngestBytes(t, f.assets, f.session, "clip.mp4", []byte("frames"))

	out, err := f.renderer.Render(context.Background(), f.session, simpleTimeline(clip.ID), render.Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want, _ := f.layout.RenderPath(f.session, out.RenderID)
	if out.Path != want || out.Duration != 2 || out.Asset != nil {
		t.Fatalf("unexpected output %+v", out)
	}
	if data, err := os.ReadFile(out.Path); err != nil || string(data) != "frames" {
		t.Fatalf("render file: %q %v", data, err)
	}
	renders, err := f.layout.Catalog().Renders(context.Background(), f.session)
	if err != nil || len(renders) != 1 || renders[0].ID != out.RenderID {
		t.Fatalf("render not recorded: %+v %v", renders, err)
	}
	f.assets.Wait()
	tmp, _ := f.layout.TempDir(f.session)
	if entries, _ := os.ReadDir(tmp); len(entries) != 0 {
		t.Fatalf("tmp not cleaned: %v", entries)
	}
}

func TestRenderRegistersAsset(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub, nil)
	clip := testsupport.IngestBytes(t, f.assets, f.session, "clip.mp4", []byte("frames"))

	out, err := f.renderer.Render(context.Background(), f.session, simpleTimeline(clip.ID), render.Options{RegisterAsset: true})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Asset == nil || out.Asset.Source != assets.SourceRender || out.Asset.ID == clip.ID {
		t.Fatalf("expected registered render asset, got %+v", out.Asset)
	}
	renders, _ := f.layout.Catalog().Renders(context.Background(), f.session)
	if len(renders) != 1 || renders[0].AssetID != out.Asset.ID {
		t.Fatalf("render history missing asset link: %+v", renders)
	}
}

func TestRenderStageErrors(t *testing.T) {
	tests := []struct {
		name   string
		ffmpeg string
		tl     func(assetID string) timeline.Timeline
		marker error
		stage  string
	}{
		{
			name:   "unknown asset",
			ffmpeg: testsupport.FFmpegCopyStub,
			tl:     func(string) timeline.Timeline { return simpleTimeline("01HZZZZZZZZZZZZZZZZZZZZZZZ") },
			marker: services.ErrValidation,
			stage:  render.StageValidate,
		},
		{
			name:   "bad canvas",
			ffmpeg: testsupport.FFmpegCopyStub,
			tl: func(id string) timeline.Timeline {
				tl := simpleTimeline(id)
				tl.FPS = 500
				return tl
			},
			marker: services.ErrValidation,
			stage:  render.StageValidate,
		},
		{
			name:   "empty",
			ffmpeg: testsupport.FFmpegCopyStub,
			tl:     func(string) timeline.Timeline { return timeline.Timeline{Width: 640, Height: 360, FPS: 30} },
			marker: services.ErrValidation,
			stage:  render.StageValidate,
		},
		{
			name:   "ffmpeg failure",
			ffmpeg: testsupport.FFmpegFailStub,
			tl:     simpleTimeline,
			marker: services.ErrProcessing,
			stage:  render.StageCompose,
		},
		{
			name:   "empty output",
			ffmpeg: testsupport.FFmpegEmptyOutputStub,
			tl:     simpleTimeline,
			marker: services.ErrProcessing,
			stage:  render.StageEncode,
		},
		{
			name:   "motion graphics without renderer",
			ffmpeg: testsupport.FFmpegCopyStub,
			tl: func(id string) timeline.Timeline {
				tl := simpleTimeline(id)
				tl.Tracks = append(tl.Tracks, timeline.Track{ID: "o", Kind: timeline.TrackOverlay, Clips: []timeline.Clip{
					{ID: "m", Type: timeline.ClipMotionGraphic, Duration: 1, Scene: &animation.Scene{Content: animation.Title{Title: "x"}}},
				}})
				return tl
			},
			marker: services.ErrConfiguration,
			stage:  render.StageMotionGraphics,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.ffmpeg, nil)
			clip := testsupport.IngestBytes(t, f.assets, f.session, "clip.mp4", []byte("frames"))
			_, err := f.renderer.Render(context.Background(), f.session, tt.tl(clip.ID), render.Options{})
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, err)
			}
			se, ok := services.AsServiceError(err)
			if !ok || se.Stage != tt.stage {
				t.Fatalf("expected stage %q, got %+v", tt.stage, se)
			}
			dir, _ := f.layout.SessionPath(f.session)
			if entries, _ := os.ReadDir(filepath.Join(dir, "renders")); len(entries) != 0 {
				t.Fatalf("failed render left output behind: %v", entries)
			}
		})
	}
}

func TestRenderUnknownSession(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegCopyStub, nil)
	_, err := f.renderer.Render(context.Background(), "6f0c4a5e-1111-4aaa-8bbb-000000000000", simpleTimeline("x"), render.Options{})
	if !errors.Is(err, services.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

// fakeScenes registers a placeholder overlay for every scene it is asked to render.
type fakeScenes struct {
	assets *assets.Service
	scenes []animation.Scene
}

func (f *fakeScenes) RenderScene(ctx context.Context, sessionID string, scene animation.Scene) (assets.Asset, error) {
	f.scenes = append(f.scenes, scene)
	dir := os.TempDir()
	path := filepath.Join(dir, "overlay-"+sessionID+".mov")
	if err := os.WriteFile(path, []byte("overlay"), 0o644); err != nil {
		return assets.Asset{}, err
	}
	defer os.Remove(path)
	return f.assets.IngestFile(ctx, sessionID, path, assets.IngestOptions{Source: assets.SourceAnimation, AIGenerated: true})
}

func TestRenderMotionGraphicsStage(t *testing.T) {
	scenes := &fakeScenes{}
	f := newFixture(t, testsupport.FFmpegCopyStub, scenes)
	scenes.assets = f.assets
	clip := testsupport.IngestBytes(t, f.assets, f.session, "clip.mp4", []byte("frames"))

	tl := simpleTimeline(clip.ID)
	tl.Tracks = append(tl.Tracks, timeline.Track{ID: "o", Kind: timeline.TrackOverlay, Clips: []timeline.Clip{
		{ID: "m", Type: timeline.ClipMotionGraphic, Start: 0.5, Duration: 1.5, Scene: &animation.Scene{Content: animation.Title{Title: "Hi"}}},
	}})
	if _, err := f.renderer.Render(context.Background(), f.session, tl, render.Options{}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(scenes.scenes) != 1 {
		t.Fatalf("expected one scene render, got %d", len(scenes.scenes))
	}
	got := scenes.scenes[0]
	if got.DurationSeconds != 1.5 || got.Width != 640 || got.Height != 360 || got.FPS != 30 {
		t.Fatalf("scene not fitted to clip and canvas: %+v", got)
	}
	list, _ := f.assets.List(context.Background(), f.session)
	var overlays int
	for _, a := range list {
		if a.Source == assets.SourceAnimation {
			overlays++
		}
	}
	if overlays != 1 {
		t.Fatalf("expected the overlay to be registered as an asset, got %d", overlays)
	}
}

func TestRenderWithRealFFmpeg(t *testing.T) {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}
	cfg := testsupport.NewConfig(t)
	layout := testsupport.NewLayout(t, cfg)
	svc := testsupport.NewAssets(t, cfg, layout)
	runner := testsupport.NewRunner(cfg)
	session := testsupport.NewSession(t, layout)

	src := filepath.Join(t.TempDir(), "src.mp4")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=2",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=2",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac", "-shortest", src)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot synthesize source: %v: %s", err, out)
	}
	asset, err := svc.IngestFile(context.Background(), session, src, assets.IngestOptions{})
	if err != nil {
		t.Fatal(err)
	}
	r := render.New(render.Config{Assets: svc, FFmpeg: testsupport.FFmpegTool(cfg, runner), Runner: runner, Logger: logging.NewNop()})

	tl := timeline.Timeline{Width: 320, Height: 240, FPS: 25, Tracks: []timeline.Track{
		{ID: "v", Kind: timeline.TrackVideo, Clips: []timeline.Clip{
			{ID: "a", Type: timeline.ClipMedia, AssetID: asset.ID, TrimIn: 0.5, Duration: 1},
			{ID: "b", Type: timeline.ClipMedia, AssetID: asset.ID, Start: 1, Duration: 1},
		}},
	}}
	out, err := r.Render(context.Background(), session, tl, render.Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	info, err := os.Stat(out.Path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("missing output: %v", err)
	}
}
