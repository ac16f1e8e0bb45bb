package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cutroom/internal/animation"
	"cutroom/internal/assets"
	"cutroom/internal/catalog"
	"cutroom/internal/fileutil"
	"cutroom/internal/ids"
	"cutroom/internal/logging"
	"cutroom/internal/media/ffmpeg"
	"cutroom/internal/media/ffprobe"
	"cutroom/internal/procrun"
	"cutroom/internal/services"
	"cutroom/internal/timeline"
)

// Stage names reported in render errors.
const (
	StageValidate       = "validate"
	StageProbe          = "probe"
	StageMotionGraphics = "motion_graphics"
	StageCompose        = "compose"
	StageEncode         = "encode"
)

const operation = "render timeline"

// SceneRenderer turns a motion-graphic scene into a registered overlay asset.
type SceneRenderer interface {
	RenderScene(ctx context.Context, sessionID string, scene animation.Scene) (assets.Asset, error)
}

// Options controls what happens with a finished render.
type Options struct {
	RegisterAsset bool
}

// Output describes a finished render.
type Output struct {
	RenderID string        `json:"renderId"`
	Path     string        `json:"-"`
	Duration float64       `json:"duration"`
	Asset    *assets.Asset `json:"asset,omitempty"`
}

// Config wires the compositor to its collaborators.
type Config struct {
	Assets        *assets.Service
	FFmpeg        ffmpeg.Tool
	Runner        procrun.Runner
	FFprobeBinary string
	Scenes        SceneRenderer
	Logger        *slog.Logger
	// ProbeWorkers bounds concurrent ffprobe calls. Zero means 4.
	ProbeWorkers int
}

// Renderer flattens timelines into single MP4 files.
type Renderer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New returns a renderer.
func New(cfg Config) *Renderer {
	if cfg.ProbeWorkers <= 0 {
		cfg.ProbeWorkers = 4
	}
	if cfg.FFprobeBinary == "" {
		cfg.FFprobeBinary = "ffprobe"
	}
	return &Renderer{cfg: cfg, logger: logging.NewComponentLogger(cfg.Logger, "render"), now: time.Now}
}

// Render composes tl into renders/<id>.mp4 inside the session.
func (r *Renderer) Render(ctx context.Context, sessionID string, tl timeline.Timeline, opts Options) (Output, error) {
	ctx = services.WithSessionID(ctx, sessionID)
	logger := logging.WithContext(ctx, r.logger)
	started := r.now()

	out, err := r.render(ctx, sessionID, tl, opts)
	if err != nil {
		stage := ""
		if se, ok := services.AsServiceError(err); ok {
			stage = se.Stage
		}
		logging.WarnWithContext(logger, "timeline render failed", "render_failed",
			logging.String("stage", stage),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no output was written"),
			logging.String(logging.FieldErrorHint, "inspect the stage named in the error and the tool log"),
		)
		return Output{}, err
	}
	logger.Info("timeline rendered",
		logging.String("render_id", out.RenderID),
		logging.Float64("duration_seconds", out.Duration),
		logging.Duration("elapsed", r.now().Sub(started)),
		logging.Bool("registered", out.Asset != nil),
		logging.String(logging.FieldEventType, "render_complete"),
	)
	return out, nil
}

func (r *Renderer) render(ctx context.Context, sessionID string, tl timeline.Timeline, opts Options) (Output, error) {
	layout := r.cfg.Assets.Layout()
	if _, err := layout.SessionPath(sessionID); err != nil {
		return Output{}, err
	}

	// validate
	if err := tl.Validate(); err != nil {
		return Output{}, restage(err, StageValidate)
	}
	duration := tl.Duration()
	if duration <= 0 {
		return Output{}, services.Wrap(services.ErrValidation, operation, StageValidate, "timeline has no clips", nil)
	}
	for _, id := range tl.AssetIDs() {
		if _, err := r.cfg.Assets.Get(ctx, sessionID, id); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return Output{}, services.Wrap(services.ErrValidation, operation, StageValidate,
					fmt.Sprintf("clip references unknown asset %s", id), err)
			}
			return Output{}, restage(err, StageValidate)
		}
	}

	// probe
	sources, err := r.probe(ctx, sessionID, tl.AssetIDs())
	if err != nil {
		return Output{}, err
	}

	// motion_graphics
	tl, err = r.motionGraphics(ctx, sessionID, tl, sources)
	if err != nil {
		return Output{}, err
	}

	// compose + encode
	renderID := ids.New()
	tmp, err := layout.TempFile(sessionID, "render-*.mp4")
	if err != nil {
		return Output{}, err
	}
	defer os.Remove(tmp)
	cmd := compose(tl, sources, duration, tmp)
	if _, err := r.cfg.FFmpeg.Run(ctx, operation, StageCompose, cmd); err != nil {
		return Output{}, err
	}
	if !fileutil.NonEmpty(tmp) {
		return Output{}, services.Wrap(services.ErrProcessing, operation, StageEncode, "encoder produced an empty file", nil)
	}
	final, err := layout.RenderPath(sessionID, renderID)
	if err != nil {
		return Output{}, err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return Output{}, services.Wrap(services.ErrProcessing, operation, StageEncode, "create renders directory", err)
	}
	if err := fileutil.MoveFile(tmp, final); err != nil {
		return Output{}, services.Wrap(services.ErrProcessing, operation, StageEncode, "move render into place", err)
	}

	out := Output{RenderID: renderID, Path: final, Duration: duration}
	if opts.RegisterAsset {
		asset, err := r.cfg.Assets.IngestFile(ctx, sessionID, final, assets.IngestOptions{
			FileName: "render-" + renderID + ".mp4",
			Source:   assets.SourceRender,
		})
		if err != nil {
			return Output{}, err
		}
		out.Asset = &asset
	}
	r.record(ctx, sessionID, out)
	return out, nil
}

// probe resolves every referenced asset through the asset service and reads
// its streams. Stored metadata is used when the live probe fails.
func (r *Renderer) probe(ctx context.Context, sessionID string, assetIDs []string) (map[string]source, error) {
	var (
		mu      sync.Mutex
		sources = make(map[string]source, len(assetIDs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ProbeWorkers)
	for _, id := range assetIDs {
		g.Go(func() error {
			path, asset, err := r.cfg.Assets.Path(gctx, sessionID, id)
			if err != nil {
				return restage(err, StageProbe)
			}
			src := source{
				path:     path,
				hasVideo: asset.HasVideo(),
				hasAudio: asset.HasAudio(),
				still:    asset.Kind == assets.KindImage,
				duration: asset.Duration(),
			}
			if result, err := ffprobe.Inspect(gctx, r.cfg.Runner, r.cfg.FFprobeBinary, path); err == nil {
				summary := result.Summarize()
				src.hasVideo = summary.HasVideo
				src.hasAudio = summary.HasAudio
				if summary.Duration > 0 {
					src.duration = summary.Duration
				}
			} else if gctx.Err() != nil {
				return services.Wrap(services.ErrProcessing, operation, StageProbe, "probe canceled", gctx.Err())
			}
			if !src.hasVideo && !src.hasAudio {
				return services.Wrap(services.ErrValidation, operation, StageProbe,
					fmt.Sprintf("asset %s has no usable streams", id), nil)
			}
			mu.Lock()
			sources[id] = src
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sources, nil
}

// motionGraphics renders every motion_graphic clip into an overlay asset and
// replaces the clip with a silent media clip pointing at it.
func (r *Renderer) motionGraphics(ctx context.Context, sessionID string, tl timeline.Timeline, sources map[string]source) (timeline.Timeline, error) {
	out := tl
	out.Tracks = make([]timeline.Track, len(tl.Tracks))
	for ti, track := range tl.Tracks {
		track.Clips = append([]timeline.Clip(nil), track.Clips...)
		for ci, clip := range track.Clips {
			if clip.Type != timeline.ClipMotionGraphic || track.Muted {
				continue
			}
			if r.cfg.Scenes == nil {
				return timeline.Timeline{}, services.Wrap(services.ErrConfiguration, operation, StageMotionGraphics, "animation renderer is not configured", nil)
			}
			scene := *clip.Scene
			scene.DurationSeconds = clip.Duration
			if scene.Width == 0 && scene.Height == 0 {
				scene.Width, scene.Height = tl.Width, tl.Height
			}
			if scene.FPS == 0 {
				scene.FPS = int(math.Max(1, math.Round(tl.FPS)))
			}
			asset, err := r.cfg.Scenes.RenderScene(ctx, sessionID, scene)
			if err != nil {
				return timeline.Timeline{}, restage(err, StageMotionGraphics)
			}
			path, _, err := r.cfg.Assets.Path(ctx, sessionID, asset.ID)
			if err != nil {
				return timeline.Timeline{}, restage(err, StageMotionGraphics)
			}
			sources[asset.ID] = source{path: path, hasVideo: true, duration: clip.Duration}
			track.Clips[ci] = timeline.Clip{
				ID:        clip.ID,
				Type:      timeline.ClipMedia,
				Start:     clip.Start,
				Duration:  clip.Duration,
				Transform: clip.Transform,
				AssetID:   asset.ID,
				Muted:     true,
			}
		}
		out.Tracks[ti] = track
	}
	return out, nil
}

func (r *Renderer) record(ctx context.Context, sessionID string, out Output) {
	cat := r.cfg.Assets.Layout().Catalog()
	if cat == nil {
		return
	}
	rec := catalog.Render{
		ID:        out.RenderID,
		SessionID: sessionID,
		FileName:  filepath.Base(out.Path),
		Duration:  out.Duration,
		CreatedAt: r.now().UTC(),
	}
	if info, err := os.Stat(out.Path); err == nil {
		rec.SizeBytes = info.Size()
	}
	if out.Asset != nil {
		rec.AssetID = out.Asset.ID
	}
	if err := cat.RecordRender(ctx, rec); err != nil {
		logging.WarnWithContext(r.logger, "render history not recorded", "catalog_render_failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "render file exists but is missing from history"),
			logging.String(logging.FieldErrorHint, "check catalog.db permissions"),
		)
	}
}

// restage fills in the stage of a service error raised by a collaborator.
func restage(err error, stage string) error {
	if se, ok := services.AsServiceError(err); ok && se.Stage == "" {
		staged := *se
		staged.Stage = stage
		return &staged
	}
	return err
}
