package silence

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"cutroom/internal/assets"
	"cutroom/internal/config"
	"cutroom/internal/logging"
	"cutroom/internal/media/ffmpeg"
	"cutroom/internal/services"
)

// State is one step of a removal run.
type State string

const (
	StateIdle          State = "idle"
	StateDetecting     State = "detecting"
	StateExtracting    State = "extracting"
	StateConcatenating State = "concatenating"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

const operation = "remove dead air"

// Options overrides the configured detection parameters for one request.
type Options struct {
	ThresholdDB *float64
	MinDuration *float64
}

// Result reports what a run removed.
type Result struct {
	Duration         float64      `json:"duration"`
	OriginalDuration float64      `json:"originalDuration"`
	RemovedDuration  float64      `json:"removedDuration"`
	Segments         int          `json:"segments"`
	Silences         []Interval   `json:"silences"`
	States           []State      `json:"states"`
	Asset            assets.Asset `json:"asset"`
}

// Remover cuts silent stretches out of an asset and swaps the result in place.
type Remover struct {
	assets   *assets.Service
	ffmpeg   ffmpeg.Tool
	defaults config.Silence
	logger   *slog.Logger
}

// New constructs a Remover.
func New(svc *assets.Service, tool ffmpeg.Tool, defaults config.Silence, logger *slog.Logger) *Remover {
	if defaults.Workers <= 0 {
		defaults.Workers = 1
	}
	return &Remover{
		assets:   svc,
		ffmpeg:   tool,
		defaults: defaults,
		logger:   logging.NewComponentLogger(logger, "silence"),
	}
}

type run struct {
	states []State
	logger *slog.Logger
}

func (r *run) enter(state State, attrs ...logging.Attr) {
	r.states = append(r.states, state)
	attrs = append(attrs,
		logging.String("state", string(state)),
		logging.String(logging.FieldEventType, "silence_"+string(state)),
	)
	r.logger.Debug("dead air removal state", logging.Args(attrs...)...)
}

// Remove detects silence, re-encodes each keep interval, concatenates them
// and replaces the asset. An asset without silence is left untouched.
func (r *Remover) Remove(ctx context.Context, sessionID, assetID string, opts Options) (Result, error) {
	threshold := r.defaults.ThresholdDB
	if opts.ThresholdDB != nil {
		threshold = *opts.ThresholdDB
	}
	minDuration := r.defaults.MinDuration
	if opts.MinDuration != nil {
		minDuration = *opts.MinDuration
	}
	if threshold >= 0 || threshold < -100 {
		return Result{}, services.Validation(operation, "thresholdDb must be between -100 and 0")
	}
	if minDuration <= 0 || minDuration > 60 {
		return Result{}, services.Validation(operation, "minDuration must be between 0 and 60 seconds")
	}

	ctx = services.WithAssetID(services.WithSessionID(ctx, sessionID), assetID)
	tracker := &run{logger: logging.WithContext(ctx, r.logger)}
	tracker.enter(StateIdle)
	var result Result

	updated, err := r.assets.Edit(ctx, sessionID, assetID, func(ctx context.Context, src, dst string) error {
		current, err := r.assets.Get(ctx, sessionID, assetID)
		if err != nil {
			return err
		}
		if current.Kind == assets.KindImage || !current.HasAudio() {
			return services.Validation(operation, "asset has no audio to analyse")
		}

		tracker.enter(StateDetecting)
		detect := ffmpeg.New().Input(src).
			AudioFilter(fmt.Sprintf("silencedetect=noise=%gdB:d=%g", threshold, minDuration)).
			Set("-vn").
			NullOutput()
		stderr, err := r.ffmpeg.Analyze(ctx, operation, string(StateDetecting), detect)
		if err != nil {
			return err
		}
		total := current.Duration()
		if total <= 0 {
			total = parseInputDuration(stderr)
		}
		if total <= 0 {
			return services.Wrap(services.ErrProcessing, operation, string(StateDetecting), "media duration is unknown", nil)
		}

		silences := parseSilences(stderr, total)
		result.OriginalDuration = total
		result.Silences = silences
		if len(silences) == 0 {
			result.Duration = total
			return assets.ErrNoChange
		}
		keep := keepIntervals(silences, total)
		if len(keep) == 0 {
			return services.Validation(operation, "asset is entirely silent")
		}
		result.Segments = len(keep)
		result.Duration = totalLength(keep)
		result.RemovedDuration = total - result.Duration

		workDir, err := r.assets.Layout().MkdirTemp(sessionID, "silence-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)

		tracker.enter(StateExtracting, logging.Int("segments", len(keep)))
		ext := strings.ToLower(filepath.Ext(dst))
		segments, err := r.extract(ctx, workDir, src, ext, current, keep)
		if err != nil {
			return err
		}

		tracker.enter(StateConcatenating)
		return r.concat(ctx, workDir, segments, dst)
	})
	if err != nil {
		tracker.enter(StateFailed)
		result.States = tracker.states
		logging.WarnWithContext(tracker.logger, "dead air removal failed; original kept", "silence_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "asset unchanged"),
			logging.String(logging.FieldErrorHint, "retry with a lower threshold or inspect the ffmpeg detail"),
		)
		return result, err
	}
	tracker.enter(StateDone)
	result.States = tracker.states
	result.Asset = updated
	tracker.logger.Info("dead air removed",
		logging.Int("segments", result.Segments),
		logging.Seconds("removed", result.RemovedDuration),
		logging.Seconds("duration", result.Duration),
		logging.String(logging.FieldEventType, "silence_removed"),
	)
	return result, nil
}

// extract re-encodes every keep interval concurrently and returns the
// segment paths in temporal order.
func (r *Remover) extract(ctx context.Context, workDir, src, ext string, asset assets.Asset, keep []Interval) ([]string, error) {
	paths := make([]string, len(keep))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.defaults.Workers)
	for i, iv := range keep {
		paths[i] = filepath.Join(workDir, fmt.Sprintf("seg_%04d%s", i, ext))
		g.Go(func() error {
			cmd := ffmpeg.New().
				Input(src, "-ss", ffmpeg.Seconds(iv.Start)).
				Set("-t", ffmpeg.Seconds(iv.Length())).
				Set(segmentCodecs(ext, asset.HasVideo() && asset.Kind != assets.KindAudio, asset.HasAudio())...).
				Output(paths[i])
			if _, err := r.ffmpeg.Run(gctx, operation, string(StateExtracting), cmd); err != nil {
				return services.Wrap(services.ErrPartialPipeline, operation, string(StateExtracting),
					fmt.Sprintf("segment %d of %d failed", i, len(keep)), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (r *Remover) concat(ctx context.Context, workDir string, segments []string, dst string) error {
	var list strings.Builder
	for _, p := range segments {
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	listPath := filepath.Join(workDir, "segments.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return services.Wrap(services.ErrProcessing, operation, string(StateConcatenating), "write segment list", err)
	}
	cmd := ffmpeg.New().
		Input(listPath, "-f", "concat", "-safe", "0").
		Set("-c", "copy")
	if ext := strings.ToLower(filepath.Ext(dst)); ext == ".mp4" || ext == ".mov" || ext == ".m4v" || ext == ".m4a" {
		cmd.Set(ffmpeg.FastStart...)
	}
	_, err := r.ffmpeg.Run(ctx, operation, string(StateConcatenating), cmd.Output(dst))
	return err
}

// segmentCodecs picks encoders the concat step can stream-copy into ext.
func segmentCodecs(ext string, video, audio bool) []string {
	var out []string
	switch {
	case !video:
		out = append(out, "-vn")
	case ext == ".webm":
		out = append(out, "-c:v", "libvpx-vp9", "-crf", "32", "-b:v", "0")
	default:
		out = append(out, ffmpeg.H264...)
	}
	switch {
	case !audio:
		out = append(out, "-an")
	case ext == ".webm" || ext == ".ogg" || ext == ".opus":
		out = append(out, "-c:a", "libopus", "-b:a", "128k")
	case ext == ".mp3":
		out = append(out, "-c:a", "libmp3lame", "-q:a", "2")
	case ext == ".wav":
		out = append(out, "-c:a", "pcm_s16le")
	case ext == ".flac":
		out = append(out, "-c:a", "flac")
	default:
		out = append(out, ffmpeg.AAC...)
	}
	return out
}
