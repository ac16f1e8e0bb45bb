// Package faces runs the face-tracking helper against a video asset and
// condenses its output into tracks the editor can follow when reframing.
package faces

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cutroom/internal/assets"
	"cutroom/internal/config"
	"cutroom/internal/logging"
	"cutroom/internal/procrun"
	"cutroom/internal/services"
)

// MinTrackSeconds is the shortest span a face must be followed to count.
const MinTrackSeconds = 1.0

const operation = "detect faces"

// Keyframe is one observation. Coordinates are normalized to 0..1 and x, y
// name the centre of the face box.
type Keyframe struct {
	T float64 `json:"t"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Track follows one face over time.
type Track struct {
	ID        int        `json:"id"`
	Keyframes []Keyframe `json:"keyframes"`
}

// Span is the time between the first and last keyframe.
func (t Track) Span() float64 {
	if len(t.Keyframes) == 0 {
		return 0
	}
	return t.Keyframes[len(t.Keyframes)-1].T - t.Keyframes[0].T
}

// Result is what Detect returns to the API.
type Result struct {
	Tracks         []Track  `json:"tracks"`
	PrimaryCenterX *float64 `json:"primaryCenterX,omitempty"`
}

// Detector runs the configured helper command.
type Detector struct {
	assets *assets.Service
	runner procrun.Runner
	cfg    config.Faces
	logger *slog.Logger
}

// NewDetector returns a detector.
func NewDetector(svc *assets.Service, runner procrun.Runner, cfg config.Faces, logger *slog.Logger) *Detector {
	return &Detector{assets: svc, runner: runner, cfg: cfg, logger: logging.NewComponentLogger(logger, "faces")}
}

// Detect tracks faces through a video asset.
func (d *Detector) Detect(ctx context.Context, sessionID, assetID string) (Result, error) {
	if len(d.cfg.Command) == 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, operation, "", "faces.command is empty", nil)
	}
	ctx = services.WithAssetID(services.WithSessionID(ctx, sessionID), assetID)
	path, asset, err := d.assets.Path(ctx, sessionID, assetID)
	if err != nil {
		return Result{}, err
	}
	if asset.Kind != assets.KindVideo {
		return Result{}, services.Validation(operation, "asset %s is %s, faces can only be tracked in video", assetID, asset.Kind)
	}

	timeout := time.Duration(d.cfg.TimeoutSeconds) * time.Second
	res, err := d.runner.Run(ctx, procrun.Command{
		Name:          d.cfg.Command[0],
		Args:          append(append([]string(nil), d.cfg.Command[1:]...), path),
		Timeout:       timeout,
		CaptureStdout: true,
	})
	if err != nil {
		return Result{}, procrun.Classify(operation, "track", err)
	}
	tracks, err := Parse(res.Stdout)
	if err != nil {
		return Result{}, err
	}

	out := Result{Tracks: tracks}
	if x, ok := PrimaryCenterX(tracks); ok {
		out.PrimaryCenterX = &x
	}
	logging.WithContext(ctx, d.logger).Info("faces tracked",
		logging.Int("tracks", len(tracks)),
		logging.Duration("elapsed", res.Duration),
		logging.String(logging.FieldEventType, "faces_tracked"),
	)
	return out, nil
}

type helperOutput struct {
	Tracks []Track `json:"tracks"`
	Error  string  `json:"error"`
}

// Parse decodes the helper's JSON, drops tracks shorter than MinTrackSeconds
// and orders the rest longest first.
func Parse(stdout []byte) ([]Track, error) {
	// The helper's dependencies sometimes print banners before the document.
	text := strings.TrimSpace(string(stdout))
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}
	var doc helperOutput
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, services.WrapDetail(services.ErrProcessing, operation, "parse", "helper printed invalid JSON", truncate(text, 400), err)
	}
	if doc.Error != "" {
		return nil, services.WrapDetail(services.ErrProcessing, operation, "track", "helper reported an error", doc.Error, nil)
	}
	tracks := make([]Track, 0, len(doc.Tracks))
	for _, t := range doc.Tracks {
		if t.Span() >= MinTrackSeconds {
			tracks = append(tracks, t)
		}
	}
	sort.SliceStable(tracks, func(i, j int) bool {
		return len(tracks[i].Keyframes) > len(tracks[j].Keyframes)
	})
	return tracks, nil
}

// PrimaryCenterX is the median horizontal centre of the first (longest)
// track, suitable as the reframe command's centerX.
func PrimaryCenterX(tracks []Track) (float64, bool) {
	if len(tracks) == 0 || len(tracks[0].Keyframes) == 0 {
		return 0, false
	}
	xs := make([]float64, len(tracks[0].Keyframes))
	for i, k := range tracks[0].Keyframes {
		xs[i] = min(max(k.X, 0), 1)
	}
	sort.Float64s(xs)
	mid := len(xs) / 2
	if len(xs)%2 == 1 {
		return xs[mid], true
	}
	return (xs[mid-1] + xs[mid]) / 2, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
