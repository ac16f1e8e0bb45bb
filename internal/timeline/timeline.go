package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"cutroom/internal/animation"
	"cutroom/internal/services"
)

// ClipType discriminates the clip union.
type ClipType string

const (
	ClipMedia         ClipType = "media"
	ClipCaption       ClipType = "caption"
	ClipMotionGraphic ClipType = "motion_graphic"
)

// TrackKind describes what a track carries.
type TrackKind string

const (
	TrackVideo   TrackKind = "video"
	TrackOverlay TrackKind = "overlay"
	TrackAudio   TrackKind = "audio"
	TrackCaption TrackKind = "caption"
)

// Caption positions.
const (
	PositionBottom = "bottom"
	PositionTop    = "top"
	PositionCenter = "center"
)

// Transform places a visual clip on the canvas. Clips are first scaled to fit
// the canvas and centred; X and Y then offset the clip in pixels and Scale
// multiplies the fitted size. Zero Scale and nil Opacity mean 1.
type Transform struct {
	X       float64  `json:"x"`
	Y       float64  `json:"y"`
	Scale   float64  `json:"scale,omitempty"`
	Opacity *float64 `json:"opacity,omitempty"`
}

// ScaleOrDefault returns the scale multiplier.
func (t *Transform) ScaleOrDefault() float64 {
	if t == nil || t.Scale <= 0 {
		return 1
	}
	return t.Scale
}

// OpacityOrDefault returns the opacity in 0..1.
func (t *Transform) OpacityOrDefault() float64 {
	if t == nil || t.Opacity == nil {
		return 1
	}
	return *t.Opacity
}

// Word is one caption word. Times are relative to the caption clip's start.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// CaptionStyle controls drawtext rendering.
type CaptionStyle struct {
	FontSize int    `json:"fontSize,omitempty"`
	Color    string `json:"color,omitempty"`
	Position string `json:"position,omitempty"`
}

// Clip is a flat tagged union keyed by Type. Only the fields of the active
// variant are meaningful.
type Clip struct {
	ID        string     `json:"id"`
	Type      ClipType   `json:"type"`
	Start     float64    `json:"start"`
	Duration  float64    `json:"duration"`
	Transform *Transform `json:"transform,omitempty"`

	// media
	AssetID string   `json:"assetId,omitempty"`
	TrimIn  float64  `json:"trimIn,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
	Muted   bool     `json:"muted,omitempty"`

	// caption
	Text  string        `json:"text,omitempty"`
	Words []Word        `json:"words,omitempty"`
	Style *CaptionStyle `json:"style,omitempty"`

	// motion_graphic
	Scene *animation.Scene `json:"scene,omitempty"`
}

// End is the clip's exclusive end on the project timeline.
func (c Clip) End() float64 {
	return c.Start + c.Duration
}

// Gain returns the effective audio gain, defaulting to 1.
func (c Clip) Gain() float64 {
	if c.Muted {
		return 0
	}
	if c.Volume == nil {
		return 1
	}
	return *c.Volume
}

// Track is one layer of clips. Muted tracks contribute neither picture nor sound.
type Track struct {
	ID    string    `json:"id"`
	Kind  TrackKind `json:"kind"`
	Muted bool      `json:"muted,omitempty"`
	Clips []Clip    `json:"clips"`
}

// Timeline is the project document rendered into a single video. Track order
// is z-order: index 0 is the bottom layer.
type Timeline struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	Background string  `json:"background,omitempty"`
	Tracks     []Track `json:"tracks"`
}

// Duration is the end of the last clip.
func (t Timeline) Duration() float64 {
	var end float64
	for _, track := range t.Tracks {
		for _, clip := range track.Clips {
			end = math.Max(end, clip.End())
		}
	}
	return end
}

// AssetIDs lists the distinct assets referenced by media clips, in order of
// first use.
func (t Timeline) AssetIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, track := range t.Tracks {
		for _, clip := range track.Clips {
			if clip.Type == ClipMedia && !seen[clip.AssetID] {
				seen[clip.AssetID] = true
				out = append(out, clip.AssetID)
			}
		}
	}
	return out
}

// Find returns the track and clip index holding clipID.
func (t *Timeline) Find(clipID string) (int, int, bool) {
	for ti, track := range t.Tracks {
		for ci, clip := range track.Clips {
			if clip.ID == clipID {
				return ti, ci, true
			}
		}
	}
	return -1, -1, false
}

var colorPattern = regexp.MustCompile(`^(#[0-9a-fA-F]{6}|#[0-9a-fA-F]{8}|[a-zA-Z]+)$`)

// Validate checks the structural rules the renderer relies on. Asset
// existence is checked by the renderer against the live session.
func (t Timeline) Validate() error {
	const op = "validate timeline"
	switch {
	case t.Width <= 0 || t.Height <= 0 || t.Width > 7680 || t.Height > 4320:
		return services.Validation(op, "canvas must be between 1x1 and 7680x4320")
	case t.Width%2 != 0 || t.Height%2 != 0:
		return services.Validation(op, "canvas dimensions must be even")
	case !(t.FPS > 0 && t.FPS <= 120):
		return services.Validation(op, "fps must be in (0, 120]")
	case t.Background != "" && !colorPattern.MatchString(t.Background):
		return services.Validation(op, "background %q is not a colour", t.Background)
	}
	ids := map[string]bool{}
	for _, track := range t.Tracks {
		switch track.Kind {
		case TrackVideo, TrackOverlay, TrackAudio, TrackCaption:
		default:
			return services.Validation(op, "track %q has unknown kind %q", track.ID, track.Kind)
		}
		for _, clip := range track.Clips {
			if clip.ID == "" {
				return services.Validation(op, "track %q has a clip without id", track.ID)
			}
			if ids[clip.ID] {
				return services.Validation(op, "duplicate clip id %q", clip.ID)
			}
			ids[clip.ID] = true
			if err := clip.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c Clip) validate() error {
	const op = "validate timeline"
	bad := func(format string, args ...any) error {
		return services.Validation(op, "clip %q: %s", c.ID, fmt.Sprintf(format, args...))
	}
	if !finite(c.Start) || c.Start < 0 {
		return bad("start must be >= 0")
	}
	if !finite(c.Duration) || c.Duration <= 0 {
		return bad("duration must be > 0")
	}
	if tr := c.Transform; tr != nil {
		if !finite(tr.X) || !finite(tr.Y) || tr.Scale < 0 || tr.Scale > 10 || (tr.Opacity != nil && (*tr.Opacity < 0 || *tr.Opacity > 1)) {
			return bad("transform out of range")
		}
	}
	switch c.Type {
	case ClipMedia:
		if strings.TrimSpace(c.AssetID) == "" {
			return bad("assetId is required")
		}
		if !finite(c.TrimIn) || c.TrimIn < 0 {
			return bad("trimIn must be >= 0")
		}
		if c.Volume != nil && (*c.Volume < 0 || *c.Volume > 2) {
			return bad("volume must be in 0..2")
		}
	case ClipCaption:
		for _, w := range c.Words {
			if w.Start < 0 || w.End < w.Start {
				return bad("word %q has invalid timing", w.Text)
			}
		}
		if s := c.Style; s != nil {
			switch s.Position {
			case "", PositionBottom, PositionTop, PositionCenter:
			default:
				return bad("unknown caption position %q", s.Position)
			}
			if s.Color != "" && !colorPattern.MatchString(s.Color) {
				return bad("caption colour %q is invalid", s.Color)
			}
			if s.FontSize < 0 || s.FontSize > 400 {
				return bad("fontSize must be in 0..400")
			}
		}
	case ClipMotionGraphic:
		if c.Scene == nil || c.Scene.Content == nil {
			return bad("scene is required")
		}
		scene := *c.Scene
		scene.Normalize()
		if err := scene.Validate(); err != nil {
			return err
		}
	default:
		return bad("unknown clip type %q", c.Type)
	}
	return nil
}

// Parse decodes and validates a timeline document.
func Parse(data []byte) (Timeline, error) {
	var t Timeline
	if err := json.Unmarshal(data, &t); err != nil {
		return Timeline{}, services.Wrap(services.ErrValidation, "parse timeline", "decode", err.Error(), nil)
	}
	if err := t.Validate(); err != nil {
		return Timeline{}, err
	}
	return t, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
