package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"cutroom/internal/services"
)

// Op names a transformation.
type Op string

const (
	OpTrim           Op = "trim"
	OpCrop           Op = "crop"
	OpScale          Op = "scale"
	OpSpeed          Op = "speed"
	OpVolume         Op = "volume"
	OpMute           Op = "mute"
	OpRotate         Op = "rotate"
	OpFlip           Op = "flip"
	OpFade           Op = "fade"
	OpColor          Op = "color"
	OpDenoise        Op = "denoise"
	OpNormalizeAudio Op = "normalize_audio"
	OpReframe        Op = "reframe"
	OpReverse        Op = "reverse"
)

// Media is what an operation needs to know about its input.
type Media struct {
	Duration float64
	Width    int
	Height   int
	HasVideo bool
	HasAudio bool
	Still    bool
}

// Operation is one variant of the command union.
type Operation interface {
	Op() Op
	Validate(m Media) error
	build(m Media) argPlan
}

// Spec is the validated, structured form of a command. It is encoded as a
// JSON object whose "op" field selects the variant.
type Spec struct {
	Operation
}

type (
	Trim struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}
	Crop struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	// Scale accepts -2 on one side to keep the aspect ratio with an even size.
	Scale struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	Speed struct {
		Factor float64 `json:"factor"`
	}
	Volume struct {
		Gain float64 `json:"gain"`
	}
	Mute   struct{}
	Rotate struct {
		Degrees int `json:"degrees"`
	}
	Flip struct {
		Direction string `json:"direction"`
	}
	Fade struct {
		In  float64 `json:"in"`
		Out float64 `json:"out"`
	}
	Color struct {
		Brightness *float64 `json:"brightness,omitempty"`
		Contrast   *float64 `json:"contrast,omitempty"`
		Saturation *float64 `json:"saturation,omitempty"`
	}
	Denoise        struct{}
	NormalizeAudio struct{}
	// Reframe crops to a new aspect ratio around a horizontal focus point.
	Reframe struct {
		Aspect  string   `json:"aspect"`
		CenterX *float64 `json:"centerX,omitempty"`
	}
	Reverse struct{}
)

func (Trim) Op() Op           { return OpTrim }
func (Crop) Op() Op           { return OpCrop }
func (Scale) Op() Op          { return OpScale }
func (Speed) Op() Op          { return OpSpeed }
func (Volume) Op() Op         { return OpVolume }
func (Mute) Op() Op           { return OpMute }
func (Rotate) Op() Op         { return OpRotate }
func (Flip) Op() Op           { return OpFlip }
func (Fade) Op() Op           { return OpFade }
func (Color) Op() Op          { return OpColor }
func (Denoise) Op() Op        { return OpDenoise }
func (NormalizeAudio) Op() Op { return OpNormalizeAudio }
func (Reframe) Op() Op        { return OpReframe }
func (Reverse) Op() Op        { return OpReverse }

var constructors = map[Op]func() Operation{
	OpTrim:           func() Operation { return &Trim{} },
	OpCrop:           func() Operation { return &Crop{} },
	OpScale:          func() Operation { return &Scale{} },
	OpSpeed:          func() Operation { return &Speed{} },
	OpVolume:         func() Operation { return &Volume{} },
	OpMute:           func() Operation { return &Mute{} },
	OpRotate:         func() Operation { return &Rotate{} },
	OpFlip:           func() Operation { return &Flip{} },
	OpFade:           func() Operation { return &Fade{} },
	OpColor:          func() Operation { return &Color{} },
	OpDenoise:        func() Operation { return &Denoise{} },
	OpNormalizeAudio: func() Operation { return &NormalizeAudio{} },
	OpReframe:        func() Operation { return &Reframe{} },
	OpReverse:        func() Operation { return &Reverse{} },
}

// Ops lists the supported operation names in sorted order.
func Ops() []string {
	out := make([]string, 0, len(constructors))
	for op := range constructors {
		out = append(out, string(op))
	}
	sort.Strings(out)
	return out
}

// UnmarshalJSON selects the variant by "op" and rejects unknown fields.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var head struct {
		Op Op `json:"op"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	ctor, ok := constructors[Op(strings.ToLower(strings.TrimSpace(string(head.Op))))]
	if !ok {
		return fmt.Errorf("unknown command op %q (supported: %s)", head.Op, strings.Join(Ops(), ", "))
	}
	target := ctor()
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	delete(fields, "op")
	rest, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(rest))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode %s command: %w", head.Op, err)
	}
	s.Operation = deref(target)
	return nil
}

// MarshalJSON writes the variant's fields plus "op".
func (s Spec) MarshalJSON() ([]byte, error) {
	if s.Operation == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(s.Operation)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	op, _ := json.Marshal(s.Op())
	fields["op"] = op
	return json.Marshal(fields)
}

// Parse decodes and validates a command against the given media.
func Parse(data []byte, m Media) (Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return Spec{}, services.Wrap(services.ErrValidation, "process asset", "parse", err.Error(), nil)
	}
	if err := spec.Validate(m); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate checks the spec against the media it will run on.
func (s Spec) Validate(m Media) error {
	if s.Operation == nil {
		return invalid("", "command is empty")
	}
	return s.Operation.Validate(m)
}

func deref(op Operation) Operation {
	switch v := op.(type) {
	case *Trim:
		return *v
	case *Crop:
		return *v
	case *Scale:
		return *v
	case *Speed:
		return *v
	case *Volume:
		return *v
	case *Mute:
		return *v
	case *Rotate:
		return *v
	case *Flip:
		return *v
	case *Fade:
		return *v
	case *Color:
		return *v
	case *Denoise:
		return *v
	case *NormalizeAudio:
		return *v
	case *Reframe:
		return *v
	case *Reverse:
		return *v
	}
	return op
}

func invalid(op Op, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if op != "" {
		msg = string(op) + ": " + msg
	}
	return services.Wrap(services.ErrValidation, "process asset", "validate", msg, nil)
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

const durationSlack = 0.05

func (t Trim) Validate(m Media) error {
	switch {
	case m.Still:
		return invalid(OpTrim, "images have no duration")
	case !finite(t.Start, t.End):
		return invalid(OpTrim, "start and end must be numbers")
	case t.Start < 0:
		return invalid(OpTrim, "start must not be negative")
	case t.End <= t.Start:
		return invalid(OpTrim, "end (%.3f) must be after start (%.3f)", t.End, t.Start)
	case m.Duration > 0 && t.Start >= m.Duration:
		return invalid(OpTrim, "start %.3f is past the end of the media (%.3f)", t.Start, m.Duration)
	case m.Duration > 0 && t.End > m.Duration+durationSlack:
		return invalid(OpTrim, "end %.3f is past the end of the media (%.3f)", t.End, m.Duration)
	}
	return nil
}

func (c Crop) Validate(m Media) error {
	switch {
	case !m.HasVideo:
		return invalid(OpCrop, "media has no picture")
	case c.Width <= 0 || c.Height <= 0:
		return invalid(OpCrop, "width and height must be positive")
	case c.X < 0 || c.Y < 0:
		return invalid(OpCrop, "x and y must not be negative")
	case m.Width > 0 && c.X+c.Width > m.Width:
		return invalid(OpCrop, "crop exceeds frame width %d", m.Width)
	case m.Height > 0 && c.Y+c.Height > m.Height:
		return invalid(OpCrop, "crop exceeds frame height %d", m.Height)
	}
	return nil
}

func (s Scale) Validate(m Media) error {
	ok := func(v int) bool { return v > 0 || v == -2 }
	switch {
	case !m.HasVideo:
		return invalid(OpScale, "media has no picture")
	case !ok(s.Width) || !ok(s.Height):
		return invalid(OpScale, "width and height must be positive or -2")
	case s.Width == -2 && s.Height == -2:
		return invalid(OpScale, "only one side may be -2")
	case s.Width > 8192 || s.Height > 8192:
		return invalid(OpScale, "maximum dimension is 8192")
	}
	return nil
}

func (s Speed) Validate(m Media) error {
	switch {
	case m.Still:
		return invalid(OpSpeed, "images have no duration")
	case !finite(s.Factor) || s.Factor < 0.25 || s.Factor > 4:
		return invalid(OpSpeed, "factor must be between 0.25 and 4")
	case s.Factor == 1:
		return invalid(OpSpeed, "factor 1 changes nothing")
	}
	return nil
}

func (v Volume) Validate(m Media) error {
	switch {
	case !m.HasAudio:
		return invalid(OpVolume, "media has no audio")
	case !finite(v.Gain) || v.Gain < 0 || v.Gain > 4:
		return invalid(OpVolume, "gain must be between 0 and 4")
	}
	return nil
}

func (Mute) Validate(m Media) error {
	switch {
	case !m.HasVideo:
		return invalid(OpMute, "muting audio-only media would leave nothing")
	case !m.HasAudio:
		return invalid(OpMute, "media has no audio")
	}
	return nil
}

func (r Rotate) Validate(m Media) error {
	if !m.HasVideo {
		return invalid(OpRotate, "media has no picture")
	}
	switch r.Degrees {
	case 90, 180, 270, -90:
		return nil
	}
	return invalid(OpRotate, "degrees must be 90, 180 or 270")
}

func (f Flip) Validate(m Media) error {
	if !m.HasVideo {
		return invalid(OpFlip, "media has no picture")
	}
	switch f.Direction {
	case "horizontal", "vertical":
		return nil
	}
	return invalid(OpFlip, "direction must be horizontal or vertical")
}

func (f Fade) Validate(m Media) error {
	switch {
	case m.Still:
		return invalid(OpFade, "images have no duration")
	case !finite(f.In, f.Out) || f.In < 0 || f.Out < 0:
		return invalid(OpFade, "fade lengths must not be negative")
	case f.In == 0 && f.Out == 0:
		return invalid(OpFade, "set in or out")
	case f.Out > 0 && m.Duration <= 0:
		return invalid(OpFade, "fade out needs a known duration")
	case m.Duration > 0 && f.In+f.Out > m.Duration:
		return invalid(OpFade, "fades (%.2fs) are longer than the media (%.2fs)", f.In+f.Out, m.Duration)
	}
	return nil
}

func (c Color) Validate(m Media) error {
	if !m.HasVideo {
		return invalid(OpColor, "media has no picture")
	}
	if c.Brightness == nil && c.Contrast == nil && c.Saturation == nil {
		return invalid(OpColor, "set brightness, contrast or saturation")
	}
	check := func(name string, v *float64, lo, hi float64) error {
		if v != nil && (!finite(*v) || *v < lo || *v > hi) {
			return invalid(OpColor, "%s must be between %g and %g", name, lo, hi)
		}
		return nil
	}
	if err := check("brightness", c.Brightness, -1, 1); err != nil {
		return err
	}
	if err := check("contrast", c.Contrast, 0, 3); err != nil {
		return err
	}
	return check("saturation", c.Saturation, 0, 3)
}

func (Denoise) Validate(Media) error { return nil }

func (NormalizeAudio) Validate(m Media) error {
	if !m.HasAudio {
		return invalid(OpNormalizeAudio, "media has no audio")
	}
	return nil
}

var aspectRatios = map[string][2]int{
	"9:16": {9, 16},
	"1:1":  {1, 1},
	"4:5":  {4, 5},
	"16:9": {16, 9},
}

func (r Reframe) Validate(m Media) error {
	if !m.HasVideo || m.Still {
		return invalid(OpReframe, "reframe needs video")
	}
	if _, ok := aspectRatios[r.Aspect]; !ok {
		return invalid(OpReframe, "aspect must be one of 9:16, 1:1, 4:5, 16:9")
	}
	if r.CenterX != nil && (!finite(*r.CenterX) || *r.CenterX < 0 || *r.CenterX > 1) {
		return invalid(OpReframe, "centerX must be between 0 and 1")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return invalid(OpReframe, "frame size is unknown; probe the asset first")
	}
	return nil
}

func (Reverse) Validate(m Media) error {
	if m.Still {
		return invalid(OpReverse, "images have no duration")
	}
	return nil
}
