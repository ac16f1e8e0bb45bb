package animation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"cutroom/internal/services"
)

// Kind selects a motion-graphic template.
type Kind string

const (
	KindTitle       Kind = "title"
	KindLowerThird  Kind = "lower_third"
	KindKineticText Kind = "kinetic_text"
	KindBulletList  Kind = "bullet_list"
	KindCounter     Kind = "counter"
)

// Scene defaults and limits.
const (
	DefaultDuration = 4.0
	MaxDuration     = 60.0
	DefaultWidth    = 1920
	DefaultHeight   = 1080
	DefaultFPS      = 30
)

// Content is the template-specific part of a scene.
type Content interface {
	Kind() Kind
	Validate() error
}

type (
	Title struct {
		Title    string `json:"title"`
		Subtitle string `json:"subtitle,omitempty"`
	}
	LowerThird struct {
		Name string `json:"name"`
		Role string `json:"role,omitempty"`
	}
	KineticText struct {
		Lines []string `json:"lines"`
	}
	BulletList struct {
		Heading string   `json:"heading,omitempty"`
		Items   []string `json:"items"`
	}
	Counter struct {
		From   float64 `json:"from"`
		To     float64 `json:"to"`
		Label  string  `json:"label,omitempty"`
		Suffix string  `json:"suffix,omitempty"`
	}
)

func (Title) Kind() Kind       { return KindTitle }
func (LowerThird) Kind() Kind  { return KindLowerThird }
func (KineticText) Kind() Kind { return KindKineticText }
func (BulletList) Kind() Kind  { return KindBulletList }
func (Counter) Kind() Kind     { return KindCounter }

func (t Title) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return invalid("title: title is required")
	}
	return nil
}

func (l LowerThird) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return invalid("lower_third: name is required")
	}
	return nil
}

func (k KineticText) Validate() error {
	if len(nonBlank(k.Lines)) == 0 {
		return invalid("kinetic_text: at least one line is required")
	}
	if len(k.Lines) > 12 {
		return invalid("kinetic_text: at most 12 lines")
	}
	return nil
}

func (b BulletList) Validate() error {
	if len(nonBlank(b.Items)) == 0 {
		return invalid("bullet_list: at least one item is required")
	}
	if len(b.Items) > 8 {
		return invalid("bullet_list: at most 8 items")
	}
	return nil
}

func (c Counter) Validate() error {
	if math.IsNaN(c.From) || math.IsNaN(c.To) || math.IsInf(c.From, 0) || math.IsInf(c.To, 0) {
		return invalid("counter: from and to must be numbers")
	}
	if c.From == c.To {
		return invalid("counter: from and to must differ")
	}
	return nil
}

var constructors = map[Kind]func() Content{
	KindTitle:       func() Content { return &Title{} },
	KindLowerThird:  func() Content { return &LowerThird{} },
	KindKineticText: func() Content { return &KineticText{} },
	KindBulletList:  func() Content { return &BulletList{} },
	KindCounter:     func() Content { return &Counter{} },
}

// Kinds lists the template names in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(constructors))
	for k := range constructors {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Scene is a complete motion-graphic description: template content plus
// timing and canvas. It is also the props document handed to the renderer.
type Scene struct {
	Content
	DurationSeconds float64 `json:"durationSeconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPS             int     `json:"fps"`
}

type sceneHead struct {
	Kind            Kind    `json:"kind"`
	DurationSeconds float64 `json:"durationSeconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPS             int     `json:"fps"`
}

// UnmarshalJSON selects the template by "kind". Fields a template does not
// use are ignored.
func (s *Scene) UnmarshalJSON(data []byte) error {
	var head sceneHead
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode scene: %w", err)
	}
	ctor, ok := constructors[Kind(strings.ToLower(strings.TrimSpace(string(head.Kind))))]
	if !ok {
		return fmt.Errorf("unknown scene kind %q (supported: %s)", head.Kind, strings.Join(Kinds(), ", "))
	}
	content := ctor()
	if err := json.Unmarshal(data, content); err != nil {
		return fmt.Errorf("decode %s scene: %w", head.Kind, err)
	}
	s.Content = deref(content)
	s.DurationSeconds = head.DurationSeconds
	s.Width = head.Width
	s.Height = head.Height
	s.FPS = head.FPS
	return nil
}

// MarshalJSON flattens the template fields next to the common ones.
func (s Scene) MarshalJSON() ([]byte, error) {
	if s.Content == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(s.Content)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	head, err := json.Marshal(sceneHead{
		Kind:            s.Kind(),
		DurationSeconds: s.DurationSeconds,
		Width:           s.Width,
		Height:          s.Height,
		FPS:             s.FPS,
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(head, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// Normalize fills unset timing and canvas fields with defaults.
func (s *Scene) Normalize() {
	if s.DurationSeconds == 0 {
		s.DurationSeconds = DefaultDuration
	}
	if s.Width == 0 {
		s.Width = DefaultWidth
	}
	if s.Height == 0 {
		s.Height = DefaultHeight
	}
	if s.FPS == 0 {
		s.FPS = DefaultFPS
	}
}

// Validate checks common fields and delegates to the template.
func (s Scene) Validate() error {
	if s.Content == nil {
		return invalid("scene kind is required")
	}
	switch {
	case math.IsNaN(s.DurationSeconds) || s.DurationSeconds <= 0 || s.DurationSeconds > MaxDuration:
		return invalid(fmt.Sprintf("durationSeconds must be in (0, %g]", MaxDuration))
	case s.Width <= 0 || s.Height <= 0 || s.Width > 4096 || s.Height > 4096:
		return invalid("width and height must be in 1..4096")
	case s.Width%2 != 0 || s.Height%2 != 0:
		return invalid("width and height must be even")
	case s.FPS <= 0 || s.FPS > 60:
		return invalid("fps must be in 1..60")
	}
	return s.Content.Validate()
}

// Frames is the composition length in frames.
func (s Scene) Frames() int {
	return max(1, int(math.Round(s.DurationSeconds*float64(s.FPS))))
}

// ParseScene decodes, normalizes and validates a scene document.
func ParseScene(data []byte) (Scene, error) {
	var scene Scene
	if err := json.Unmarshal(data, &scene); err != nil {
		return Scene{}, services.Wrap(services.ErrValidation, "parse scene", "decode", err.Error(), nil)
	}
	scene.Normalize()
	if err := scene.Validate(); err != nil {
		return Scene{}, err
	}
	return scene, nil
}

func deref(c Content) Content {
	switch v := c.(type) {
	case *Title:
		return *v
	case *LowerThird:
		return *v
	case *KineticText:
		return *v
	case *BulletList:
		return *v
	case *Counter:
		return *v
	}
	return c
}

func invalid(msg string) error {
	return services.Wrap(services.ErrValidation, "validate scene", "", msg, nil)
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
