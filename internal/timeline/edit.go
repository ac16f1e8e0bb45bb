package timeline

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"cutroom/internal/ids"
	"cutroom/internal/services"
)

// MinClipDuration is the shortest clip an edit may produce, in seconds.
const MinClipDuration = 0.05

var (
	// ErrClipTooShort rejects edits that would leave a clip at or below
	// MinClipDuration.
	ErrClipTooShort = errors.New("clip too short")
	// ErrClipNotFound reports an unknown clip id.
	ErrClipNotFound = errors.New("clip not found")
)

// EditOp names a clip edit.
type EditOp string

const (
	EditResize    EditOp = "resize"
	EditTrimStart EditOp = "trim_start"
	EditSplit     EditOp = "split"
	EditMove      EditOp = "move"
)

// Edit is the body of a clip edit request.
type Edit struct {
	Op EditOp `json:"op"`
	// Duration is the new length for resize.
	Duration float64 `json:"duration,omitempty"`
	// Delta moves the start edge for trim_start; positive values shorten the clip.
	Delta float64 `json:"delta,omitempty"`
	// At is the absolute project time of a split.
	At float64 `json:"at,omitempty"`
	// Start is the new absolute start for move.
	Start float64 `json:"start,omitempty"`
	// TrackID optionally moves the clip to another track.
	TrackID string `json:"trackId,omitempty"`
}

// Apply performs e against the clip with clipID and returns the clips that
// were changed or created. On error the timeline is untouched.
func (t *Timeline) Apply(clipID string, e Edit) ([]Clip, error) {
	switch e.Op {
	case EditResize:
		c, err := t.Resize(clipID, e.Duration)
		return []Clip{c}, err
	case EditTrimStart:
		c, err := t.TrimStart(clipID, e.Delta)
		return []Clip{c}, err
	case EditSplit:
		left, right, err := t.Split(clipID, e.At)
		return []Clip{left, right}, err
	case EditMove:
		c, err := t.Move(clipID, e.Start, e.TrackID)
		return []Clip{c}, err
	}
	return nil, services.Validation("edit clip", "unknown edit op %q", e.Op)
}

// Resize sets the clip's duration, keeping its start.
func (t *Timeline) Resize(clipID string, duration float64) (Clip, error) {
	return t.update(clipID, "resize", func(c *Clip) error {
		c.Duration = duration
		return nil
	})
}

// TrimStart moves the clip's start edge by delta seconds while keeping its
// end. Media clips consume source from trimIn; caption words shift so they
// stay anchored to the same project time.
func (t *Timeline) TrimStart(clipID string, delta float64) (Clip, error) {
	return t.update(clipID, "trim start", func(c *Clip) error {
		if c.Start+delta < 0 {
			return services.Validation("trim start", "clip would start before 0")
		}
		if c.Type == ClipMedia && c.TrimIn+delta < 0 {
			return services.Validation("trim start", "clip would start before its source")
		}
		c.Start += delta
		c.Duration -= delta
		switch c.Type {
		case ClipMedia:
			c.TrimIn += delta
		case ClipCaption:
			c.Words = shiftWords(c.Words, delta, c.Duration)
		}
		return nil
	})
}

// Move places the clip at a new absolute start, optionally on another track.
// Caption words are relative to the clip and do not change.
func (t *Timeline) Move(clipID string, start float64, trackID string) (Clip, error) {
	ti, ci, ok := t.Find(clipID)
	if !ok {
		return Clip{}, clipNotFound(clipID)
	}
	if !finite(start) || start < 0 {
		return Clip{}, services.Validation("move", "start must be >= 0")
	}
	target := ti
	if trackID != "" && trackID != t.Tracks[ti].ID {
		target = -1
		for i, track := range t.Tracks {
			if track.ID == trackID {
				target = i
				break
			}
		}
		if target < 0 {
			return Clip{}, services.Validation("move", "unknown track %q", trackID)
		}
	}
	clip := t.Tracks[ti].Clips[ci]
	clip.Start = start
	if target == ti {
		t.Tracks[ti].Clips[ci] = clip
		return clip, nil
	}
	t.Tracks[ti].Clips = append(t.Tracks[ti].Clips[:ci:ci], t.Tracks[ti].Clips[ci+1:]...)
	t.Tracks[target].Clips = append(t.Tracks[target].Clips, clip)
	return clip, nil
}

// Split cuts the clip at absolute time at. The left half keeps the id; the
// right half gets a new one. Motion graphics cannot be split because their
// scene renders as a whole.
func (t *Timeline) Split(clipID string, at float64) (Clip, Clip, error) {
	const op = "split"
	ti, ci, ok := t.Find(clipID)
	if !ok {
		return Clip{}, Clip{}, clipNotFound(clipID)
	}
	clip := t.Tracks[ti].Clips[ci]
	if clip.Type == ClipMotionGraphic {
		return Clip{}, Clip{}, services.Validation(op, "motion graphic clips cannot be split")
	}
	offset := at - clip.Start
	if !finite(at) || offset <= 0 || at >= clip.End() {
		return Clip{}, Clip{}, services.Validation(op, "split point %.3f is outside clip %q", at, clipID)
	}
	left, right := clip, clip
	left.Duration = offset
	right.ID = ids.New()
	right.Start = at
	right.Duration = clip.Duration - offset
	if err := checkLength(op, left.Duration); err != nil {
		return Clip{}, Clip{}, err
	}
	if err := checkLength(op, right.Duration); err != nil {
		return Clip{}, Clip{}, err
	}
	switch clip.Type {
	case ClipMedia:
		right.TrimIn = clip.TrimIn + offset
	case ClipCaption:
		left.Words, right.Words = splitWords(clip.Words, offset)
		if len(clip.Words) > 0 {
			left.Text = joinWords(left.Words)
			right.Text = joinWords(right.Words)
		}
	}

	clips := t.Tracks[ti].Clips
	out := make([]Clip, 0, len(clips)+1)
	out = append(out, clips[:ci]...)
	out = append(out, left, right)
	out = append(out, clips[ci+1:]...)
	t.Tracks[ti].Clips = out
	return left, right, nil
}

func (t *Timeline) update(clipID, op string, fn func(*Clip) error) (Clip, error) {
	ti, ci, ok := t.Find(clipID)
	if !ok {
		return Clip{}, clipNotFound(clipID)
	}
	clip := t.Tracks[ti].Clips[ci]
	if len(clip.Words) > 0 {
		clip.Words = append([]Word(nil), clip.Words...)
	}
	if err := fn(&clip); err != nil {
		return Clip{}, err
	}
	if err := checkLength(op, clip.Duration); err != nil {
		return Clip{}, err
	}
	t.Tracks[ti].Clips[ci] = clip
	return clip, nil
}

func checkLength(op string, duration float64) error {
	if !finite(duration) || duration <= MinClipDuration {
		return services.Wrap(services.ErrValidation, op, "",
			fmt.Sprintf("resulting duration %.3fs must exceed %.0f ms", math.Max(duration, 0), MinClipDuration*1000),
			ErrClipTooShort)
	}
	return nil
}

func clipNotFound(clipID string) error {
	return services.Wrap(services.ErrNotFound, "edit clip", "", fmt.Sprintf("clip %s not found", clipID), ErrClipNotFound)
}

// shiftWords re-bases words after the clip start moved by delta, dropping
// words that fall outside the new [0, duration) window.
func shiftWords(words []Word, delta, duration float64) []Word {
	out := words[:0]
	for _, w := range words {
		w.Start -= delta
		w.End -= delta
		if w.End <= 0 || w.Start >= duration {
			continue
		}
		w.Start = math.Max(w.Start, 0)
		w.End = math.Min(w.End, duration)
		out = append(out, w)
	}
	return out
}

// splitWords assigns each word to the half containing its start. Right-half
// words are re-based to the new clip start and left-half words are clamped to
// the cut.
func splitWords(words []Word, offset float64) ([]Word, []Word) {
	var left, right []Word
	for _, w := range words {
		if w.Start < offset {
			w.End = math.Min(w.End, offset)
			left = append(left, w)
			continue
		}
		w.Start -= offset
		w.End -= offset
		right = append(right, w)
	}
	return left, right
}

func joinWords(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}
