package silence

import (
	"bufio"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Interval is a half-open span of media time in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns End-Start.
func (i Interval) Length() float64 {
	return i.End - i.Start
}

// minKeep drops keep intervals shorter than one frame at 30 fps.
const minKeep = 1.0 / 30

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[0-9.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[0-9.]+)`)
	durationRe     = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// parseSilences reads silencedetect output. An unterminated final silence
// runs to total.
func parseSilences(stderr string, total float64) []Interval {
	var (
		out     []Interval
		open    bool
		current float64
	)
	scanner := bufio.NewScanner(strings.NewReader(stderr))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			current, open = max(v, 0), true
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil && open {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			if total > 0 {
				v = min(v, total)
			}
			if v > current {
				out = append(out, Interval{Start: current, End: v})
			}
			open = false
		}
	}
	if open && total > current {
		out = append(out, Interval{Start: current, End: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// parseInputDuration extracts the container duration ffmpeg prints for the
// first input; zero when absent.
func parseInputDuration(stderr string) float64 {
	m := durationRe.FindStringSubmatch(stderr)
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.ParseFloat(m[3], 64)
	return float64(h*3600+mins*60) + secs
}

// keepIntervals is the complement of silences within [0, total], without
// slivers shorter than a frame.
func keepIntervals(silences []Interval, total float64) []Interval {
	var out []Interval
	cursor := 0.0
	for _, s := range silences {
		if s.Start > cursor {
			out = appendKeep(out, Interval{Start: cursor, End: min(s.Start, total)})
		}
		cursor = max(cursor, s.End)
	}
	if cursor < total {
		out = appendKeep(out, Interval{Start: cursor, End: total})
	}
	return out
}

func appendKeep(out []Interval, iv Interval) []Interval {
	if iv.Length() < minKeep {
		return out
	}
	return append(out, iv)
}

func totalLength(ivs []Interval) float64 {
	var sum float64
	for _, iv := range ivs {
		sum += iv.Length()
	}
	return sum
}
