package ffmpeg

import (
	"strconv"
	"strings"
)

// Input is one -i source with the options that must precede it.
type Input struct {
	Path    string
	Options []string
}

// Command accumulates an ffmpeg invocation as structured parts and renders a
// separated argv. Values are never concatenated into a shell string.
type Command struct {
	inputs        []Input
	filterComplex []string
	videoFilters  []string
	audioFilters  []string
	maps          []string
	outputOpts    []string
	output        string
	loglevel      string
}

// New starts an empty command with overwrite enabled and stdin disabled.
func New() *Command {
	return &Command{loglevel: "error"}
}

// LogLevel overrides the default "error" level (silencedetect needs "info").
func (c *Command) LogLevel(level string) *Command {
	c.loglevel = level
	return c
}

// Input appends a source; opts are placed before its -i (for example -ss).
func (c *Command) Input(path string, opts ...string) *Command {
	c.inputs = append(c.inputs, Input{Path: path, Options: opts})
	return c
}

// InputCount reports how many inputs have been added; filter graphs use it to
// address the next input index.
func (c *Command) InputCount() int {
	return len(c.inputs)
}

// VideoFilter appends to the -vf chain.
func (c *Command) VideoFilter(filters ...string) *Command {
	c.videoFilters = append(c.videoFilters, filters...)
	return c
}

// AudioFilter appends to the -af chain.
func (c *Command) AudioFilter(filters ...string) *Command {
	c.audioFilters = append(c.audioFilters, filters...)
	return c
}

// FilterComplex appends chains to -filter_complex, joined with ';'.
func (c *Command) FilterComplex(chains ...string) *Command {
	c.filterComplex = append(c.filterComplex, chains...)
	return c
}

// Map selects an output stream by label or specifier.
func (c *Command) Map(spec string) *Command {
	c.maps = append(c.maps, spec)
	return c
}

// Set appends raw output options (codec, bitrate, flags).
func (c *Command) Set(opts ...string) *Command {
	c.outputOpts = append(c.outputOpts, opts...)
	return c
}

// Output sets the destination path.
func (c *Command) Output(path string) *Command {
	c.output = path
	return c
}

// NullOutput discards the result; used for analysis passes.
func (c *Command) NullOutput() *Command {
	c.outputOpts = append(c.outputOpts, "-f", "null")
	c.output = "-"
	return c
}

// Args renders the argv (without the binary name).
func (c *Command) Args() []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-loglevel", c.loglevel}
	for _, in := range c.inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	if len(c.filterComplex) > 0 {
		args = append(args, "-filter_complex", strings.Join(c.filterComplex, ";"))
	}
	if len(c.videoFilters) > 0 {
		args = append(args, "-vf", strings.Join(c.videoFilters, ","))
	}
	if len(c.audioFilters) > 0 {
		args = append(args, "-af", strings.Join(c.audioFilters, ","))
	}
	for _, m := range c.maps {
		args = append(args, "-map", m)
	}
	args = append(args, c.outputOpts...)
	if c.output != "" {
		args = append(args, c.output)
	}
	return args
}

// Seconds formats a media timestamp for ffmpeg options and filter arguments.
func Seconds(v float64) string {
	if v < 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// EscapeFilterText escapes a literal for use inside a quoted filter option
// value such as drawtext's text='...'.
func EscapeFilterText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\\\`,
		`'`, `\\\'`,
		`:`, `\\:`,
		`%`, `\\%`,
		",", `\,`,
		";", `\;`,
		"[", `\[`,
		"]", `\]`,
		"\n", " ",
	)
	return r.Replace(s)
}

// Encoding presets shared by every pipeline that writes browser-playable files.
var (
	H264 = []string{"-c:v", "libx264", "-preset", "veryfast", "-crf", "20", "-pix_fmt", "yuv420p"}
	AAC  = []string{"-c:a", "aac", "-b:a", "192k"}
	// FastStart moves the moov atom to the front so the editor can stream while downloading.
	FastStart = []string{"-movflags", "+faststart"}
)

// Preset returns a fresh copy of the concatenated option groups.
func Preset(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
