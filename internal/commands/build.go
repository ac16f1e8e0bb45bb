package commands

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"cutroom/internal/media/ffmpeg"
)

// argPlan is the stream-level effect of one operation. BuildCommand turns it
// into codec choices appropriate for the container.
type argPlan struct {
	inputOpts     []string
	outputOpts    []string
	videoFilters  []string
	audioFilters  []string
	dropAudio     bool
	reencodeVideo bool
	reencodeAudio bool
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (t Trim) build(Media) argPlan {
	return argPlan{
		inputOpts:     []string{"-ss", ffmpeg.Seconds(t.Start)},
		outputOpts:    []string{"-t", ffmpeg.Seconds(t.End - t.Start)},
		reencodeVideo: true,
		reencodeAudio: true,
	}
}

func (c Crop) build(Media) argPlan {
	return argPlan{videoFilters: []string{fmt.Sprintf("crop=%d:%d:%d:%d", c.Width, c.Height, c.X, c.Y)}}
}

func (s Scale) build(Media) argPlan {
	return argPlan{videoFilters: []string{fmt.Sprintf("scale=%d:%d", s.Width, s.Height)}}
}

func (s Speed) build(m Media) argPlan {
	p := argPlan{}
	if m.HasVideo {
		p.videoFilters = []string{"setpts=PTS/" + num(s.Factor)}
	}
	if m.HasAudio {
		p.audioFilters = atempoChain(s.Factor)
	}
	return p
}

// atempoChain splits a factor into stages within atempo's 0.5..2 range.
func atempoChain(factor float64) []string {
	var out []string
	for factor > 2 {
		out = append(out, "atempo=2")
		factor /= 2
	}
	for factor < 0.5 {
		out = append(out, "atempo=0.5")
		factor /= 0.5
	}
	if math.Abs(factor-1) > 1e-9 {
		out = append(out, "atempo="+num(factor))
	}
	return out
}

func (v Volume) build(Media) argPlan {
	return argPlan{audioFilters: []string{"volume=" + num(v.Gain)}}
}

func (Mute) build(Media) argPlan {
	return argPlan{dropAudio: true}
}

func (r Rotate) build(Media) argPlan {
	var f []string
	switch r.Degrees {
	case 90:
		f = []string{"transpose=1"}
	case 180:
		f = []string{"hflip", "vflip"}
	case 270, -90:
		f = []string{"transpose=2"}
	}
	return argPlan{videoFilters: f}
}

func (f Flip) build(Media) argPlan {
	if f.Direction == "vertical" {
		return argPlan{videoFilters: []string{"vflip"}}
	}
	return argPlan{videoFilters: []string{"hflip"}}
}

func (f Fade) build(m Media) argPlan {
	p := argPlan{}
	if f.In > 0 {
		if m.HasVideo {
			p.videoFilters = append(p.videoFilters, "fade=t=in:st=0:d="+num(f.In))
		}
		if m.HasAudio {
			p.audioFilters = append(p.audioFilters, "afade=t=in:st=0:d="+num(f.In))
		}
	}
	if f.Out > 0 {
		start := ffmpeg.Seconds(m.Duration - f.Out)
		if m.HasVideo {
			p.videoFilters = append(p.videoFilters, "fade=t=out:st="+start+":d="+num(f.Out))
		}
		if m.HasAudio {
			p.audioFilters = append(p.audioFilters, "afade=t=out:st="+start+":d="+num(f.Out))
		}
	}
	return p
}

func (c Color) build(Media) argPlan {
	var parts []string
	if c.Brightness != nil {
		parts = append(parts, "brightness="+num(*c.Brightness))
	}
	if c.Contrast != nil {
		parts = append(parts, "contrast="+num(*c.Contrast))
	}
	if c.Saturation != nil {
		parts = append(parts, "saturation="+num(*c.Saturation))
	}
	return argPlan{videoFilters: []string{"eq=" + strings.Join(parts, ":")}}
}

func (Denoise) build(m Media) argPlan {
	p := argPlan{}
	if m.HasVideo {
		p.videoFilters = []string{"hqdn3d=4:3:6:4.5"}
	}
	if m.HasAudio && !m.Still {
		p.audioFilters = []string{"afftdn=nf=-25"}
	}
	return p
}

func (NormalizeAudio) build(Media) argPlan {
	return argPlan{audioFilters: []string{"loudnorm=I=-16:TP=-1.5:LRA=11"}}
}

func (r Reframe) build(m Media) argPlan {
	w, h, x := reframeWindow(m.Width, m.Height, aspectRatios[r.Aspect], r.CenterX)
	return argPlan{videoFilters: []string{fmt.Sprintf("crop=%d:%d:%d:%d", w, h, x, 0), "setsar=1"}}
}

// reframeWindow computes the largest crop of the requested aspect that fits
// the frame, centred horizontally on centerX (0..1, default 0.5). Height is
// kept when the target is narrower than the source.
func reframeWindow(width, height int, ratio [2]int, centerX *float64) (int, int, int) {
	cx := 0.5
	if centerX != nil {
		cx = *centerX
	}
	target := float64(ratio[0]) / float64(ratio[1])
	w, h := width, height
	if float64(width)/float64(height) > target {
		w = int(math.Round(float64(height)*target)) &^ 1
	} else {
		h = int(math.Round(float64(width)/target)) &^ 1
	}
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	x := int(math.Round(cx*float64(width) - float64(w)/2))
	if x < 0 {
		x = 0
	}
	if x > width-w {
		x = width - w
	}
	return w, h, x
}

func (Reverse) build(m Media) argPlan {
	p := argPlan{}
	if m.HasVideo {
		p.videoFilters = []string{"reverse"}
	}
	if m.HasAudio {
		p.audioFilters = []string{"areverse"}
	}
	return p
}

// BuildCommand renders spec into an ffmpeg invocation reading src and writing
// dst. Codec choices follow dst's container.
func BuildCommand(spec Spec, m Media, src, dst string) *ffmpeg.Command {
	p := spec.build(m)
	cmd := ffmpeg.New().Input(src, p.inputOpts...)
	if m.HasVideo && len(p.videoFilters) > 0 {
		cmd.VideoFilter(p.videoFilters...)
	}
	if m.HasAudio && !p.dropAudio && len(p.audioFilters) > 0 {
		cmd.AudioFilter(p.audioFilters...)
	}

	ext := strings.ToLower(filepath.Ext(dst))
	switch {
	case m.Still:
		cmd.Set("-frames:v", "1", "-update", "1")
	case !m.HasVideo:
		cmd.Set("-vn")
		cmd.Set(audioCodec(ext, len(p.audioFilters) > 0 || p.reencodeAudio)...)
	default:
		cmd.Map("0:v:0")
		if m.HasAudio && !p.dropAudio {
			cmd.Map("0:a:0?")
		}
		cmd.Set(videoCodec(ext, len(p.videoFilters) > 0 || p.reencodeVideo)...)
		switch {
		case p.dropAudio || !m.HasAudio:
			cmd.Set("-an")
		default:
			cmd.Set(audioCodec(ext, len(p.audioFilters) > 0 || p.reencodeAudio)...)
		}
		if ext == ".mp4" || ext == ".mov" || ext == ".m4v" {
			cmd.Set(ffmpeg.FastStart...)
		}
	}
	cmd.Set(p.outputOpts...)
	return cmd.Output(dst)
}

func videoCodec(ext string, reencode bool) []string {
	if !reencode {
		return []string{"-c:v", "copy"}
	}
	if ext == ".webm" {
		return []string{"-c:v", "libvpx-vp9", "-crf", "32", "-b:v", "0"}
	}
	return ffmpeg.Preset(ffmpeg.H264)
}

func audioCodec(ext string, reencode bool) []string {
	if !reencode {
		return []string{"-c:a", "copy"}
	}
	switch ext {
	case ".mp3":
		return []string{"-c:a", "libmp3lame", "-q:a", "2"}
	case ".wav":
		return []string{"-c:a", "pcm_s16le"}
	case ".flac":
		return []string{"-c:a", "flac"}
	case ".ogg", ".opus", ".webm":
		return []string{"-c:a", "libopus", "-b:a", "128k"}
	default:
		return ffmpeg.Preset(ffmpeg.AAC)
	}
}
