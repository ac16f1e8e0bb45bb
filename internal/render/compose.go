package render

import (
	"fmt"
	"math"
	"strings"

	"cutroom/internal/media/ffmpeg"
	"cutroom/internal/timeline"
)

// source is a probed media file referenced by one or more clips.
type source struct {
	path     string
	hasVideo bool
	hasAudio bool
	still    bool
	duration float64
}

const (
	audioRate     = 48000
	captionMargin = 0.08
	defaultFont   = 48
)

// compose builds the single ffmpeg invocation that flattens tl into output.
// Every media clip gets its own input so trims never interfere.
func compose(tl timeline.Timeline, sources map[string]source, duration float64, output string) *ffmpeg.Command {
	cmd := ffmpeg.New()
	fps := formatNumber(tl.FPS)
	background := tl.Background
	if background == "" {
		background = "black"
	}

	var (
		chains []string
		audio  []string
		base   = "bg"
		layer  int
	)
	chains = append(chains, fmt.Sprintf("color=c=%s:s=%dx%d:r=%s:d=%s,format=yuv420p[%s]",
		background, tl.Width, tl.Height, fps, ffmpeg.Seconds(duration), base))

	var captions []string
	for _, track := range tl.Tracks {
		if track.Muted {
			continue
		}
		for _, clip := range track.Clips {
			switch clip.Type {
			case timeline.ClipCaption:
				captions = append(captions, captionFilters(tl, clip)...)
				continue
			case timeline.ClipMedia:
			default:
				continue
			}
			src, ok := sources[clip.AssetID]
			if !ok {
				continue
			}
			visual := src.hasVideo && track.Kind != timeline.TrackAudio
			audible := src.hasAudio && !src.still && clip.Gain() > 0
			if !visual && !audible {
				continue
			}

			idx := cmd.InputCount()
			if src.still {
				cmd.Input(src.path, "-loop", "1", "-framerate", fps, "-t", ffmpeg.Seconds(clip.TrimIn+clip.Duration))
			} else {
				cmd.Input(src.path)
			}

			if visual {
				label := fmt.Sprintf("v%d", layer)
				next := fmt.Sprintf("bg%d", layer)
				chains = append(chains, visualChain(tl, clip, idx, label))
				chains = append(chains, fmt.Sprintf("[%s][%s]overlay=x='(W-w)/2+%s':y='(H-h)/2+%s':enable='between(t,%s,%s)':eof_action=pass[%s]",
					base, label, formatNumber(xy(clip).x), formatNumber(xy(clip).y),
					ffmpeg.Seconds(clip.Start), ffmpeg.Seconds(clip.End()), next))
				base = next
				layer++
			}
			if audible {
				label := fmt.Sprintf("a%d", len(audio))
				delay := int64(math.Round(clip.Start * 1000))
				chains = append(chains, fmt.Sprintf("[%d:a]atrim=start=%s:duration=%s,asetpts=PTS-STARTPTS,aresample=%d,volume=%s,adelay=delays=%d:all=1[%s]",
					idx, ffmpeg.Seconds(clip.TrimIn), ffmpeg.Seconds(clip.Duration), audioRate,
					formatNumber(clip.Gain()), delay, label))
				audio = append(audio, "["+label+"]")
			}
		}
	}

	finish := append(captions, "format=yuv420p")
	chains = append(chains, fmt.Sprintf("[%s]%s[vout]", base, strings.Join(finish, ",")))

	switch len(audio) {
	case 0:
		chains = append(chains, fmt.Sprintf("anullsrc=r=%d:cl=stereo,atrim=duration=%s[aout]", audioRate, ffmpeg.Seconds(duration)))
	default:
		chains = append(chains, fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0:normalize=0,apad,atrim=duration=%s[aout]",
			strings.Join(audio, ""), len(audio), ffmpeg.Seconds(duration)))
	}

	return cmd.FilterComplex(chains...).
		Map("[vout]").
		Map("[aout]").
		Set("-r", fps, "-t", ffmpeg.Seconds(duration)).
		Set(ffmpeg.Preset(ffmpeg.H264, ffmpeg.AAC, ffmpeg.FastStart)...).
		Output(output)
}

// visualChain trims, shifts, scales and fades one clip's picture.
func visualChain(tl timeline.Timeline, clip timeline.Clip, idx int, label string) string {
	scale := clip.Transform.ScaleOrDefault()
	w := evenFloor(float64(tl.Width) * scale)
	h := evenFloor(float64(tl.Height) * scale)
	filters := []string{
		fmt.Sprintf("trim=start=%s:duration=%s", ffmpeg.Seconds(clip.TrimIn), ffmpeg.Seconds(clip.Duration)),
		fmt.Sprintf("setpts=PTS-STARTPTS+%s/TB", ffmpeg.Seconds(clip.Start)),
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, h),
		"format=rgba",
	}
	if opacity := clip.Transform.OpacityOrDefault(); opacity < 1 {
		filters = append(filters, fmt.Sprintf("colorchannelmixer=aa=%s", formatNumber(opacity)))
	}
	return fmt.Sprintf("[%d:v]%s[%s]", idx, strings.Join(filters, ","), label)
}

// captionFilters draws a caption clip. With word timings each word is shown
// during its own window; otherwise the text covers the whole clip.
func captionFilters(tl timeline.Timeline, clip timeline.Clip) []string {
	style := timeline.CaptionStyle{}
	if clip.Style != nil {
		style = *clip.Style
	}
	size := style.FontSize
	if size <= 0 {
		size = defaultFont
	}
	color := style.Color
	if color == "" {
		color = "white"
	}
	var y string
	switch style.Position {
	case timeline.PositionTop:
		y = fmt.Sprintf("h*%s", formatNumber(captionMargin))
	case timeline.PositionCenter:
		y = "(h-text_h)/2"
	default:
		y = fmt.Sprintf("h-text_h-h*%s", formatNumber(captionMargin))
	}
	draw := func(text string, from, to float64) string {
		return fmt.Sprintf("drawtext=text='%s':fontsize=%d:fontcolor=%s:borderw=2:bordercolor=black:x=(w-text_w)/2:y=%s:enable='between(t,%s,%s)'",
			ffmpeg.EscapeFilterText(text), size, color, y, ffmpeg.Seconds(from), ffmpeg.Seconds(to))
	}

	if len(clip.Words) == 0 {
		if strings.TrimSpace(clip.Text) == "" {
			return nil
		}
		return []string{draw(clip.Text, clip.Start, clip.End())}
	}
	var out []string
	for _, w := range clip.Words {
		from := clip.Start + w.Start
		to := math.Min(clip.Start+w.End, clip.End())
		if strings.TrimSpace(w.Text) == "" || to <= from {
			continue
		}
		out = append(out, draw(w.Text, from, to))
	}
	return out
}

type offset struct{ x, y float64 }

func xy(clip timeline.Clip) offset {
	if clip.Transform == nil {
		return offset{}
	}
	return offset{clip.Transform.X, clip.Transform.Y}
}

func evenFloor(v float64) int {
	n := int(math.Floor(v))
	n -= n % 2
	return max(n, 2)
}

func formatNumber(v float64) string {
	s := fmt.Sprintf("%.3f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
