package whisperx

import "cutroom/internal/media/ffmpeg"

// ExtractCommand converts the first audio stream of source into the mono
// 16 kHz PCM WAV that WhisperX expects.
func ExtractCommand(source, dest string) *ffmpeg.Command {
	return ffmpeg.New().
		Input(source).
		Map("0:a:0").
		Set(
			"-vn",
			"-sn",
			"-dn",
			"-ac", "1",
			"-ar", "16000",
			"-c:a", "pcm_s16le",
		).
		Output(dest)
}
