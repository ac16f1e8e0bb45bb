package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cutroom/internal/assets"
	"cutroom/internal/logging"
	"cutroom/internal/media/ffmpeg"
	"cutroom/internal/procrun"
	"cutroom/internal/services"
	"cutroom/internal/services/whisperx"
)

const operation = "transcribe"

// Engine names which backend produced a transcript.
type Engine string

const (
	EngineWhisperX Engine = "whisperx"
	EngineRemote   Engine = "remote"
)

// Word is one recognised word; times are seconds from the asset start.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is a word-level transcript.
type Result struct {
	Words    []Word `json:"words"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Engine   Engine `json:"engine"`
	// Degraded is set when audio was re-encoded at a low bitrate to fit the
	// remote upload limit.
	Degraded bool `json:"degraded"`
}

// Options wires a Service.
type Options struct {
	Assets *assets.Service
	FFmpeg ffmpeg.Tool
	// Local is nil when the local engine is disabled.
	Local          *whisperx.Service
	Remote         *RemoteClient
	RemoteMaxBytes int64
	Logger         *slog.Logger
}

// Service produces transcripts, preferring local WhisperX and falling back to
// the remote API when the local engine cannot run.
type Service struct {
	assets   *assets.Service
	ffmpeg   ffmpeg.Tool
	local    *whisperx.Service
	remote   *RemoteClient
	maxBytes int64
	logger   *slog.Logger
}

// New constructs a Service.
func New(opts Options) *Service {
	maxBytes := opts.RemoteMaxBytes
	if maxBytes <= 0 {
		maxBytes = 24 << 20
	}
	return &Service{
		assets:   opts.Assets,
		ffmpeg:   opts.FFmpeg,
		local:    opts.Local,
		remote:   opts.Remote,
		maxBytes: maxBytes,
		logger:   logging.NewComponentLogger(opts.Logger, "transcribe"),
	}
}

// Transcribe extracts the asset's audio and returns word timings.
func (s *Service) Transcribe(ctx context.Context, sessionID, assetID string) (Result, error) {
	src, asset, err := s.assets.Path(ctx, sessionID, assetID)
	if err != nil {
		return Result{}, err
	}
	if asset.Kind == assets.KindImage || !asset.HasAudio() {
		return Result{}, services.Validation(operation, "asset has no audio track")
	}
	ctx = services.WithAssetID(services.WithSessionID(ctx, sessionID), assetID)
	logger := logging.WithContext(ctx, s.logger)

	workDir, err := s.assets.Layout().MkdirTemp(sessionID, "transcribe-*")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(workDir)

	wav := filepath.Join(workDir, "audio.wav")
	if _, err := s.ffmpeg.Run(ctx, operation, "extract_audio", whisperx.ExtractCommand(src, wav)); err != nil {
		return Result{}, err
	}

	localCause := "disabled in configuration"
	if s.local != nil {
		res, err := s.local.TranscribeFile(ctx, wav, filepath.Join(workDir, "whisperx"), "")
		if err == nil {
			out := fromWhisperX(res)
			logger.Info("transcription complete",
				logging.String("engine", string(out.Engine)),
				logging.String("model", s.local.Model()),
				logging.Int("words", len(out.Words)),
				logging.String(logging.FieldEventType, "transcription_completed"),
			)
			return out, nil
		}
		if !errors.Is(err, whisperx.ErrUnavailable) {
			return Result{}, procrun.Classify(operation, string(EngineWhisperX), err)
		}
		localCause = err.Error()
		logging.WarnWithContext(logger, "local transcription unavailable; using remote api", "transcription_fallback",
			logging.Error(err),
			logging.String(logging.FieldImpact, "audio leaves this machine"),
			logging.String(logging.FieldErrorHint, "install uv and run `uvx whisperx --help` once to cache the engine"),
		)
	}

	if !s.remote.Configured() {
		return Result{}, services.Wrap(services.ErrExternalService, operation, "select_engine",
			fmt.Sprintf("no transcription engine available (local: %s; remote: transcription.remote_api_key is not set)", localCause), nil)
	}

	upload, degraded, err := s.fitForUpload(ctx, workDir, wav)
	if err != nil {
		return Result{}, err
	}
	resp, err := s.remote.Transcribe(ctx, upload)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return Result{}, services.Wrap(services.ErrExternalService, operation, string(EngineRemote), "audio too large for remote transcription", err)
		}
		return Result{}, services.Wrap(services.ErrExternalService, operation, string(EngineRemote), "remote transcription failed", err)
	}
	out := fromRemote(resp)
	out.Degraded = degraded
	logger.Info("transcription complete",
		logging.String("engine", string(out.Engine)),
		logging.Bool("degraded", degraded),
		logging.Int("words", len(out.Words)),
		logging.String(logging.FieldEventType, "transcription_completed"),
	)
	return out, nil
}

// fitForUpload returns wav unchanged when it is under the remote limit;
// otherwise it re-encodes to 32 kb/s mono MP3 and reports degradation.
func (s *Service) fitForUpload(ctx context.Context, workDir, wav string) (string, bool, error) {
	info, err := os.Stat(wav)
	if err != nil {
		return "", false, services.Wrap(services.ErrProcessing, operation, "extract_audio", "audio extraction produced no file", err)
	}
	if info.Size() <= s.maxBytes {
		return wav, false, nil
	}
	mp3 := filepath.Join(workDir, "audio.mp3")
	cmd := ffmpeg.New().Input(wav).Set("-ac", "1", "-c:a", "libmp3lame", "-b:a", "32k").Output(mp3)
	if _, err := s.ffmpeg.Run(ctx, operation, "compress_audio", cmd); err != nil {
		return "", false, err
	}
	info, err = os.Stat(mp3)
	if err != nil {
		return "", false, services.Wrap(services.ErrProcessing, operation, "compress_audio", "compressed audio missing", err)
	}
	if info.Size() > s.maxBytes {
		return "", false, services.Wrap(services.ErrExternalService, operation, "compress_audio",
			fmt.Sprintf("audio too large for remote transcription (%d bytes after compression, limit %d)", info.Size(), s.maxBytes), nil)
	}
	return mp3, true, nil
}

func fromWhisperX(res whisperx.Result) Result {
	out := Result{Text: res.Text, Language: res.Language, Engine: EngineWhisperX, Words: []Word{}}
	for _, seg := range res.Segments {
		prevEnd := seg.Start
		for _, w := range seg.Words {
			text := strings.TrimSpace(w.Word)
			if text == "" {
				continue
			}
			start, end := prevEnd, prevEnd
			if w.Start != nil {
				start = *w.Start
			}
			if w.End != nil {
				end = *w.End
			}
			end = max(end, start)
			out.Words = append(out.Words, Word{Text: text, Start: start, End: end})
			prevEnd = end
		}
	}
	return out
}

func fromRemote(resp remoteResponse) Result {
	out := Result{Text: strings.TrimSpace(resp.Text), Language: resp.Language, Engine: EngineRemote, Words: []Word{}}
	for _, w := range resp.Words {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		out.Words = append(out.Words, Word{Text: text, Start: w.Start, End: max(w.End, w.Start)})
	}
	return out
}
