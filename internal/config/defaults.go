package config

const (
	defaultConfigPath             = "~/.config/cutroom/config.toml"
	defaultDataDir                = "~/.local/share/cutroom"
	defaultLogDir                 = "~/.local/share/cutroom/logs"
	defaultLogRetentionDays       = 30
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultBind                   = "127.0.0.1:3333"
	defaultMaxUploadMB            = 4096
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultFFmpegTimeoutSeconds   = 600
	defaultThumbnailWidth         = 320
	defaultSilenceThresholdDB     = -26
	defaultSilenceMinDuration     = 0.4
	defaultSilenceWorkers         = 2
	defaultWhisperXModel          = "large-v3-turbo"
	defaultUVXBinary              = "uvx"
	defaultTranscribeTimeout      = 1800
	defaultRemoteTranscribeURL    = "https://api.openai.com/v1"
	defaultRemoteTranscribeModel  = "whisper-1"
	defaultRemoteMaxBytes         = 24 << 20
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMReferer             = "https://github.com/cutroom/cutroom"
	defaultLLMTitle               = "cutroom"
	defaultLLMTimeoutSeconds      = 60
	defaultGenerationBaseURL      = "https://api.replicate.com/v1"
	defaultImageModel             = "black-forest-labs/flux-schnell"
	defaultVideoModel             = "wan-video/wan-2.2-i2v-fast"
	defaultRestyleModel           = "luma/modify-video"
	defaultBackgroundRemovalModel = "nateraw/video-background-remover"
	defaultGenerationPollSeconds  = 2
	defaultGenerationTimeout      = 600
	defaultCompositionID          = "DynamicAnimation"
	defaultAnimationEntryPoint    = "src/index.ts"
	defaultAnimationTimeout       = 300
	defaultFacesTimeout           = 600
	defaultSessionTTLHours        = 72
	defaultSweepIntervalMinutes   = 30
	defaultJobTTLMinutes          = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind:           defaultBind,
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
			MaxUploadMB:    defaultMaxUploadMB,
		},
		FFmpeg: FFmpeg{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			TimeoutSeconds: defaultFFmpegTimeoutSeconds,
			ThumbnailWidth: defaultThumbnailWidth,
		},
		Silence: Silence{
			ThresholdDB: defaultSilenceThresholdDB,
			MinDuration: defaultSilenceMinDuration,
			Workers:     defaultSilenceWorkers,
		},
		Transcription: Transcription{
			LocalEnabled:   true,
			WhisperXModel:  defaultWhisperXModel,
			UVXBinary:      defaultUVXBinary,
			TimeoutSeconds: defaultTranscribeTimeout,
			RemoteBaseURL:  defaultRemoteTranscribeURL,
			RemoteModel:    defaultRemoteTranscribeModel,
			RemoteMaxBytes: defaultRemoteMaxBytes,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Generation: Generation{
			BaseURL:                defaultGenerationBaseURL,
			ImageModel:             defaultImageModel,
			VideoModel:             defaultVideoModel,
			RestyleModel:           defaultRestyleModel,
			BackgroundRemovalModel: defaultBackgroundRemovalModel,
			PollIntervalSeconds:    defaultGenerationPollSeconds,
			TimeoutSeconds:         defaultGenerationTimeout,
		},
		Animation: Animation{
			Command:        []string{"npx", "remotion", "render"},
			EntryPoint:     defaultAnimationEntryPoint,
			CompositionID:  defaultCompositionID,
			TimeoutSeconds: defaultAnimationTimeout,
		},
		Faces: Faces{
			Command:        []string{"python3", "scripts/detect_faces.py"},
			TimeoutSeconds: defaultFacesTimeout,
		},
		Sessions: Sessions{
			TTLHours:             defaultSessionTTLHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Jobs: Jobs{
			TTLMinutes: defaultJobTTLMinutes,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
