package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeFFmpeg()
	c.normalizeSilence()
	c.normalizeTranscription()
	c.normalizeLLM()
	c.normalizeGeneration()
	if err := c.normalizeAnimation(); err != nil {
		return err
	}
	c.normalizeFaces()
	c.normalizeRetention()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("CUTROOM_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
	c.Server.AllowedOrigins = dedupeTrimmed(c.Server.AllowedOrigins)
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = defaultMaxUploadMB
	}
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.FFmpegBinary = strings.TrimSpace(c.FFmpeg.FFmpegBinary)
	if c.FFmpeg.FFmpegBinary == "" {
		c.FFmpeg.FFmpegBinary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
	if c.FFmpeg.TimeoutSeconds <= 0 {
		c.FFmpeg.TimeoutSeconds = defaultFFmpegTimeoutSeconds
	}
	if c.FFmpeg.ThumbnailWidth <= 0 {
		c.FFmpeg.ThumbnailWidth = defaultThumbnailWidth
	}
}

func (c *Config) normalizeSilence() {
	if c.Silence.MinDuration <= 0 {
		c.Silence.MinDuration = defaultSilenceMinDuration
	}
	if c.Silence.Workers <= 0 {
		c.Silence.Workers = defaultSilenceWorkers
	}
}

func (c *Config) normalizeTranscription() {
	t := &c.Transcription
	t.WhisperXModel = strings.TrimSpace(t.WhisperXModel)
	if t.WhisperXModel == "" {
		t.WhisperXModel = defaultWhisperXModel
	}
	t.UVXBinary = strings.TrimSpace(t.UVXBinary)
	if t.UVXBinary == "" {
		t.UVXBinary = defaultUVXBinary
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = defaultTranscribeTimeout
	}
	t.RemoteBaseURL = strings.TrimRight(strings.TrimSpace(t.RemoteBaseURL), "/")
	if t.RemoteBaseURL == "" {
		t.RemoteBaseURL = defaultRemoteTranscribeURL
	}
	t.RemoteModel = strings.TrimSpace(t.RemoteModel)
	if t.RemoteModel == "" {
		t.RemoteModel = defaultRemoteTranscribeModel
	}
	t.RemoteAPIKey = strings.TrimSpace(t.RemoteAPIKey)
	if t.RemoteAPIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			t.RemoteAPIKey = strings.TrimSpace(value)
		}
	}
	if t.RemoteMaxBytes <= 0 {
		t.RemoteMaxBytes = defaultRemoteMaxBytes
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeGeneration() {
	g := &c.Generation
	g.BaseURL = strings.TrimRight(strings.TrimSpace(g.BaseURL), "/")
	if g.BaseURL == "" {
		g.BaseURL = defaultGenerationBaseURL
	}
	g.APIToken = strings.TrimSpace(g.APIToken)
	if g.APIToken == "" {
		if value, ok := os.LookupEnv("REPLICATE_API_TOKEN"); ok {
			g.APIToken = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(g.ImageModel) == "" {
		g.ImageModel = defaultImageModel
	}
	if strings.TrimSpace(g.VideoModel) == "" {
		g.VideoModel = defaultVideoModel
	}
	if strings.TrimSpace(g.RestyleModel) == "" {
		g.RestyleModel = defaultRestyleModel
	}
	if strings.TrimSpace(g.BackgroundRemovalModel) == "" {
		g.BackgroundRemovalModel = defaultBackgroundRemovalModel
	}
	if g.PollIntervalSeconds <= 0 {
		g.PollIntervalSeconds = defaultGenerationPollSeconds
	}
	if g.TimeoutSeconds <= 0 {
		g.TimeoutSeconds = defaultGenerationTimeout
	}
}

func (c *Config) normalizeAnimation() error {
	c.Animation.Command = trimAll(c.Animation.Command)
	if len(c.Animation.Command) == 0 {
		c.Animation.Command = []string{"npx", "remotion", "render"}
	}
	c.Animation.CompositionID = strings.TrimSpace(c.Animation.CompositionID)
	if c.Animation.CompositionID == "" {
		c.Animation.CompositionID = defaultCompositionID
	}
	c.Animation.EntryPoint = strings.TrimSpace(c.Animation.EntryPoint)
	if c.Animation.EntryPoint == "" {
		c.Animation.EntryPoint = defaultAnimationEntryPoint
	}
	if strings.TrimSpace(c.Animation.WorkDir) != "" {
		dir, err := expandPath(c.Animation.WorkDir)
		if err != nil {
			return fmt.Errorf("animation.work_dir: %w", err)
		}
		c.Animation.WorkDir = dir
	}
	if c.Animation.TimeoutSeconds <= 0 {
		c.Animation.TimeoutSeconds = defaultAnimationTimeout
	}
	return nil
}

func (c *Config) normalizeFaces() {
	c.Faces.Command = trimAll(c.Faces.Command)
	if len(c.Faces.Command) == 0 {
		c.Faces.Command = []string{"python3", "scripts/detect_faces.py"}
	}
	if c.Faces.TimeoutSeconds <= 0 {
		c.Faces.TimeoutSeconds = defaultFacesTimeout
	}
}

func (c *Config) normalizeRetention() {
	if c.Sessions.TTLHours < 0 {
		c.Sessions.TTLHours = 0
	}
	if c.Sessions.SweepIntervalMinutes <= 0 {
		c.Sessions.SweepIntervalMinutes = defaultSweepIntervalMinutes
	}
	if c.Jobs.TTLMinutes <= 0 {
		c.Jobs.TTLMinutes = defaultJobTTLMinutes
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// dedupeTrimmed keeps first occurrences in order. Only used for sets where
// repetition is meaningless.
func dedupeTrimmed(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
