package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Server contains the HTTP listener configuration.
type Server struct {
	Bind           string   `toml:"bind"`
	APIToken       string   `toml:"api_token"`
	AllowedOrigins []string `toml:"allowed_origins"`
	MaxUploadMB    int      `toml:"max_upload_mb"`
}

// FFmpeg contains media tool binaries and limits.
type FFmpeg struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ThumbnailWidth int    `toml:"thumbnail_width"`
}

// Silence contains dead-air removal defaults.
type Silence struct {
	ThresholdDB float64 `toml:"threshold_db"`
	MinDuration float64 `toml:"min_duration"`
	Workers     int     `toml:"workers"`
}

// Transcription contains local WhisperX and remote fallback settings.
type Transcription struct {
	LocalEnabled   bool   `toml:"local_enabled"`
	WhisperXModel  string `toml:"whisperx_model"`
	UVXBinary      string `toml:"uvx_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RemoteBaseURL  string `toml:"remote_base_url"`
	RemoteAPIKey   string `toml:"remote_api_key"`
	RemoteModel    string `toml:"remote_model"`
	RemoteMaxBytes int64  `toml:"remote_max_bytes"`
}

// LLM contains chat-completion settings used by the command advisor and
// animation generation.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Generation contains the prediction provider used for image and video generation.
type Generation struct {
	BaseURL                string `toml:"base_url"`
	APIToken               string `toml:"api_token"`
	ImageModel             string `toml:"image_model"`
	VideoModel             string `toml:"video_model"`
	RestyleModel           string `toml:"restyle_model"`
	BackgroundRemovalModel string `toml:"background_removal_model"`
	PollIntervalSeconds    int    `toml:"poll_interval_seconds"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
}

// Animation contains the external motion-graphics renderer invocation.
type Animation struct {
	Command        []string `toml:"command"`
	EntryPoint     string   `toml:"entry_point"`
	CompositionID  string   `toml:"composition_id"`
	WorkDir        string   `toml:"work_dir"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Faces contains the face-tracking helper invocation.
type Faces struct {
	Command        []string `toml:"command"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Sessions contains session retention settings.
type Sessions struct {
	TTLHours             int `toml:"ttl_hours"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Jobs contains async job retention settings.
type Jobs struct {
	TTLMinutes int `toml:"ttl_minutes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for cutroom.
//
// Configuration sections by subsystem:
//   - Paths: session data and log directories
//   - Server: HTTP bind, auth token, CORS origins, upload limit
//   - FFmpeg: media tool binaries, subprocess timeout, thumbnail size
//   - Silence: dead-air detection defaults
//   - Transcription: local WhisperX plus remote API fallback
//   - LLM: chat completions for command advice and animation scenes
//   - Generation: prediction provider for AI media
//   - Animation: motion-graphics renderer command
//   - Faces: face-tracking helper command
//   - Sessions, Jobs: retention windows
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	FFmpeg        FFmpeg        `toml:"ffmpeg"`
	Silence       Silence       `toml:"silence"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Generation    Generation    `toml:"generation"`
	Animation     Animation     `toml:"animation"`
	Faces         Faces         `toml:"faces"`
	Sessions      Sessions      `toml:"sessions"`
	Jobs          Jobs          `toml:"jobs"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is read
// first so credentials can live outside the TOML file; existing environment
// variables always win.
func Load(path string) (*Config, string, bool, error) {
	if err := loadDotEnv(); err != nil {
		return nil, "", false, err
	}

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv() error {
	envPath := strings.TrimSpace(os.Getenv("CUTROOM_ENV_FILE"))
	if envPath == "" {
		envPath = ".env"
	}
	if _, err := os.Stat(envPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load env file %s: %w", envPath, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cutroom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.SessionsDir(), c.Paths.LogDir, c.ToolLogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SessionsDir is the root holding one directory per session.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Paths.DataDir, "sessions")
}

// CatalogPath is the SQLite session catalog location.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Paths.DataDir, "catalog.db")
}

// ToolLogDir holds captured stderr of failed subprocesses.
func (c *Config) ToolLogDir() string {
	return filepath.Join(c.Paths.LogDir, "tool")
}

// LockPath is the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "cutroomd.lock")
}

// FFmpegTimeout returns the wall-clock limit for a single ffmpeg invocation.
func (c *Config) FFmpegTimeout() time.Duration {
	return time.Duration(c.FFmpeg.TimeoutSeconds) * time.Second
}

// SessionTTL returns the inactivity window after which sessions are swept.
// Zero disables sweeping.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLHours) * time.Hour
}

// JobTTL returns how long unclaimed jobs are retained.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.Jobs.TTLMinutes) * time.Minute
}

// MaxUploadBytes returns the request body limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM settings used across features.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}
