package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cutroom/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "cutroom")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Server.Bind != "127.0.0.1:3333" {
		t.Fatalf("unexpected bind: %q", cfg.Server.Bind)
	}
	if cfg.Silence.ThresholdDB != -26 || cfg.Silence.MinDuration != 0.4 {
		t.Fatalf("unexpected silence defaults: %+v", cfg.Silence)
	}
	if cfg.LLM.APIKey != "or-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Animation.CompositionID != "DynamicAnimation" {
		t.Fatalf("unexpected composition id %q", cfg.Animation.CompositionID)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.SessionsDir(), cfg.Paths.LogDir, cfg.ToolLogDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	configPath := filepath.Join(tempDir, "cutroom.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Silence struct {
			ThresholdDB float64 `toml:"threshold_db"`
			MinDuration float64 `toml:"min_duration"`
		} `toml:"silence"`
		Animation struct {
			Command []string `toml:"command"`
		} `toml:"animation"`
	}
	custom := payload{}
	custom.Paths.DataDir = "~/media"
	custom.Silence.ThresholdDB = -40
	custom.Silence.MinDuration = 1.5
	custom.Animation.Command = []string{"bunx", "remotion", "render"}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "media") {
		t.Fatalf("expected expanded data dir, got %q", cfg.Paths.DataDir)
	}
	if cfg.Silence.ThresholdDB != -40 || cfg.Silence.MinDuration != 1.5 {
		t.Fatalf("expected silence overrides, got %+v", cfg.Silence)
	}
	if strings.Join(cfg.Animation.Command, " ") != "bunx remotion render" {
		t.Fatalf("unexpected animation command %v", cfg.Animation.Command)
	}
}

func TestEnvVarFillsMissingCredentials(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("REPLICATE_API_TOKEN", "env-replicate")

	configPath := filepath.Join(tempDir, "cutroom.toml")
	body := "[generation]\napi_token = \"file-token\"\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transcription.RemoteAPIKey != "env-openai" {
		t.Fatalf("expected remote key from env, got %q", cfg.Transcription.RemoteAPIKey)
	}
	if cfg.Generation.APIToken != "file-token" {
		t.Fatalf("expected file token to win over env, got %q", cfg.Generation.APIToken)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Chdir(tempDir)
	// Register for cleanup so the value loaded from .env does not leak.
	t.Setenv("REPLICATE_API_TOKEN", "")
	os.Unsetenv("REPLICATE_API_TOKEN")

	if err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte("REPLICATE_API_TOKEN=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Generation.APIToken != "from-dotenv" {
		t.Fatalf("expected token from .env, got %q", cfg.Generation.APIToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bind", func(c *config.Config) { c.Server.Bind = "nope" }, "server.bind"},
		{"origin", func(c *config.Config) { c.Server.AllowedOrigins = []string{"localhost"} }, "allowed_origins"},
		{"threshold", func(c *config.Config) { c.Silence.ThresholdDB = 3 }, "silence.threshold_db"},
		{"llm url", func(c *config.Config) { c.LLM.BaseURL = "ftp://x" }, "llm.base_url"},
		{"poll", func(c *config.Config) { c.Generation.PollIntervalSeconds = 900 }, "poll_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	path := filepath.Join(tempDir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.FFmpeg.TimeoutSeconds != 600 {
		t.Fatalf("unexpected ffmpeg timeout %d", cfg.FFmpeg.TimeoutSeconds)
	}
}
