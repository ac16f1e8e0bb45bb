package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"cutroom/internal/config"
	"cutroom/internal/deps"
	"cutroom/internal/services/llm"
)

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.LLMConfig) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	}, llm.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		var status *llm.StatusError
		if errors.As(err, &status) && (status.StatusCode == http.StatusUnauthorized || status.StatusCode == http.StatusForbidden) {
			return Result{Name: name, Detail: "auth failed (invalid api key)"}
		}
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckGeneration verifies the prediction provider accepts the token by
// listing predictions.
func CheckGeneration(ctx context.Context, baseURL, token string) Result {
	const name = "Generation provider"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}
	if strings.TrimSpace(token) == "" {
		return Result{Name: name, Detail: "missing api token"}
	}
	endpoint, err := url.JoinPath(base, "predictions")
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid base url (%v)", err)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%v)", err)}
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%s)", summarizeNetworkError(err))}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api token)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%d)", resp.StatusCode)}
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates every external program for the given config.
// Both the daemon and the CLI status command use this so the requirements
// list lives in one place.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpeg.FFmpegBinary,
			Description: "Required for edits, thumbnails and renders",
			VersionArgs: []string{"-version"},
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFmpeg.FFprobeBinary,
			Description: "Required for media inspection",
			VersionArgs: []string{"-version"},
		},
		{
			Name:        "uvx",
			Command:     cfg.Transcription.UVXBinary,
			Description: "Runs WhisperX for local transcription",
			Optional:    !cfg.Transcription.LocalEnabled,
		},
		{
			Name:        "Animation renderer",
			Command:     firstArg(cfg.Animation.Command),
			Description: "Renders motion graphics",
			Optional:    true,
		},
		{
			Name:        "Face helper",
			Command:     firstArg(cfg.Faces.Command),
			Description: "Tracks faces for reframing",
			Optional:    true,
		},
	}
	return deps.CheckBinaries(ctx, requirements)
}

// Features summarizes which optional features are usable from configuration
// alone, without network calls.
func Features(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	var transcription Result
	switch {
	case cfg.Transcription.LocalEnabled && cfg.Transcription.RemoteAPIKey != "":
		transcription = Result{Passed: true, Detail: "local WhisperX, remote fallback"}
	case cfg.Transcription.LocalEnabled:
		transcription = Result{Passed: true, Detail: "local WhisperX only"}
	case cfg.Transcription.RemoteAPIKey != "":
		transcription = Result{Passed: true, Detail: "remote only"}
	default:
		transcription = Result{Detail: "no engine configured"}
	}
	transcription.Name = "Transcription"

	return []Result{
		transcription,
		configured("Command advice", cfg.LLM.APIKey != "", "llm.api_key"),
		configured("Animation generation", cfg.LLM.APIKey != "" && len(cfg.Animation.Command) > 0, "llm.api_key and animation.command"),
		configured("Media generation", cfg.Generation.APIToken != "", "generation.api_token"),
		configured("Face tracking", len(cfg.Faces.Command) > 0, "faces.command"),
	}
}

func configured(name string, ok bool, needs string) Result {
	if ok {
		return Result{Name: name, Passed: true, Detail: "Configured"}
	}
	return Result{Name: name, Detail: "Needs " + needs}
}

func firstArg(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}

// summarizeNetworkError produces a human-readable summary for health check failures.
func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (API unreachable)"
	}
	return err.Error()
}
