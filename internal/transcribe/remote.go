package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RemoteConfig captures the OpenAI-compatible transcription endpoint.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RemoteClient posts audio to /audio/transcriptions and asks for word timings.
type RemoteClient struct {
	cfg        RemoteConfig
	httpClient *http.Client
}

// NewRemoteClient constructs a client. A zero timeout falls back to ten minutes.
func NewRemoteClient(cfg RemoteConfig) *RemoteClient {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &RemoteClient{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// Configured reports whether an API key and endpoint are present.
func (c *RemoteClient) Configured() bool {
	return c != nil && c.cfg.APIKey != "" && c.cfg.BaseURL != ""
}

type remoteWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type remoteResponse struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Duration float64      `json:"duration"`
	Words    []remoteWord `json:"words"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type remoteStatusError struct {
	StatusCode int
	Body       string
}

func (e *remoteStatusError) Error() string {
	return fmt.Sprintf("transcription api: status %d: %s", e.StatusCode, e.Body)
}

// errTooLarge is returned by the API for uploads above its size limit.
var errTooLarge = errors.New("audio exceeds the remote upload limit")

// Transcribe uploads path and returns word timings.
func (c *RemoteClient) Transcribe(ctx context.Context, path string) (remoteResponse, error) {
	var out remoteResponse
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "audio", "transcriptions")
	if err != nil {
		return out, fmt.Errorf("transcription api: build url: %w", err)
	}

	body, contentType, err := multipartBody(path, map[string]string{
		"model":                     c.cfg.Model,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
	})
	if err != nil {
		return out, err
	}
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return out, fmt.Errorf("transcription api: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("transcription api: http error: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return out, fmt.Errorf("transcription api: read body: %w", err)
	}
	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return out, errTooLarge
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return out, &remoteStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("transcription api: decode response: %w", err)
	}
	if out.Error != nil {
		return out, fmt.Errorf("transcription api: %s", strings.TrimSpace(out.Error.Message))
	}
	return out, nil
}

// multipartBody streams the file through a pipe so large audio is never
// buffered in memory.
func multipartBody(path string, fields map[string]string) (io.ReadCloser, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("transcription api: open audio: %w", err)
	}
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		for key, value := range fields {
			if err := writer.WriteField(key, value); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := writer.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()
	return pr, writer.FormDataContentType(), nil
}
