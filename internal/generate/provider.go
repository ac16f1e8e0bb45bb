package generate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Prediction states reported by the provider.
const (
	PredictionStarting   = "starting"
	PredictionProcessing = "processing"
	PredictionSucceeded  = "succeeded"
	PredictionFailed     = "failed"
	PredictionCanceled   = "canceled"
)

// Prediction is one remote generation request.
type Prediction struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Output Outputs `json:"output"`
	Error  string  `json:"error"`
}

// Done reports whether the provider will not change the prediction again.
func (p Prediction) Done() bool {
	switch p.Status {
	case PredictionSucceeded, PredictionFailed, PredictionCanceled:
		return true
	}
	return false
}

// Outputs accepts either a single URL or a list of URLs.
type Outputs []string

// UnmarshalJSON implements json.Unmarshaler.
func (o *Outputs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*o = nil
		return nil
	}
	if data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*o = Outputs{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("prediction output: %w", err)
	}
	*o = many
	return nil
}

// Provider submits predictions and reports their progress.
type Provider interface {
	Submit(ctx context.Context, model string, input map[string]any) (Prediction, error)
	Poll(ctx context.Context, id string) (Prediction, error)
	Download(ctx context.Context, url string, w io.Writer) error
}

// HTTPConfig configures a prediction-style HTTP provider.
type HTTPConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// HTTPProvider talks to a prediction API: POST {base}/predictions creates,
// GET {base}/predictions/{id} polls.
type HTTPProvider struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

// NewHTTPProvider constructs a provider. A zero timeout means one minute per
// request; downloads are bounded by the caller's context instead.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIToken = strings.TrimSpace(cfg.APIToken)
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &HTTPProvider{cfg: cfg, httpClient: &http.Client{}}
}

// Configured reports whether a token and endpoint are present.
func (p *HTTPProvider) Configured() bool {
	return p != nil && p.cfg.APIToken != "" && p.cfg.BaseURL != ""
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("prediction api: status %d: %s", e.StatusCode, e.Body)
}

// transient reports whether a request may succeed when repeated.
func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// rejected reports a 4xx answer other than 408 and 429: the provider refused
// this request and repeating it unchanged will not help.
func rejected(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500 &&
		se.StatusCode != http.StatusRequestTimeout && se.StatusCode != http.StatusTooManyRequests
}

// Submit creates a prediction for model.
func (p *HTTPProvider) Submit(ctx context.Context, model string, input map[string]any) (Prediction, error) {
	endpoint, err := url.JoinPath(p.cfg.BaseURL, "predictions")
	if err != nil {
		return Prediction{}, fmt.Errorf("prediction api: build url: %w", err)
	}
	body, err := json.Marshal(map[string]any{"version": model, "input": input})
	if err != nil {
		return Prediction{}, fmt.Errorf("prediction api: encode body: %w", err)
	}
	return p.do(ctx, http.MethodPost, endpoint, body)
}

// Poll fetches the current state of a prediction.
func (p *HTTPProvider) Poll(ctx context.Context, id string) (Prediction, error) {
	endpoint, err := url.JoinPath(p.cfg.BaseURL, "predictions", url.PathEscape(id))
	if err != nil {
		return Prediction{}, fmt.Errorf("prediction api: build url: %w", err)
	}
	return p.do(ctx, http.MethodGet, endpoint, nil)
}

// Download streams the result at rawURL into w.
func (p *HTTPProvider) Download(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("prediction download: new request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("prediction download: http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("prediction download: read body: %w", err)
	}
	return nil
}

func (p *HTTPProvider) do(ctx context.Context, method, endpoint string, body []byte) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Prediction{}, fmt.Errorf("prediction api: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("prediction api: http error: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Prediction{}, fmt.Errorf("prediction api: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Prediction{}, &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var out Prediction
	if err := json.Unmarshal(raw, &out); err != nil {
		return Prediction{}, fmt.Errorf("prediction api: decode response: %w", err)
	}
	if out.ID == "" {
		return Prediction{}, errors.New("prediction api: response has no id")
	}
	return out, nil
}

// fileDataURI inlines a local file so providers without upload endpoints can
// read it.
func fileDataURI(path, mimeType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(data)*4/3 + 64)
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	enc := base64.NewEncoder(base64.StdEncoding, &b)
	if _, err := enc.Write(data); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return b.String(), nil
}
