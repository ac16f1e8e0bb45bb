package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://openrouter.ai/api/v1/chat/completions"
	defaultTimeout  = 15 * time.Second
	defaultAttempts = 5
)

// ErrNotConfigured is returned by every request when no API key is set.
var ErrNotConfigured = errors.New("llm: api key required")

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int

	// Referer and Title are forwarded as OpenRouter attribution headers.
	Referer string
	Title   string
}

// Client sends chat completions that are expected to answer in JSON.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      retryPolicy
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts bounds the total number of requests per call.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.retry.attempts = attempts }
}

// WithRetryBackoff sets the first retry delay and the cap.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.retry.base = base
		c.retry.max = max
	}
}

// WithSleeper replaces the wait between attempts. Tests use it to avoid real delays.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) { c.retry.sleeper = sleeper }
}

// NewClient constructs a client. Empty BaseURL falls back to OpenRouter.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.Referer = strings.TrimSpace(cfg.Referer)
	cfg.Title = strings.TrimSpace(cfg.Title)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retryPolicy{attempts: defaultAttempts, base: time.Second, max: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.APIKey != ""
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.cfg.Model
}

// CompleteJSON sends one system and one user message and returns the model's
// JSON answer as text. Transient failures are retried.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	return c.complete(ctx, "llm complete", chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
}

// CompleteInto runs CompleteJSON and decodes the answer into target,
// tolerating code fences and surrounding prose. The raw answer is returned
// even when decoding fails so callers can attach it to errors.
func (c *Client) CompleteInto(ctx context.Context, systemPrompt, userPrompt string, target any) (string, error) {
	content, err := c.CompleteJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	if err := DecodeJSON(content, target); err != nil {
		return content, fmt.Errorf("llm complete: parse payload: %w", err)
	}
	return content, nil
}

// HealthCheck asks for a fixed JSON answer to verify the key and model.
func (c *Client) HealthCheck(ctx context.Context) error {
	var reply struct {
		OK bool `json:"ok"`
	}
	if _, err := c.CompleteInto(ctx, "You must respond with JSON only.", `Respond with {"ok":true}`, &reply); err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	if !reply.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

func (c *Client) complete(ctx context.Context, op string, req chatRequest) (string, error) {
	var content string
	err := c.retry.do(ctx, func() error {
		resp, body, err := c.send(ctx, req)
		if err != nil {
			return err
		}
		text, finish, refusal := resp.answer()
		if text == "" {
			return &EmptyContentError{FinishReason: finish, Refusal: refusal, Snippet: snippet(string(body))}
		}
		content = text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return content, nil
}
