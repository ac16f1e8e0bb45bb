package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatChoice struct {
	Message      chatAnswer `json:"message"`
	Delta        chatAnswer `json:"delta"` // some providers answer in the streaming shape
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason"`
}

type chatAnswer struct {
	Content   string `json:"content"`
	Refusal   string `json:"refusal"`
	ToolCalls []struct {
		Function functionCall `json:"function"`
	} `json:"tool_calls"`
	FunctionCall *functionCall `json:"function_call"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// text returns message content, falling back to function or tool-call arguments.
func (a chatAnswer) text() string {
	if s := strings.TrimSpace(a.Content); s != "" {
		return s
	}
	if a.FunctionCall != nil {
		if s := strings.TrimSpace(a.FunctionCall.Arguments); s != "" {
			return s
		}
	}
	for _, call := range a.ToolCalls {
		if s := strings.TrimSpace(call.Function.Arguments); s != "" {
			return s
		}
	}
	return ""
}

// answer picks the first non-empty payload across choices.
func (r chatResponse) answer() (text, finishReason, refusal string) {
	for _, choice := range r.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if refusal == "" {
			refusal = strings.TrimSpace(choice.Message.Refusal + choice.Delta.Refusal)
		}
		for _, candidate := range []string{choice.Message.text(), choice.Delta.text(), strings.TrimSpace(choice.Text)} {
			if candidate != "" {
				return candidate, finishReason, refusal
			}
		}
	}
	return "", finishReason, refusal
}

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, snippet(e.Body))
}

// EmptyContentError reports a 2xx reply that carried no usable answer.
type EmptyContentError struct {
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *EmptyContentError) Error() string {
	var b strings.Builder
	b.WriteString("empty content")
	if e.FinishReason != "" {
		fmt.Fprintf(&b, " (finish_reason=%s)", e.FinishReason)
	}
	if e.Refusal != "" {
		fmt.Fprintf(&b, " refusal=%q", e.Refusal)
	}
	fmt.Fprintf(&b, " response_snippet=%s", e.Snippet)
	return b.String()
}

func (c *Client) send(ctx context.Context, payload chatRequest) (chatResponse, []byte, error) {
	var out chatResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return out, nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return out, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, nil, fmt.Errorf("request (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return out, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, body, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, body, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return out, body, fmt.Errorf("api error: %s", strings.TrimSpace(out.Error.Message))
	}
	return out, body, nil
}
