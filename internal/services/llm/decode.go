package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeJSON decodes the first JSON object or array in content into target.
// Code fences and prose before or after the value are ignored.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON value in payload: %s", snippet(trimmed))
	}
	dec := json.NewDecoder(strings.NewReader(trimmed[start:]))
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w (payload snippet: %s)", err, snippet(trimmed))
	}
	return nil
}

// snippet flattens whitespace and truncates to 160 runes for log lines.
func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	if runes := []rune(clean); len(runes) > 160 {
		return string(runes[:160]) + "..."
	}
	return clean
}
