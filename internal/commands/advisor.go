package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cutroom/internal/services"
	"cutroom/internal/services/llm"
)

// Advice is a suggested command with a human-readable explanation. It is
// never executed by the advisor.
type Advice struct {
	Command     Spec   `json:"command"`
	Explanation string `json:"explanation"`
}

// Advisor turns a natural-language instruction into a command.
type Advisor interface {
	Suggest(ctx context.Context, instruction string, m *Media) (Advice, error)
}

const advisorPrompt = `You translate video editing instructions into exactly one structured command.
Respond with JSON only: {"command": {...}, "explanation": "one sentence"}.
The command object has an "op" field and the parameters for that op:
- trim: start, end (seconds)
- crop: x, y, width, height (pixels)
- scale: width, height (pixels, -2 keeps aspect on one side)
- speed: factor (0.25..4)
- volume: gain (0..4, 1 is unchanged)
- mute: no parameters
- rotate: degrees (90, 180, 270)
- flip: direction ("horizontal" or "vertical")
- fade: in, out (seconds)
- color: brightness (-1..1), contrast (0..3), saturation (0..3)
- denoise: no parameters
- normalize_audio: no parameters
- reframe: aspect ("9:16", "1:1", "4:5", "16:9"), centerX (0..1, optional)
- reverse: no parameters
Never invent other ops or fields.`

// LLMAdvisor asks a chat-completion model for advice.
type LLMAdvisor struct {
	client *llm.Client
}

// NewLLMAdvisor wraps an LLM client.
func NewLLMAdvisor(client *llm.Client) *LLMAdvisor {
	return &LLMAdvisor{client: client}
}

// Suggest implements Advisor. The returned command is validated against m
// when media details are known.
func (a *LLMAdvisor) Suggest(ctx context.Context, instruction string, m *Media) (Advice, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return Advice{}, services.Validation("suggest command", "instruction is required")
	}
	if a == nil || !a.client.Configured() {
		return Advice{}, services.Wrap(services.ErrConfiguration, "suggest command", "", "llm.api_key is not set", nil)
	}

	var user strings.Builder
	user.WriteString("Instruction: ")
	user.WriteString(instruction)
	if m != nil {
		fmt.Fprintf(&user, "\nMedia: duration=%.3fs width=%d height=%d video=%t audio=%t image=%t",
			m.Duration, m.Width, m.Height, m.HasVideo, m.HasAudio, m.Still)
	}

	var raw struct {
		Command     json.RawMessage `json:"command"`
		Explanation string          `json:"explanation"`
	}
	content, err := a.client.CompleteInto(ctx, advisorPrompt, user.String(), &raw)
	if err != nil {
		return Advice{}, services.Wrap(services.ErrExternalService, "suggest command", "llm", "model request failed", err)
	}
	var spec Spec
	if err := json.Unmarshal(raw.Command, &spec); err != nil {
		return Advice{}, services.WrapDetail(services.ErrExternalService, "suggest command", "parse", "model returned an unusable command", content, err)
	}
	if m != nil {
		if err := spec.Validate(*m); err != nil {
			return Advice{}, services.WrapDetail(services.ErrExternalService, "suggest command", "validate", "model suggested an invalid command", content, err)
		}
	}
	return Advice{Command: spec, Explanation: strings.TrimSpace(raw.Explanation)}, nil
}
