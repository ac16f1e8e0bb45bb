package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cutroom/internal/procrun"
)

// ErrUnavailable marks failures that mean WhisperX cannot run on this host
// (launcher missing, package resolution failed, python module missing).
var ErrUnavailable = errors.New("whisperx unavailable")

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg    Config
	runner procrun.Runner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config, runner procrun.Runner) *Service {
	if strings.TrimSpace(cfg.UVXBinary) == "" {
		cfg.UVXBinary = UVXCommand
	}
	return &Service{cfg: cfg, runner: runner}
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// Binary returns the launcher used to start WhisperX.
func (s *Service) Binary() string {
	return s.cfg.UVXBinary
}

// Result contains the result of a transcription.
type Result struct {
	// Text is the plain text transcription.
	Text string
	// Language is the detected (or requested) ISO-639-1 code.
	Language string
	// Segments carry word timings relative to the start of the source.
	Segments []Segment
	// JSONPath is the path to the generated JSON file.
	JSONPath string
}

// Words flattens segment words in order.
func (r Result) Words() []Word {
	var out []Word
	for _, seg := range r.Segments {
		out = append(out, seg.Words...)
	}
	return out
}

// TranscribeFile transcribes a WAV file prepared by ExtractCommand.
// outputDir is where WhisperX will write its output files.
func (s *Service) TranscribeFile(ctx context.Context, source, outputDir, language string) (Result, error) {
	var result Result

	if source == "" {
		return result, fmt.Errorf("transcribe: source path required")
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	_, err := s.runner.Run(ctx, procrun.Command{
		Name:    s.cfg.UVXBinary,
		Args:    s.buildArgs(source, outputDir, language),
		Timeout: s.cfg.Timeout,
		// CUDA must stay invisible even on GPU hosts; torch 2.6 changed the
		// torch.load default and WhisperX checkpoints need the legacy path.
		Env: []string{"CUDA_VISIBLE_DEVICES=", "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1"},
	})
	if err != nil {
		if unavailable(err) {
			return result, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return result, fmt.Errorf("whisperx: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	result.JSONPath = filepath.Join(outputDir, baseName+".json")
	payload, err := loadPayload(result.JSONPath)
	if err != nil {
		return result, fmt.Errorf("whisperx: %w", err)
	}
	result.Segments = payload.Segments
	result.Language = payload.Language
	if result.Language == "" {
		result.Language = language
	}
	result.Text = joinText(payload.Segments)
	return result, nil
}

// unavailable reports whether err means the engine is not installed rather
// than that it failed on this input.
func unavailable(err error) bool {
	if errors.Is(err, procrun.ErrToolMissing) {
		return true
	}
	var runErr *procrun.RunError
	if !errors.As(err, &runErr) {
		return false
	}
	stderr := runErr.Stderr
	for _, marker := range []string{
		"ModuleNotFoundError",
		"No module named",
		"No solution found when resolving",
		"Failed to download",
		"command not found",
	} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir, language string) []string {
	args := make([]string, 0, 40)
	args = append(args, "--index-url", PypiIndexURL)

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--best_of", BestOf,
		"--temperature", Temperature,
		"--patience", Patience,
	)

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if lang := strings.ToLower(strings.TrimSpace(language)); len(lang) == 2 {
		args = append(args, "--language", lang)
	}

	return append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
}

// Word represents a single word with timing from WhisperX output. Alignment
// can leave Start/End unset for numerals and symbols.
type Word struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
	Score float64  `json:"score,omitempty"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

// whisperXPayload is the JSON structure from WhisperX output.
type whisperXPayload struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

func loadPayload(jsonPath string) (whisperXPayload, error) {
	var payload whisperXPayload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	payload, err := loadPayload(jsonPath)
	if err != nil {
		return nil, err
	}
	return payload.Segments, nil
}

func joinText(segments []Segment) string {
	var parts []string
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
