package whisperx

import "time"

// Config captures runtime settings for WhisperX operations. There is no GPU
// switch: the sparse-tensor kernels WhisperX relies on crash on CUDA and
// Apple MPS, so the engine always runs on CPU.
type Config struct {
	// Model is the WhisperX model to use (e.g., "large-v3-turbo").
	Model string
	// UVXBinary launches WhisperX in an isolated environment.
	UVXBinary string
	// VADMethod selects the voice activity detection method ("silero" or "pyannote").
	VADMethod string
	// HFToken is the Hugging Face token for pyannote VAD.
	HFToken string
	// Timeout bounds one transcription run.
	Timeout time.Duration
}

// WhisperX configuration constants.
const (
	DefaultModel      = "large-v3"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "4"
	ChunkSize         = "15"
	VADOnset          = "0.08"
	VADOffset         = "0.07"
	BeamSize          = "5"
	BestOf            = "5"
	Temperature       = "0.0"
	Patience          = "1.0"
	SegmentResolution = "sentence"
	OutputFormat      = "json"
	CPUDevice         = "cpu"
	CPUComputeType    = "float32"
	VADMethodPyannote = "pyannote"
	VADMethodSilero   = "silero"
)

// UVXCommand is the default launcher binary.
const UVXCommand = "uvx"
