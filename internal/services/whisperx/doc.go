// Package whisperx runs WhisperX through uvx and reads its word-level JSON.
//
// This package handles:
//   - The ffmpeg invocation that prepares 16 kHz mono WAV input
//   - WhisperX invocation (always CPU, float32)
//   - Segment and word extraction from the JSON result
//   - Recognising failures that mean the engine is not installed, so callers
//     can fall back to a remote transcription API
package whisperx
