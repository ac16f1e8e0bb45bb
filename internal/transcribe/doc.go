// Package transcribe turns an asset's audio into word-level timings.
//
// Audio is extracted to 16 kHz mono WAV in the session tmp directory and
// handed to WhisperX (internal/services/whisperx), which always runs on CPU.
// When the local engine is disabled or not installed the OpenAI-compatible
// remote API is used instead; audio over the remote upload limit is
// re-encoded at 32 kb/s and the result is flagged as degraded. Which engine
// answered is part of every Result.
package transcribe
