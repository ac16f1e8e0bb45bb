// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Summary: the per-asset subset stored in asset metadata
//
// Primary entry point:
//   - Inspect: executes ffprobe through a procrun.Runner and returns the parsed Result
package ffprobe
