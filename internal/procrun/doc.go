// Package procrun owns the lifecycle of every external tool invocation:
// ffmpeg, ffprobe, uvx/WhisperX, the animation renderer, and the face tracker.
//
// Each run gets its own process group, a wall-clock limit, and a bounded
// stderr capture. Failed runs leave a log under the tool log directory so an
// operator can replay the exact argv.
package procrun
