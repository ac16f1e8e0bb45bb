// Package ffmpeg builds ffmpeg argument lists from typed parts and runs them
// through procrun. Every pipeline in the server (commands, silence removal,
// transcription audio extraction, thumbnails, rendering) goes through Command
// so user-controlled values only ever appear as single argv entries or as
// escaped filter literals.
package ffmpeg
