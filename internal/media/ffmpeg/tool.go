package ffmpeg

import (
	"context"
	"time"

	"cutroom/internal/procrun"
)

// Tool binds an ffmpeg binary to a runner and a per-invocation time limit.
type Tool struct {
	Binary  string
	Runner  procrun.Runner
	Timeout time.Duration
}

// Run executes cmd and classifies failures for the given operation and stage.
// The returned string is ffmpeg's stderr, which analysis filters use as output.
func (t Tool) Run(ctx context.Context, operation, stage string, cmd *Command) (string, error) {
	binary := t.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	res, err := t.Runner.Run(ctx, procrun.Command{
		Name:    binary,
		Args:    cmd.Args(),
		Timeout: t.Timeout,
	})
	if err != nil {
		return res.Stderr, procrun.Classify(operation, stage, err)
	}
	return res.Stderr, nil
}

// Analyze runs an analysis pass whose results are printed to stderr at info
// level. The full stderr is retained rather than the usual tail.
func (t Tool) Analyze(ctx context.Context, operation, stage string, cmd *Command) (string, error) {
	binary := t.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	res, err := t.Runner.Run(ctx, procrun.Command{
		Name:        binary,
		Args:        cmd.LogLevel("info").Args(),
		Timeout:     t.Timeout,
		StderrLimit: 32 << 20,
	})
	if err != nil {
		return res.Stderr, procrun.Classify(operation, stage, err)
	}
	return res.Stderr, nil
}
