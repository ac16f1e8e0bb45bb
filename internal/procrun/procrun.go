package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"cutroom/internal/ids"
	"cutroom/internal/logging"
	"cutroom/internal/services"
)

const stderrTailBytes = 64 << 10

var (
	// ErrToolMissing reports that the executable could not be started at all.
	ErrToolMissing = errors.New("tool unavailable")
	// ErrTimedOut reports that the wall-clock limit elapsed and the process group was killed.
	ErrTimedOut = errors.New("tool timed out")
)

// Command describes one subprocess invocation. Arguments are passed as a
// separated argv; nothing is ever interpreted by a shell.
type Command struct {
	Name          string
	Args          []string
	Dir           string
	Env           []string
	Timeout       time.Duration
	CaptureStdout bool
	Stdin         io.Reader
	// StderrLimit overrides the default stderr tail size for tools whose
	// diagnostic output is also their result (silencedetect).
	StderrLimit int
}

// Result carries captured output from a completed run.
type Result struct {
	Stdout   []byte
	Stderr   string
	Duration time.Duration
}

// RunError describes a process that started but exited unsuccessfully.
type RunError struct {
	Name    string
	Args    []string
	Err     error
	Stderr  string
	LogPath string
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Name, e.Err)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner executes external tools. Production code uses Exec; tests usually put
// stub binaries on PATH rather than replacing the runner.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Exec runs commands as real subprocesses, each in its own process group so a
// timeout or cancellation kills ffmpeg together with any helpers it spawned.
type Exec struct {
	// LogDir receives a log file per failed invocation (argv plus stderr).
	LogDir string
	Logger *slog.Logger
}

// NewExec returns an Exec writing failure logs under logDir.
func NewExec(logDir string, logger *slog.Logger) *Exec {
	return &Exec{LogDir: logDir, Logger: logging.NewComponentLogger(logger, "procrun")}
}

// Run starts the command and waits for it to finish.
func (e *Exec) Run(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	limit := c.StderrLimit
	if limit <= 0 {
		limit = stderrTailBytes
	}
	stderr := &tailBuffer{limit: limit}
	cmd.Stderr = stderr
	var stdout bytes.Buffer
	if c.CaptureStdout {
		cmd.Stdout = &stdout
	} else {
		cmd.Stdout = io.Discard
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %s before start", ErrTimedOut, c.Name)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrToolMissing, c.Name, err)
	}
	waitErr := cmd.Wait()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.String(), Duration: time.Since(start)}
	if waitErr == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: %s after %s", ErrTimedOut, c.Name, res.Duration.Round(time.Millisecond))
		}
		return res, ctxErr
	}

	runErr := &RunError{Name: c.Name, Args: c.Args, Err: waitErr, Stderr: res.Stderr}
	runErr.LogPath = e.writeToolLog(c, res.Stderr, waitErr)
	return res, runErr
}

func (e *Exec) writeToolLog(c Command, stderr string, runErr error) string {
	if e == nil || strings.TrimSpace(e.LogDir) == "" {
		return ""
	}
	if err := os.MkdirAll(e.LogDir, 0o755); err != nil {
		return ""
	}
	path := filepath.Join(e.LogDir, fmt.Sprintf("%s-%s.log", filepath.Base(c.Name), ids.New()))
	var b strings.Builder
	fmt.Fprintf(&b, "command: %s %s\n", c.Name, strings.Join(c.Args, " "))
	fmt.Fprintf(&b, "error: %v\n\n", runErr)
	b.WriteString(stderr)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		logging.WarnWithContext(e.Logger, "tool log write failed", "tool_log_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stderr only available in the API error detail"),
		)
		return ""
	}
	return path
}

// Classify converts a Run error into the service taxonomy: missing tools are
// external-service failures, timeouts are ProcessingTimeout, and non-zero
// exits are ProcessingFailure carrying the stderr tail as detail.
func Classify(operation, stage string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrToolMissing):
		return services.Wrap(services.ErrExternalService, operation, stage, "tool unavailable", err)
	case errors.Is(err, ErrTimedOut):
		return services.Wrap(services.ErrTimeout, operation, stage, "wall-clock limit exceeded", err)
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrProcessing, operation, stage, "canceled", err)
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return services.WrapDetail(services.ErrProcessing, operation, stage, runErr.Name+" exited with error", runErr.Stderr, err)
	}
	return services.Wrap(services.ErrProcessing, operation, stage, "", err)
}

// tailBuffer keeps the last limit bytes written to it; ffmpeg can print
// megabytes of progress on long jobs and only the end explains a failure.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
