package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutRespectsPerHandlerLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	info := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(newFanoutHandler(info, debug)).With("session_id", "s1")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled for debug")
	}
	logger.Debug("detail")
	logger.Info("summary")

	if strings.Contains(infoBuf.String(), "detail") {
		t.Fatalf("info handler received debug record: %q", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "detail") || !strings.Contains(debugBuf.String(), "summary") {
		t.Fatalf("debug handler missing records: %q", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "session_id=s1") {
		t.Fatalf("expected attrs propagated: %q", infoBuf.String())
	}
}

func TestTeeLoggerNilBase(t *testing.T) {
	var buf bytes.Buffer
	logger := TeeLogger(nil, slog.NewTextHandler(&buf, nil))
	logger.Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected output, got %q", buf.String())
	}
}
