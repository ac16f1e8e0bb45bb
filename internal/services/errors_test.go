package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"cutroom/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("exit status 1")
	err := services.WrapDetail(services.ErrProcessing, "process-asset", "ffmpeg", "crop failed", "  Invalid too big or non positive size\n", base)
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"process-asset", "ffmpeg", "crop failed", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
	svc, ok := services.AsServiceError(fmt.Errorf("outer: %w", err))
	if !ok {
		t.Fatal("expected ServiceError in chain")
	}
	if svc.Detail != "Invalid too big or non positive size" {
		t.Fatalf("unexpected detail %q", svc.Detail)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		err       error
		kind      string
		status    int
		retryable bool
	}{
		{services.Validation("upload", "empty file"), "validation", http.StatusBadRequest, false},
		{services.Wrap(services.ErrSessionNotFound, "session", "", "abc", nil), "session_not_found", http.StatusNotFound, false},
		{services.Wrap(services.ErrNotFound, "asset", "", "x", nil), "not_found", http.StatusNotFound, false},
		{services.Wrap(services.ErrProcessing, "render", "encode", "", nil), "processing_failure", http.StatusUnprocessableEntity, false},
		{services.Wrap(services.ErrTimeout, "render", "encode", "", nil), "processing_timeout", http.StatusGatewayTimeout, true},
		{context.DeadlineExceeded, "processing_timeout", http.StatusGatewayTimeout, true},
		{services.Wrap(services.ErrExternalService, "generate", "poll", "", nil), "external_service_failure", http.StatusBadGateway, true},
		{services.Wrap(services.ErrExternalRejected, "generate", "submit", "", nil), "external_service_rejected", http.StatusBadGateway, false},
		{services.Wrap(services.ErrPartialPipeline, "silence", "extracting", "segment 3", nil), "partial_pipeline_failure", http.StatusInternalServerError, false},
		{errors.New("boom"), "internal", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		if got := services.Kind(tt.err); got != tt.kind {
			t.Fatalf("Kind(%v) = %q want %q", tt.err, got, tt.kind)
		}
		if got := services.HTTPStatus(tt.err); got != tt.status {
			t.Fatalf("HTTPStatus(%v) = %d want %d", tt.err, got, tt.status)
		}
		if got := services.Retryable(tt.err); got != tt.retryable {
			t.Fatalf("Retryable(%v) = %v want %v", tt.err, got, tt.retryable)
		}
	}
}

func TestSessionNotFoundTakesPrecedence(t *testing.T) {
	inner := services.Wrap(services.ErrSessionNotFound, "storage", "", "missing", nil)
	outer := services.Wrap(services.ErrProcessing, "render", "probe", "resolve", inner)
	if services.Kind(outer) != "session_not_found" {
		t.Fatalf("expected session_not_found, got %s", services.Kind(outer))
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := services.WithSessionID(context.Background(), "s")
	ctx = services.WithAssetID(ctx, "")
	if id, ok := services.SessionIDFromContext(ctx); !ok || id != "s" {
		t.Fatalf("unexpected session id %q %v", id, ok)
	}
	if _, ok := services.AssetIDFromContext(ctx); ok {
		t.Fatal("empty asset id should not be stored")
	}
}

func TestRejectedMatchesExternalService(t *testing.T) {
	err := services.Wrap(services.ErrExternalRejected, "generate image", "submit", "submit prediction", nil)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatal("rejected errors should still match ErrExternalService")
	}
}
