package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"cutroom/internal/logging"
	"cutroom/internal/services"
	"cutroom/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffmpeg", "ffprobe"))
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running || status.Address == "" {
		t.Fatalf("expected daemon to report running with an address, got %+v", status)
	}
	if len(status.Dependencies) == 0 || len(status.Features) == 0 {
		t.Fatalf("expected dependency and feature snapshot, got %+v", status)
	}

	resp, err := http.Get("http://" + d.Addr() + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	_ = resp.Body.Close()
	if body["running"] != true {
		t.Fatalf("status body = %v", body)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected lock contention error")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Sessions.TTLHours = 1
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	stale, err := d.Layout().CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	fresh, err := d.Layout().CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	base := time.Now()
	if err := d.catalog.Touch(ctx, fresh.ID, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	d.now = func() time.Time { return base.Add(90 * time.Minute) }

	removed, err := d.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := d.Layout().Session(stale.ID); services.Kind(err) != "session_not_found" {
		t.Fatalf("stale session still present: %v", err)
	}
	if _, err := d.Layout().Session(fresh.ID); err != nil {
		t.Fatalf("fresh session removed: %v", err)
	}
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Sessions.TTLHours = 0
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if _, err := d.Layout().CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	d.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }
	removed, err := d.Sweep(context.Background())
	if err != nil || removed != 0 {
		t.Fatalf("Sweep = %d, %v; want 0, nil", removed, err)
	}
}
