package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cutroom/internal/jobs"
	"cutroom/internal/services"
)

const session = "6f0c4a5e-1111-4aaa-8bbb-000000000000"

func TestTerminalJobDeliveredOnce(t *testing.T) {
	store := jobs.NewStore(time.Hour)
	job, handle := store.Create(session, "image")

	got, err := store.Take(session, job.ID)
	if err != nil || got.Status != jobs.StatusProcessing {
		t.Fatalf("expected processing job, got %+v %v", got, err)
	}
	if _, err := store.Take(session, job.ID); err != nil {
		t.Fatalf("processing job must stay pollable: %v", err)
	}

	if !handle.Complete(map[string]string{"assetId": "a"}) {
		t.Fatal("Complete returned false")
	}
	got, err = store.Take(session, job.ID)
	if err != nil || got.Status != jobs.StatusComplete || got.Result == nil {
		t.Fatalf("expected complete job, got %+v %v", got, err)
	}
	if _, err := store.Take(session, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("second poll after completion should be not found, got %v", err)
	}
}

func TestHandleFinishesOnlyOnce(t *testing.T) {
	store := jobs.NewStore(time.Hour)
	job, handle := store.Create(session, "video")

	if !handle.Fail(services.Wrap(services.ErrExternalService, "generate", "poll", "provider down", nil)) {
		t.Fatal("Fail returned false")
	}
	if handle.Complete("late") {
		t.Fatal("a finished job must not transition again")
	}
	got, err := store.Take(session, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusError || got.ErrorKind != "external_service_failure" || !got.Retryable {
		t.Fatalf("unexpected failed job %+v", got)
	}
}

func TestTakeIsScopedToSession(t *testing.T) {
	store := jobs.NewStore(time.Hour)
	job, _ := store.Create(session, "image")
	if _, err := store.Take("7f0c4a5e-1111-4aaa-8bbb-000000000000", job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found from another session, got %v", err)
	}
}

func TestEvictDropsUncollectedResults(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := jobs.NewStore(time.Minute, jobs.WithClock(func() time.Time { return now }))
	stale, staleHandle := store.Create(session, "image")
	fresh, freshHandle := store.Create(session, "image")
	staleHandle.Complete("old")

	now = now.Add(30 * time.Second)
	freshHandle.Complete("new")

	now = now.Add(45 * time.Second)
	if n := store.Evict(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, err := store.Take(session, stale.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("stale result still present: %v", err)
	}
	if got, err := store.Take(session, fresh.ID); err != nil || got.Result != "new" {
		t.Fatalf("fresh result evicted: %+v %v", got, err)
	}
}

func TestEvictKeepsLongRunningJobs(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := jobs.NewStore(time.Minute, jobs.WithClock(func() time.Time { return now }))
	running, handle := store.Create(session, "video_restyle")

	now = now.Add(10 * time.Minute)
	if n := store.Evict(); n != 0 {
		t.Fatalf("processing job evicted (%d)", n)
	}
	if !handle.Complete("done") {
		t.Fatal("a job that outlived the TTL must still complete")
	}
	got, err := store.Take(session, running.ID)
	if err != nil || got.Status != jobs.StatusComplete {
		t.Fatalf("expected succeeded job, got %+v %v", got, err)
	}
}

func TestStartRunsDetachedFromRequest(t *testing.T) {
	store := jobs.NewStore(time.Hour)
	ctx, cancel := context.WithCancel(services.WithSessionID(context.Background(), session))
	release := make(chan struct{})
	job := store.Start(ctx, session, "image", func(ctx context.Context) (any, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return "done", nil
	})
	cancel()
	close(release)
	store.Wait()

	got, err := store.Take(session, job.ID)
	if err != nil || got.Status != jobs.StatusComplete || got.Result != "done" {
		t.Fatalf("expected completed job, got %+v %v", got, err)
	}
}

func TestConcurrentPollersSeeTerminalOnce(t *testing.T) {
	store := jobs.NewStore(time.Hour)
	job, handle := store.Create(session, "image")
	handle.Complete("ok")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, err := store.Take(session, job.ID); err == nil && got.Status == jobs.StatusComplete {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if delivered != 1 {
		t.Fatalf("terminal state delivered %d times", delivered)
	}
}

func TestDropSessionAndCounts(t *testing.T) {
	store := jobs.NewStore(time.Hour)
	store.Create(session, "image")
	_, h := store.Create(session, "video")
	h.Complete(nil)
	other, _ := store.Create("7f0c4a5e-1111-4aaa-8bbb-000000000000", "image")

	counts := store.Counts()
	if counts[jobs.StatusProcessing] != 2 || counts[jobs.StatusComplete] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if n := store.DropSession(session); n != 2 {
		t.Fatalf("expected two dropped, got %d", n)
	}
	if _, err := store.Take(other.SessionID, other.ID); err != nil {
		t.Fatalf("other session's job dropped: %v", err)
	}
}
