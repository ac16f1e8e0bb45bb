// Package jobs tracks asynchronous work started by HTTP handlers.
//
// A job is created together with a Handle. Only the holder of that handle can
// move the job to a terminal state, so each job has exactly one writer. Pollers
// read through Take: a processing job stays in the store, a terminal job is
// returned once and removed. Jobs nobody collects are evicted after the TTL.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cutroom/internal/ids"
	"cutroom/internal/logging"
	"cutroom/internal/services"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Job is a snapshot of one unit of async work.
type Job struct {
	ID        string    `json:"jobId"`
	SessionID string    `json:"sessionId"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is an in-memory job table. Use NewStore.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	wg     sync.WaitGroup
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for job lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.NewComponentLogger(logger, "jobs") }
}

// NewStore returns an empty store that evicts jobs idle for longer than ttl.
func NewStore(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		jobs:   make(map[string]*Job),
		ttl:    ttl,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle is the single writer of a job.
type Handle struct {
	store *Store
	id    string
	once  sync.Once
}

// ID returns the job identifier.
func (h *Handle) ID() string { return h.id }

// Complete records a successful result. It reports false when the job was
// already finished or has been evicted.
func (h *Handle) Complete(result any) bool {
	ok := false
	h.once.Do(func() {
		ok = h.store.finish(h.id, func(j *Job) {
			j.Status = StatusComplete
			j.Result = result
		})
	})
	return ok
}

// Fail records err as the terminal outcome.
func (h *Handle) Fail(err error) bool {
	ok := false
	h.once.Do(func() {
		ok = h.store.finish(h.id, func(j *Job) {
			j.Status = StatusError
			if err == nil {
				err = errors.New("job failed")
			}
			j.Error = err.Error()
			j.ErrorKind = services.Kind(err)
			j.Retryable = services.Retryable(err)
		})
	})
	return ok
}

// Create registers a processing job and returns its snapshot and writer.
func (s *Store) Create(sessionID, kind string) (Job, *Handle) {
	now := s.now().UTC()
	job := &Job{
		ID:        ids.NewAt(now),
		SessionID: sessionID,
		Kind:      kind,
		Status:    StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return *job, &Handle{store: s, id: job.ID}
}

// Start creates a job and runs fn on its own goroutine. The goroutine keeps
// the values of ctx but not its cancellation, so a job outlives the request
// that started it.
func (s *Store) Start(ctx context.Context, sessionID, kind string, fn func(context.Context) (any, error)) Job {
	job, handle := s.Create(sessionID, kind)
	logger := logging.WithContext(ctx, s.logger).With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String("kind", kind),
	)
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		started := s.now()
		result, err := fn(detached)
		if err != nil {
			handle.Fail(err)
			logging.WarnWithContext(logger, "job failed", "job_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the client receives an error status for this job"),
				logging.String(logging.FieldErrorHint, "retry when the error is marked retryable"),
			)
			return
		}
		handle.Complete(result)
		logger.Info("job complete",
			logging.Duration("elapsed", s.now().Sub(started)),
			logging.String(logging.FieldEventType, "job_complete"),
		)
	}()
	return job
}

// Wait blocks until every job started with Start has returned.
func (s *Store) Wait() { s.wg.Wait() }

// Take returns the job. Terminal jobs are removed on the way out so their
// outcome is delivered exactly once.
func (s *Store) Take(sessionID, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.SessionID != sessionID {
		return Job{}, services.Wrap(services.ErrNotFound, "poll job", "", fmt.Sprintf("job %s not found", id), nil)
	}
	snapshot := *job
	if job.Status.Terminal() {
		delete(s.jobs, id)
	}
	return snapshot, nil
}

// Evict drops finished jobs nobody collected within the TTL and returns how
// many were removed. Processing jobs are kept however long they run; their
// own deadline ends them and the TTL starts from completion.
func (s *Store) Evict() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().UTC().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// DropSession removes every job belonging to sessionID.
func (s *Store) DropSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.SessionID == sessionID {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Counts returns the number of jobs per status.
func (s *Store) Counts() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Status]int, 3)
	for _, job := range s.jobs {
		out[job.Status]++
	}
	return out
}

func (s *Store) finish(id string, apply func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	apply(job)
	job.UpdatedAt = s.now().UTC()
	return true
}
