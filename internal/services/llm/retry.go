package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryPolicy retries 408, 429 and 5xx replies, empty answers and network
// timeouts with doubling delays. Retry-After overrides the computed delay.
type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
	sleeper  func(time.Duration)
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	attempts := max(p.attempts, 1)
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= attempts || ctx.Err() != nil {
			break
		}
		delay, ok := p.delay(err, attempt)
		if !ok {
			return err
		}
		if serr := p.wait(ctx, delay); serr != nil {
			return serr
		}
	}
	if attempts > 1 {
		return fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}
	return err
}

func (p retryPolicy) delay(err error, attempt int) (time.Duration, bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var empty *EmptyContentError
	if errors.As(err, &empty) {
		return p.backoff(attempt), true
	}
	var status *StatusError
	if errors.As(err, &status) {
		if status.StatusCode != http.StatusRequestTimeout &&
			status.StatusCode != http.StatusTooManyRequests &&
			status.StatusCode < http.StatusInternalServerError {
			return 0, false
		}
		if status.RetryAfter > 0 {
			return p.clamp(status.RetryAfter), true
		}
		return p.backoff(attempt), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return p.backoff(attempt), true
	}
	return 0, false
}

// backoff doubles base for each prior attempt.
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	shift := min(attempt-1, 16)
	return p.clamp(p.base << shift)
}

func (p retryPolicy) clamp(d time.Duration) time.Duration {
	if p.max > 0 && d > p.max {
		return p.max
	}
	return max(d, 0)
}

func (p retryPolicy) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if p.sleeper != nil {
		p.sleeper(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		return max(time.Until(when), 0)
	}
	return 0
}
