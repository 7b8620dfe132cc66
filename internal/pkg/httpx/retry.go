package httpx

import (
	"context"
	"errors"
	"time"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy is a retry policy applied to a single network call.
// Delay for attempt n (0-based) is BaseDelay*2^n plus jitter, capped at MaxDelay.
// A RetryAfterer error overrides the computed delay, still capped at MaxDelay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Retryable  func(error) bool
	Jitter     func(time.Duration) time.Duration
	Sleep      SleepFunc
	OnRetry    func(attempt int, delay time.Duration, err error)
}

// NoRetry runs the call exactly once.
var NoRetry = Policy{MaxRetries: 0}

// DefaultPolicy returns the policy used for model calls.
func DefaultPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Retryable:  IsRetryableError,
		Jitter:     JitterSleep,
		Sleep:      ContextSleep,
	}
}

// Do invokes call until it succeeds, returns a non-retryable error, or retries are exhausted.
// The returned error is the last error from call.
func (p Policy) Do(ctx context.Context, call func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}

	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = call(ctx)
		if err == nil {
			return nil
		}
		if attempt == p.MaxRetries || !retryable(err) {
			return err
		}
		delay := p.Delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

// Delay computes the wait before the retry that follows attempt.
func (p Policy) Delay(attempt int, err error) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			return p.cap(d)
		}
	}
	d := p.BaseDelay
	for i := 0; i < attempt && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.Jitter != nil {
		d = p.Jitter(d)
	}
	return p.cap(d)
}

func (p Policy) cap(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
