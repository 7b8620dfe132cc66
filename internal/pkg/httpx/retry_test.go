package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct {
	code       int
	retryAfter time.Duration
}

func (e *statusErr) Error() string             { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int       { return e.code }
func (e *statusErr) RetryAfter() time.Duration { return e.retryAfter }

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testPolicy(maxRetries int, rec *recordedSleep) Policy {
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
		Retryable:  IsRetryableError,
		Sleep:      rec.sleep,
	}
}

func TestPolicyRetriesRetryableStatusesWithBackoff(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	err := testPolicy(5, rec).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 5 {
			return &statusErr{code: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 5 {
		t.Fatalf("calls: want=5 got=%d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays: want=%v got=%v", want, rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Fatalf("delay[%d]: want=%s got=%s", i, want[i], rec.delays[i])
		}
	}
}

func TestPolicyCapsDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 8 * time.Second}
	if got := p.Delay(10, errors.New("x")); got != 8*time.Second {
		t.Fatalf("Delay: want=8s got=%s", got)
	}
}

func TestPolicyHonorsRetryAfterCapped(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	_ = testPolicy(2, rec).Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &statusErr{code: http.StatusTooManyRequests, retryAfter: 3 * time.Second}
		}
		if calls == 2 {
			return &statusErr{code: http.StatusTooManyRequests, retryAfter: time.Minute}
		}
		return nil
	})
	if len(rec.delays) != 2 {
		t.Fatalf("delays: got=%v", rec.delays)
	}
	if rec.delays[0] != 3*time.Second {
		t.Fatalf("delay[0]: want=3s got=%s", rec.delays[0])
	}
	if rec.delays[1] != 8*time.Second {
		t.Fatalf("delay[1]: want=8s got=%s", rec.delays[1])
	}
}

func TestPolicyStopsOnNonRetryable(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	err := testPolicy(4, rec).Do(context.Background(), func(context.Context) error {
		calls++
		return &statusErr{code: http.StatusBadRequest}
	})
	var se *statusErr
	if !errors.As(err, &se) || se.code != http.StatusBadRequest {
		t.Fatalf("err: got=%v", err)
	}
	if calls != 1 || len(rec.delays) != 0 {
		t.Fatalf("calls=%d delays=%v", calls, rec.delays)
	}
}

func TestPolicyExhaustsRetries(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	err := testPolicy(2, rec).Do(context.Background(), func(context.Context) error {
		calls++
		return &statusErr{code: http.StatusBadGateway}
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &statusErr{code: 429}, true},
		{"500", &statusErr{code: 500}, true},
		{"404", &statusErr{code: 404}, false},
		{"408", &statusErr{code: 408}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped 503", fmt.Errorf("call: %w", &statusErr{code: 503}), true},
		{"plain", errors.New("decode"), false},
	}
	for _, tc := range cases {
		if got := IsRetryableError(tc.err); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
}

func TestRetryAfterDuration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("Retry-After", "4")
	if got := RetryAfterDuration(h, now); got != 4*time.Second {
		t.Fatalf("seconds: want=4s got=%s", got)
	}
	h.Set("Retry-After", now.Add(6*time.Second).Format(http.TimeFormat))
	if got := RetryAfterDuration(h, now); got != 6*time.Second {
		t.Fatalf("date: want=6s got=%s", got)
	}
	h.Set("Retry-After", "soon")
	if got := RetryAfterDuration(h, now); got != 0 {
		t.Fatalf("garbage: want=0 got=%s", got)
	}
}
