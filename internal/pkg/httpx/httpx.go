package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// RetryAfterer is implemented by errors that carry a server-supplied Retry-After delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// IsRetryableHTTPStatus reports whether an HTTP status is worth retrying: 429 and 5xx only.
func IsRetryableHTTPStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// IsRetryableError treats transport failures and retryable HTTP statuses as transient.
// Cancellation of the caller's context is never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryAfterDuration parses a Retry-After header given in seconds or as an HTTP date.
// It returns 0 when the header is absent or unparseable.
func RetryAfterDuration(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(ra); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// JitterSleep spreads base by +/-20%.
func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// TruncateBody clips a response body for inclusion in error messages.
func TruncateBody(raw []byte, max int) string {
	if max <= 0 || len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
