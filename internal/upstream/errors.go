package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrStructural marks an upstream response whose shape did not match the
// expected schema. Structural errors are never retried.
var ErrStructural = errors.New("unexpected upstream response shape")

// StructuralError is an upstream response that failed schema validation.
// It matches ErrStructural and is never retried, however many retry layers
// it passes through.
type StructuralError struct {
	Upstream string
	Detail   string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Upstream, ErrStructural, e.Detail)
}

func (e *StructuralError) Is(target error) bool { return target == ErrStructural }

// Retryable implements retry.Retryabler.
func (e *StructuralError) Retryable() bool { return false }

// Structural returns a *StructuralError.
func Structural(upstream, format string, args ...any) error {
	return &StructuralError{Upstream: upstream, Detail: fmt.Sprintf(format, args...)}
}

// ErrMissingCredential is returned by adapters that require an API key.
var ErrMissingCredential = errors.New("missing credential")

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Upstream string
	Status   int
	Body     string
	Wait     time.Duration
}

// NewHTTPError builds an HTTPError from a response and its (already read) body.
func NewHTTPError(upstream string, resp *http.Response, body []byte) *HTTPError {
	e := &HTTPError{
		Upstream: upstream,
		Status:   resp.StatusCode,
		Body:     truncate(strings.TrimSpace(string(body)), 256),
	}
	e.Wait = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return e
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Upstream, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Upstream, e.Status, e.Body)
}

// StatusCode implements retry.StatusCoder.
func (e *HTTPError) StatusCode() int { return e.Status }

// RetryAfter implements retry.RetryAfterer.
func (e *HTTPError) RetryAfter() time.Duration { return e.Wait }

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
