package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Class is the retry classification of a failed attempt.
type Class int

const (
	ClassNetworkOrServer Class = iota
	ClassRateLimit
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassFatal:
		return "fatal"
	default:
		return "network_or_server"
	}
}

// Outcome is the classified result of one failed attempt.
type Outcome struct {
	Class          Class
	SuggestedDelay time.Duration
	Err            error
}

// Transient reports whether the attempt may be retried.
func (o Outcome) Transient() bool {
	return o.Class != ClassFatal
}

// Classifier maps an attempt error to an Outcome.
type Classifier func(err error) Outcome

// StatusCoder is implemented by errors carrying an HTTP-style status.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer is implemented by errors carrying an upstream wait hint.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Retryabler is implemented by errors that know whether another attempt
// can help. Unlike Permanent, the answer survives nested Do calls.
type Retryabler interface {
	Retryable() bool
}

var rateLimitMarkers = []string{"rate limit", "ratelimit", "rate-limit", "too many requests"}

// Classify is the default Classifier.
func Classify(err error) Outcome {
	out := Outcome{Class: ClassNetworkOrServer, Err: err}

	var ra RetryAfterer
	if errors.As(err, &ra) {
		out.SuggestedDelay = ra.RetryAfter()
	}

	var perm *permanentError
	if errors.As(err, &perm) || errors.Is(err, context.Canceled) {
		out.Class = ClassFatal
		return out
	}

	var rt Retryabler
	if errors.As(err, &rt) && !rt.Retryable() {
		out.Class = ClassFatal
		return out
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		switch {
		case code == http.StatusTooManyRequests:
			out.Class = ClassRateLimit
			return out
		case code == http.StatusRequestTimeout || code >= 500:
			return out
		case code >= 400:
			out.Class = ClassFatal
			return out
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			out.Class = ClassRateLimit
			return out
		}
	}
	return out
}

type permanentError struct {
	err error
}

// Permanent marks err as not retryable. Do returns the wrapped error as-is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func unwrapPermanent(err error) error {
	var perm *permanentError
	if errors.As(err, &perm) && err == error(perm) {
		return perm.err
	}
	return err
}

// ErrRateLimitPersists matches a RateLimitError via errors.Is.
var ErrRateLimitPersists = errors.New("rate limit persists")

// RateLimitError is returned when every attempt ended rate limited.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit persists after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() []error {
	return []error{ErrRateLimitPersists, e.Err}
}
