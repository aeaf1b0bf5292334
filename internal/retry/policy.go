// Package retry runs operations against rate-limited, partially unreliable
// upstreams with exponential backoff, jitter and rate-limit escalation.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts         = 3
	DefaultInitialDelay        = 1 * time.Second
	DefaultMaxDelay            = 30 * time.Second
	DefaultMinDelay            = 1 * time.Second
	DefaultBackoffFactor       = 2.0
	DefaultJitterFactor        = 0.1
	DefaultRateLimitEscalation = 0.5
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy controls a single Do call. MaxAttempts counts retries, so an
// operation runs at most MaxAttempts+1 times.
type Policy struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	InitialDelay        time.Duration `yaml:"initial_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	MinDelay            time.Duration `yaml:"min_delay"`
	BackoffFactor       float64       `yaml:"backoff_factor"`
	JitterFactor        float64       `yaml:"jitter_factor"`
	RateLimitEscalation float64       `yaml:"rate_limit_escalation"`
}

// DefaultPolicy returns the policy used when an adapter has no override.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         DefaultMaxAttempts,
		InitialDelay:        DefaultInitialDelay,
		MaxDelay:            DefaultMaxDelay,
		MinDelay:            DefaultMinDelay,
		BackoffFactor:       DefaultBackoffFactor,
		JitterFactor:        DefaultJitterFactor,
		RateLimitEscalation: DefaultRateLimitEscalation,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 0:
		return fmt.Errorf("%w: max_attempts %d < 0", ErrInvalidPolicy, p.MaxAttempts)
	case p.JitterFactor < 0 || p.JitterFactor > 1:
		return fmt.Errorf("%w: jitter_factor %.2f outside [0,1]", ErrInvalidPolicy, p.JitterFactor)
	case p.BackoffFactor <= 1:
		return fmt.Errorf("%w: backoff_factor %.2f must be > 1", ErrInvalidPolicy, p.BackoffFactor)
	case p.InitialDelay > p.MaxDelay:
		return fmt.Errorf("%w: initial_delay %s > max_delay %s", ErrInvalidPolicy, p.InitialDelay, p.MaxDelay)
	case p.MinDelay > p.MaxDelay:
		return fmt.Errorf("%w: min_delay %s > max_delay %s", ErrInvalidPolicy, p.MinDelay, p.MaxDelay)
	case p.RateLimitEscalation < 0:
		return fmt.Errorf("%w: rate_limit_escalation %.2f < 0", ErrInvalidPolicy, p.RateLimitEscalation)
	}
	return nil
}

// Merge overlays the non-zero fields of o onto p. Use Apply when a zero
// value must be kept.
func (p Policy) Merge(o Policy) Policy {
	if o.MaxAttempts != 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if o.InitialDelay != 0 {
		p.InitialDelay = o.InitialDelay
	}
	if o.MaxDelay != 0 {
		p.MaxDelay = o.MaxDelay
	}
	if o.MinDelay != 0 {
		p.MinDelay = o.MinDelay
	}
	if o.BackoffFactor != 0 {
		p.BackoffFactor = o.BackoffFactor
	}
	if o.JitterFactor != 0 {
		p.JitterFactor = o.JitterFactor
	}
	if o.RateLimitEscalation != 0 {
		p.RateLimitEscalation = o.RateLimitEscalation
	}
	return p
}

// Override is a partial Policy as read from configuration. Nil fields are
// unset, so explicit zeros such as max_attempts: 0 survive.
type Override struct {
	MaxAttempts         *int           `yaml:"max_attempts"`
	InitialDelay        *time.Duration `yaml:"initial_delay"`
	MaxDelay            *time.Duration `yaml:"max_delay"`
	MinDelay            *time.Duration `yaml:"min_delay"`
	BackoffFactor       *float64       `yaml:"backoff_factor"`
	JitterFactor        *float64       `yaml:"jitter_factor"`
	RateLimitEscalation *float64       `yaml:"rate_limit_escalation"`
}

// Apply overlays the set fields of o onto p.
func (p Policy) Apply(o Override) Policy {
	if o.MaxAttempts != nil {
		p.MaxAttempts = *o.MaxAttempts
	}
	if o.InitialDelay != nil {
		p.InitialDelay = *o.InitialDelay
	}
	if o.MaxDelay != nil {
		p.MaxDelay = *o.MaxDelay
	}
	if o.MinDelay != nil {
		p.MinDelay = *o.MinDelay
	}
	if o.BackoffFactor != nil {
		p.BackoffFactor = *o.BackoffFactor
	}
	if o.JitterFactor != nil {
		p.JitterFactor = *o.JitterFactor
	}
	if o.RateLimitEscalation != nil {
		p.RateLimitEscalation = *o.RateLimitEscalation
	}
	return p
}

// nextDelay grows delay by factor, capped at limit.
func nextDelay(delay time.Duration, factor float64, limit time.Duration) time.Duration {
	next := float64(delay) * factor
	if next >= float64(limit) || next != next {
		return limit
	}
	return time.Duration(next)
}
