package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/observability"
)

// Event describes one scheduled retry.
type Event struct {
	Operation string
	Attempt   int // 1-based retry number
	Class     Class
	BaseDelay time.Duration // delay before jitter and floor
	Delay     time.Duration // delay actually slept
	Err       error
}

// Retrier retries operations under a Policy.
type Retrier struct {
	name     string
	policy   Policy
	classify Classifier
	sleep    func(ctx context.Context, d time.Duration) error
	rand     func() float64
	logger   *zerolog.Logger
	onRetry  func(Event)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithClassifier replaces the default error classifier.
func WithClassifier(c Classifier) Option {
	return func(r *Retrier) {
		r.classify = c
	}
}

// WithSleep replaces the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

// WithRand replaces the jitter source. f must return values in [0,1).
func WithRand(f func() float64) Option {
	return func(r *Retrier) {
		r.rand = f
	}
}

// WithLogger sets the logger used for retry notifications.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Retrier) {
		r.logger = &l
	}
}

// OnRetry registers a hook called before every retry sleep.
func OnRetry(f func(Event)) Option {
	return func(r *Retrier) {
		r.onRetry = f
	}
}

// New creates a Retrier for the named operation. Zero policy fields fall
// back to DefaultPolicy.
func New(name string, policy Policy, opts ...Option) *Retrier {
	r := &Retrier{
		name:     name,
		policy:   DefaultPolicy().Merge(policy),
		classify: Classify,
		sleep:    sleepContext,
		rand:     rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromPolicy creates a Retrier that uses policy exactly as given, zero
// fields included. policy is usually DefaultPolicy().Apply(...).
func FromPolicy(name string, policy Policy, opts ...Option) *Retrier {
	r := New(name, Policy{}, opts...)
	r.policy = policy
	return r
}

// Once returns a Retrier that makes a single attempt. It is used where an
// outer layer already owns the retry budget.
func Once(name string, opts ...Option) *Retrier {
	r := New(name, Policy{}, opts...)
	r.policy.MaxAttempts = 0
	return r
}

// Name returns the operation name used in logs and metrics.
func (r *Retrier) Name() string { return r.name }

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Named returns a copy of r reporting under a different operation name.
func (r *Retrier) Named(name string) *Retrier {
	c := *r
	c.name = name
	return &c
}

// Run is Do for operations without a value.
func (r *Retrier) Run(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do invokes op until it succeeds, fails fatally, or MaxAttempts retries
// are spent. Exhaustion returns the last error unchanged, or a
// *RateLimitError when the last failure was a rate limit.
func Do[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil {
		r = New("default", Policy{})
	}
	p := r.policy

	delay := p.InitialDelay
	consecutiveRateLimits := 0
	var last Outcome

	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		last = r.classify(err)
		if last.Class == ClassFatal {
			return zero, unwrapPermanent(err)
		}
		if last.Class == ClassRateLimit {
			consecutiveRateLimits++
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := r.jitter(delay)
		if last.SuggestedDelay > wait {
			wait = min(last.SuggestedDelay, r.ceiling())
		}

		r.notify(Event{
			Operation: r.name,
			Attempt:   attempt + 1,
			Class:     last.Class,
			BaseDelay: delay,
			Delay:     wait,
			Err:       err,
		})

		if err := r.sleep(ctx, wait); err != nil {
			return zero, err
		}

		factor := p.BackoffFactor
		if last.Class == ClassRateLimit {
			factor += p.RateLimitEscalation * float64(consecutiveRateLimits)
		}
		delay = nextDelay(delay, factor, p.MaxDelay)
	}

	observability.RecordRetryExhausted(r.name, last.Class.String())
	if last.Class == ClassRateLimit {
		return zero, &RateLimitError{Attempts: p.MaxAttempts + 1, Err: last.Err}
	}
	return zero, last.Err
}

// jitter applies symmetric jitter and the MinDelay floor.
func (r *Retrier) jitter(delay time.Duration) time.Duration {
	p := r.policy
	f := r.rand()
	if f < 0 || f > 1 || f != f {
		f = 0.5
	}
	offset := p.JitterFactor * float64(delay) * (2*f - 1)
	d := time.Duration(float64(delay) + offset)
	if d < p.MinDelay {
		d = p.MinDelay
	}
	return d
}

// ceiling is the largest delay Do will ever sleep.
func (r *Retrier) ceiling() time.Duration {
	return time.Duration(float64(r.policy.MaxDelay) * (1 + r.policy.JitterFactor))
}

func (r *Retrier) notify(ev Event) {
	logger := r.logger
	if logger == nil {
		logger = &log.Logger
	}
	logger.Warn().
		Str("operation", ev.Operation).
		Int("attempt", ev.Attempt).
		Dur("delay", ev.Delay).
		Str("class", ev.Class.String()).
		Err(ev.Err).
		Msg("retrying")

	observability.RecordRetry(ev.Operation, ev.Class.String())
	if r.onRetry != nil {
		r.onRetry(ev)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
