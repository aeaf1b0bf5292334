package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	code       int
	retryAfter time.Duration
}

func (e *statusErr) Error() string              { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) StatusCode() int            { return e.code }
func (e *statusErr) RetryAfter() time.Duration { return e.retryAfter }

func testPolicy(n int) Policy {
	return Policy{
		MaxAttempts:         n,
		InitialDelay:        100 * time.Millisecond,
		MaxDelay:            2 * time.Second,
		MinDelay:            10 * time.Millisecond,
		BackoffFactor:       2,
		JitterFactor:        0.2,
		RateLimitEscalation: 0.5,
	}
}

// newTestRetrier never sleeps and records every event.
func newTestRetrier(p Policy, randVal float64) (*Retrier, *[]Event) {
	var events []Event
	r := New("test", p,
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithRand(func() float64 { return randVal }),
		OnRetry(func(ev Event) { events = append(events, ev) }),
	)
	return r, &events
}

func TestDo_PermanentFailureInvokedMaxAttemptsPlusOne(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			r, events := newTestRetrier(testPolicy(n), 0.5)
			boom := errors.New("connection reset")
			calls := 0

			_, err := Do(context.Background(), r, func(context.Context) (int, error) {
				calls++
				return 0, boom
			})

			assert.Same(t, boom, err, "original error must be returned unwrapped")
			assert.Equal(t, n+1, calls)
			assert.Len(t, *events, n)
		})
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	r, events := newTestRetrier(testPolicy(3), 0.5)
	calls := 0

	v, err := Do(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &statusErr{code: http.StatusBadGateway}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Len(t, *events, 2)
	for _, ev := range *events {
		assert.Equal(t, ClassNetworkOrServer, ev.Class)
	}
}

func TestDo_FatalErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permanent", Permanent(errors.New("missing credential"))},
		{"bad request", &statusErr{code: http.StatusBadRequest}},
		{"not found", &statusErr{code: http.StatusNotFound}},
		{"canceled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, events := newTestRetrier(testPolicy(3), 0.5)
			calls := 0

			_, err := Do(context.Background(), r, func(context.Context) (int, error) {
				calls++
				return 0, tt.err
			})

			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, *events)
		})
	}
}

func TestDo_PermanentIsUnwrapped(t *testing.T) {
	r, _ := newTestRetrier(testPolicy(2), 0.5)
	inner := errors.New("schema mismatch")

	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		return 0, Permanent(inner)
	})

	assert.Same(t, inner, err)
}

func TestDo_RateLimitPersists(t *testing.T) {
	r, events := newTestRetrier(testPolicy(3), 0.5)
	calls := 0

	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		return 0, &statusErr{code: http.StatusTooManyRequests}
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrRateLimitPersists)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 4, rl.Attempts)

	var se *statusErr
	require.ErrorAs(t, err, &se, "last upstream error stays reachable")
	assert.Equal(t, http.StatusTooManyRequests, se.code)

	for _, ev := range *events {
		assert.Equal(t, ClassRateLimit, ev.Class)
	}
}

func TestDo_RateLimitMessageMarker(t *testing.T) {
	r, _ := newTestRetrier(testPolicy(1), 0.5)

	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		return 0, errors.New("RPC error -32005: Rate limit exceeded")
	})

	assert.ErrorIs(t, err, ErrRateLimitPersists)
}

func TestDo_ExhaustedOnGenericAfterRateLimitReturnsOriginal(t *testing.T) {
	r, _ := newTestRetrier(testPolicy(2), 0.5)
	last := errors.New("eof")
	calls := 0

	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &statusErr{code: http.StatusTooManyRequests}
		}
		return 0, last
	})

	assert.Same(t, last, err)
	assert.NotErrorIs(t, err, ErrRateLimitPersists)
}

func TestDo_RateLimitDelaysMonotonicAndBounded(t *testing.T) {
	p := testPolicy(10)

	for _, randVal := range []float64{0, 0.25, 0.5, 0.999} {
		r, events := newTestRetrier(p, randVal)

		_, _ = Do(context.Background(), r, func(context.Context) (int, error) {
			return 0, &statusErr{code: http.StatusTooManyRequests}
		})

		ceiling := time.Duration(float64(p.MaxDelay) * (1 + p.JitterFactor))
		require.Len(t, *events, 10)
		for i, ev := range *events {
			assert.LessOrEqual(t, ev.Delay, ceiling, "event %d", i)
			assert.LessOrEqual(t, ev.BaseDelay, p.MaxDelay, "event %d", i)
			if i > 0 {
				prev := (*events)[i-1]
				assert.GreaterOrEqual(t, ev.BaseDelay, prev.BaseDelay, "base delay must not decrease")
				assert.GreaterOrEqual(t, ev.Delay, prev.Delay, "with fixed jitter the slept delay must not decrease")
			}
		}
		assert.Equal(t, p.MaxDelay, (*events)[9].BaseDelay, "cap reached")
	}
}

func TestDo_RateLimitEscalatesFasterThanGeneric(t *testing.T) {
	p := testPolicy(4)
	p.MaxDelay = time.Hour

	rl, rlEvents := newTestRetrier(p, 0.5)
	_, _ = Do(context.Background(), rl, func(context.Context) (int, error) {
		return 0, &statusErr{code: http.StatusTooManyRequests}
	})

	gen, genEvents := newTestRetrier(p, 0.5)
	_, _ = Do(context.Background(), gen, func(context.Context) (int, error) {
		return 0, errors.New("timeout")
	})

	// generic: 100, 200, 400, 800ms; rate limited: 100, 250, 750, 2625ms
	assert.Equal(t, []time.Duration{100, 200, 400, 800}, millis(*genEvents))
	assert.Equal(t, []time.Duration{100, 250, 750, 2625}, millis(*rlEvents))
}

func millis(events []Event) []time.Duration {
	out := make([]time.Duration, len(events))
	for i, ev := range events {
		out[i] = ev.BaseDelay / time.Millisecond
	}
	return out
}

func TestDo_MinDelayFloor(t *testing.T) {
	p := testPolicy(1)
	p.InitialDelay = time.Millisecond
	p.MinDelay = 500 * time.Millisecond

	r, events := newTestRetrier(p, 0)
	_, _ = Do(context.Background(), r, func(context.Context) (int, error) {
		return 0, errors.New("eof")
	})

	require.Len(t, *events, 1)
	assert.Equal(t, 500*time.Millisecond, (*events)[0].Delay)
}

func TestDo_RetryAfterHintIsHonoredAndCapped(t *testing.T) {
	p := testPolicy(2)
	r, events := newTestRetrier(p, 0.5)

	calls := 0
	_, _ = Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &statusErr{code: http.StatusTooManyRequests, retryAfter: 700 * time.Millisecond}
		}
		return 0, &statusErr{code: http.StatusTooManyRequests, retryAfter: time.Hour}
	})

	require.Len(t, *events, 2)
	assert.Equal(t, 700*time.Millisecond, (*events)[0].Delay)
	assert.Equal(t, time.Duration(float64(p.MaxDelay)*1.2), (*events)[1].Delay)
}

func TestDo_ContextCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New("test", testPolicy(5))
	calls := 0

	_, err := Do(ctx, r, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("eof")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CounterResetsPerCall(t *testing.T) {
	r, events := newTestRetrier(testPolicy(2), 0.5)
	op := func(context.Context) (int, error) {
		return 0, &statusErr{code: http.StatusTooManyRequests}
	}

	_, _ = Do(context.Background(), r, op)
	first := millis(*events)
	*events = nil
	_, _ = Do(context.Background(), r, op)

	assert.Equal(t, first, millis(*events))
}

func TestRun(t *testing.T) {
	r, _ := newTestRetrier(testPolicy(2), 0.5)
	calls := 0

	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("eof")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPolicy_Validate(t *testing.T) {
	valid := testPolicy(3)
	require.NoError(t, valid.Validate())
	require.NoError(t, DefaultPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"negative attempts", func(p *Policy) { p.MaxAttempts = -1 }},
		{"jitter above one", func(p *Policy) { p.JitterFactor = 1.5 }},
		{"negative jitter", func(p *Policy) { p.JitterFactor = -0.1 }},
		{"factor one", func(p *Policy) { p.BackoffFactor = 1 }},
		{"initial above max", func(p *Policy) { p.InitialDelay = 3 * time.Second }},
		{"min above max", func(p *Policy) { p.MinDelay = 3 * time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
		})
	}
}

func TestPolicy_Merge(t *testing.T) {
	merged := DefaultPolicy().Merge(Policy{MaxAttempts: 7, MaxDelay: time.Minute})

	assert.Equal(t, 7, merged.MaxAttempts)
	assert.Equal(t, time.Minute, merged.MaxDelay)
	assert.Equal(t, DefaultInitialDelay, merged.InitialDelay)
	assert.Equal(t, DefaultBackoffFactor, merged.BackoffFactor)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{&statusErr{code: 429}, ClassRateLimit},
		{&statusErr{code: 500}, ClassNetworkOrServer},
		{&statusErr{code: 503}, ClassNetworkOrServer},
		{&statusErr{code: 408}, ClassNetworkOrServer},
		{&statusErr{code: 401}, ClassFatal},
		{fmt.Errorf("wrapped: %w", &statusErr{code: 429}), ClassRateLimit},
		{errors.New("Too Many Requests"), ClassRateLimit},
		{errors.New("dial tcp: connection refused"), ClassNetworkOrServer},
		{fmt.Errorf("op: %w", Permanent(errors.New("x"))), ClassFatal},
		{context.Canceled, ClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Class)
		})
	}
}

func TestOnce_SingleAttempt(t *testing.T) {
	calls := 0
	err := Once("once").Run(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

type shapeErr struct{ retryable bool }

func (e *shapeErr) Error() string   { return "bad shape" }
func (e *shapeErr) Retryable() bool { return e.retryable }

func TestClassify_Retryabler(t *testing.T) {
	assert.Equal(t, ClassFatal, Classify(&shapeErr{}).Class)
	assert.Equal(t, ClassFatal, Classify(fmt.Errorf("decode: %w", &shapeErr{})).Class)
	assert.Equal(t, ClassNetworkOrServer, Classify(&shapeErr{retryable: true}).Class)
}

func TestClassify_DigitsAreNotRateLimits(t *testing.T) {
	for _, msg := range []string{
		"slot 314290 was skipped",
		"account 7xKX429pQ not found",
		"read response: unexpected EOF after 4290 bytes",
	} {
		assert.Equal(t, ClassNetworkOrServer, Classify(errors.New(msg)).Class, msg)
	}
}

func TestDo_NestedRetriersKeepFatalErrors(t *testing.T) {
	inner := Once("inner")
	outer, events := newTestRetrier(testPolicy(3), 0.5)
	calls := 0

	_, err := Do(context.Background(), outer, func(ctx context.Context) (int, error) {
		return Do(ctx, inner, func(context.Context) (int, error) {
			calls++
			return 0, &shapeErr{}
		})
	})

	var se *shapeErr
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *events)
}

func TestPolicy_ApplyKeepsExplicitZeros(t *testing.T) {
	zero, none := 0, 0.0
	p := DefaultPolicy().Apply(Override{MaxAttempts: &zero, JitterFactor: &none})

	assert.Equal(t, 0, p.MaxAttempts)
	assert.Equal(t, 0.0, p.JitterFactor)
	assert.Equal(t, DefaultInitialDelay, p.InitialDelay)
	require.NoError(t, p.Validate())

	calls := 0
	err := FromPolicy("exact", p, WithSleep(func(context.Context, time.Duration) error { return nil })).
		Run(context.Background(), func(context.Context) error {
			calls++
			return errors.New("connection reset")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	assert.Equal(t, DefaultMaxAttempts, New("merged", p).Policy().MaxAttempts, "New treats zero as unset")
}
