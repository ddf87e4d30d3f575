package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqueductlabs/aqueduct/provider"
)

func transientErr() *NormalizedError {
	return &NormalizedError{Kind: KindServer, Cause: errors.New("upstream 502")}
}

func cfg(mod ...func(*BackoffConfig)) BackoffConfig {
	c := BackoffConfig{
		Strategy:    StrategyExponential,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
	}
	for _, m := range mod {
		m(&c)
	}
	return c
}

func TestDecide_AttemptLimit(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		kind    Kind
	}{
		{name: "at limit transient", attempt: 5, kind: KindServer},
		{name: "past limit transient", attempt: 9, kind: KindTimeout},
		{name: "at limit terminal", attempt: 5, kind: KindAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(&NormalizedError{Kind: tt.kind}, tt.attempt, cfg(), "")

			assert.False(t, d.Retry)
			assert.Contains(t, d.Reason, "limit")
		})
	}
}

func TestDecide_TerminalKindsNeverRetried(t *testing.T) {
	for _, kind := range []Kind{KindValidation, KindAuth, KindUnknown} {
		t.Run(string(kind), func(t *testing.T) {
			d := Decide(&NormalizedError{Kind: kind}, 1, cfg(), "")

			assert.False(t, d.Retry)
			assert.Contains(t, d.Reason, "not retryable")
		})
	}
}

func TestDecide_TransientKindsRetried(t *testing.T) {
	for _, kind := range []Kind{KindTimeout, KindRateLimit, KindServer, KindNetwork} {
		t.Run(string(kind), func(t *testing.T) {
			d := Decide(&NormalizedError{Kind: kind}, 1, cfg(), "")

			assert.True(t, d.Retry)
		})
	}
}

func TestDecide_RetryAfterSecondsOverridesBackoff(t *testing.T) {
	d := Decide(transientErr(), 1, cfg(), "7")

	require.True(t, d.Retry)
	assert.Equal(t, 7*time.Second, d.Delay)
	assert.Contains(t, d.Reason, "retry-after")
}

func TestDecide_RetryAfterHTTPDate(t *testing.T) {
	at := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)

	d := Decide(transientErr(), 1, cfg(), at)

	require.True(t, d.Retry)
	assert.Greater(t, d.Delay, time.Second)
	assert.LessOrEqual(t, d.Delay, 3*time.Second)
}

func TestDecide_MalformedRetryAfterIgnored(t *testing.T) {
	d := Decide(transientErr(), 1, cfg(), "soon")

	require.True(t, d.Retry)
	assert.Equal(t, 100*time.Millisecond, d.Delay, "falls back to computed backoff")
}

func TestDecide_ExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
	}

	for _, tt := range tests {
		d := Decide(transientErr(), tt.attempt, cfg(), "")
		require.True(t, d.Retry)
		assert.Equal(t, tt.want, d.Delay, "attempt %d", tt.attempt)
	}
}

func TestDecide_LinearBackoff(t *testing.T) {
	linear := cfg(func(c *BackoffConfig) { c.Strategy = StrategyLinear })

	for attempt := 1; attempt <= 4; attempt++ {
		d := Decide(transientErr(), attempt, linear, "")
		require.True(t, d.Retry)
		assert.Equal(t, time.Duration(attempt)*100*time.Millisecond, d.Delay)
	}
}

func TestDecide_DelayCappedAtMax(t *testing.T) {
	c := cfg(func(c *BackoffConfig) { c.MaxAttempts = 100 })

	d := Decide(transientErr(), 50, c, "")

	require.True(t, d.Retry)
	assert.Equal(t, time.Second, d.Delay)
}

func TestDecide_JitterWithinBounds(t *testing.T) {
	c := cfg(func(c *BackoffConfig) { c.Jitter = true })

	for i := 0; i < 200; i++ {
		d := Decide(transientErr(), 2, c, "")
		require.True(t, d.Retry)
		// Unjittered value is 200ms; jitter scales by [0.5, 1.5).
		assert.GreaterOrEqual(t, d.Delay, 100*time.Millisecond)
		assert.Less(t, d.Delay, 300*time.Millisecond)
	}
}

func TestWait_ReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Wait(ctx, 5*time.Second)

	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "aborted wait must not block out its full delay")
}

func TestWait_CompletesWithoutCancel(t *testing.T) {
	err := Wait(context.Background(), time.Millisecond)
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "rate limited",
			err:  &provider.APIError{StatusCode: 429},
			want: KindRateLimit,
		},
		{
			name: "server error",
			err:  &provider.APIError{StatusCode: 502},
			want: KindServer,
		},
		{
			name: "unauthorized",
			err:  &provider.APIError{StatusCode: 401},
			want: KindAuth,
		},
		{
			name: "bad request",
			err:  &provider.APIError{StatusCode: 400},
			want: KindValidation,
		},
		{
			name: "request timeout status",
			err:  &provider.APIError{StatusCode: 408},
			want: KindTimeout,
		},
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			want: KindTimeout,
		},
		{
			name: "plain error",
			err:  errors.New("mystery"),
			want: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestKind_Transient(t *testing.T) {
	assert.True(t, KindTimeout.Transient())
	assert.True(t, KindRateLimit.Transient())
	assert.True(t, KindServer.Transient())
	assert.True(t, KindNetwork.Transient())
	assert.False(t, KindValidation.Transient())
	assert.False(t, KindAuth.Transient())
	assert.False(t, KindUnknown.Transient())
}
