// Package retry decides whether and when a failed provider call should be
// attempted again. Decisions are pure values computed fresh per attempt; the
// context-aware wait lives in Wait.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Strategy selects the backoff curve.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
)

// BackoffConfig is supplied by the caller and never mutated.
type BackoffConfig struct {
	Strategy    Strategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64 // exponential only; defaults to 2
	Jitter      bool
	MaxAttempts int // includes the initial attempt
}

// DefaultBackoffConfig mirrors the defaults used by the client dispatch loop.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Strategy:    StrategyExponential,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
		Jitter:      true,
		MaxAttempts: 3,
	}
}

// Decision is the outcome for one failed attempt.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// Decide maps a normalized error, the 1-based attempt number and the backoff
// configuration to a retry decision. A provider-supplied retry-after value
// (seconds or an HTTP date) overrides the computed backoff verbatim.
func Decide(nerr *NormalizedError, attempt int, cfg BackoffConfig, retryAfter string) Decision {
	if attempt >= cfg.MaxAttempts {
		return Decision{
			Retry:  false,
			Reason: fmt.Sprintf("attempt %d reached the limit of %d", attempt, cfg.MaxAttempts),
		}
	}

	if nerr == nil || !nerr.Kind.Transient() {
		kind := KindUnknown
		if nerr != nil {
			kind = nerr.Kind
		}
		return Decision{
			Retry:  false,
			Reason: fmt.Sprintf("%s errors are not retryable", kind),
		}
	}

	if d, ok := parseRetryAfter(retryAfter, time.Now()); ok {
		return Decision{
			Retry:  true,
			Delay:  d,
			Reason: "provider supplied retry-after",
		}
	}

	return Decision{
		Retry:  true,
		Delay:  backoff(attempt, cfg),
		Reason: fmt.Sprintf("%s backoff for attempt %d", strategyOf(cfg), attempt),
	}
}

func strategyOf(cfg BackoffConfig) Strategy {
	if cfg.Strategy == StrategyLinear {
		return StrategyLinear
	}
	return StrategyExponential
}

// backoff computes the delay. The curve is capped at MaxDelay first;
// jitter applies after the cap.
func backoff(attempt int, cfg BackoffConfig) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := cfg.MaxDelay
	if max <= 0 {
		max = 10 * time.Second
	}

	var d time.Duration
	switch strategyOf(cfg) {
	case StrategyLinear:
		d = base * time.Duration(attempt)
	default:
		mult := cfg.Multiplier
		if mult <= 1 {
			mult = 2
		}
		d = base
		for i := 1; i < attempt; i++ {
			if d >= max {
				break
			}
			d = time.Duration(float64(d) * mult)
		}
	}
	if d > max {
		d = max
	}

	if cfg.Jitter {
		// Uniform factor in [0.5, 1.5).
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	return d
}

// parseRetryAfter accepts delay-seconds or an HTTP date, per the
// Retry-After response header.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// Wait sleeps for the decided delay, returning early with the context's
// error when the composed cancellation signal fires.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
