package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// RetryPolicy configures retry of transient completion failures.
type RetryPolicy struct {
	MaxRetries     int
	InitialDelayMS int
	BackoffFactor  float64
	MaxDelayMS     int
	Jitter         bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialDelayMS: 200,
		BackoffFactor:  2.0,
		MaxDelayMS:     60_000,
		Jitter:         true,
	}
}

// DelayForAttempt computes the backoff delay for a 1-indexed retry attempt.
// Jitter is deterministic per seed so tests and replays are stable.
func DelayForAttempt(attempt int, p RetryPolicy, jitterSeed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.InitialDelayMS <= 0 {
		return 0
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1.0
	}

	// base = initial * factor^(attempt-1), capped before jitter.
	baseMS := float64(p.InitialDelayMS) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelayMS > 0 {
		baseMS = math.Min(baseMS, float64(p.MaxDelayMS))
	}
	if p.Jitter {
		m := 0.5 + jitterUnit(jitterSeed) // [0.5, 1.5]
		baseMS *= m
	}
	if baseMS < 0 {
		baseMS = 0
	}
	return time.Duration(baseMS * float64(time.Millisecond))
}

func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	const max = float64(^uint64(0))
	return float64(u) / max
}

// Retry runs fn until it succeeds, returns a non-retryable error, or exhausts
// the policy. A server-supplied Retry-After overrides the computed backoff.
func Retry(ctx context.Context, p RetryPolicy, seed string, fn func(ctx context.Context) (Response, error)) (Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt >= p.MaxRetries {
			return Response{}, err
		}

		delay := DelayForAttempt(attempt+1, p, fmt.Sprintf("%s:%d", seed, attempt+1))
		var le Error
		if asLLMError(err, &le) {
			if ra := le.RetryAfter(); ra != nil && *ra > 0 {
				delay = *ra
			}
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return Response{}, lastErr
		}
	}
}

func asLLMError(err error, target *Error) bool {
	for err != nil {
		if le, ok := err.(Error); ok {
			*target = le
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
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
