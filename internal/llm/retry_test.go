package llm

import (
	"context"
	"testing"
	"time"
)

func TestDelayForAttempt_NoJitter_ExponentialAndCapped(t *testing.T) {
	p := RetryPolicy{InitialDelayMS: 50, BackoffFactor: 10.0, MaxDelayMS: 200, Jitter: false}
	if got := DelayForAttempt(1, p, "seed"); got != 50*time.Millisecond {
		t.Fatalf("attempt 1: got %v want %v", got, 50*time.Millisecond)
	}
	// 50 * 10 = 500ms but capped at 200ms.
	if got := DelayForAttempt(2, p, "seed"); got != 200*time.Millisecond {
		t.Fatalf("attempt 2: got %v want %v", got, 200*time.Millisecond)
	}
	if got := DelayForAttempt(3, p, "seed"); got != 200*time.Millisecond {
		t.Fatalf("attempt 3: got %v want %v", got, 200*time.Millisecond)
	}
}

func TestDelayForAttempt_Jitter_DeterministicPerSeed(t *testing.T) {
	p := RetryPolicy{InitialDelayMS: 100, BackoffFactor: 1.0, MaxDelayMS: 1000, Jitter: true}
	d1 := DelayForAttempt(1, p, "seed-a")
	if d1 != DelayForAttempt(1, p, "seed-a") {
		t.Fatalf("same seed must give same delay")
	}
	min, max := 50*time.Millisecond, 150*time.Millisecond
	if d1 < min || d1 > max {
		t.Fatalf("delay out of jitter range: %v", d1)
	}
	if d2 := DelayForAttempt(1, p, "seed-b"); d2 == d1 {
		t.Fatalf("different seeds should jitter differently")
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 5, InitialDelayMS: 1}, "s",
		func(ctx context.Context) (Response, error) {
			calls++
			return Response{}, ErrorFromHTTPStatus("p", 401, "nope", nil, nil)
		})
	if err == nil || calls != 1 {
		t.Fatalf("expected single call and error, got calls=%d err=%v", calls, err)
	}
}

func TestRetry_RecoversAfterTransient(t *testing.T) {
	calls := 0
	resp, err := Retry(context.Background(), RetryPolicy{MaxRetries: 3, InitialDelayMS: 1, BackoffFactor: 1}, "s",
		func(ctx context.Context) (Response, error) {
			calls++
			if calls < 3 {
				return Response{}, ErrorFromHTTPStatus("p", 503, "busy", nil, nil)
			}
			return Response{Message: Assistant("ok")}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 || resp.Message.Content != "ok" {
		t.Fatalf("calls=%d resp=%+v", calls, resp)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 2, InitialDelayMS: 1, BackoffFactor: 1}, "s",
		func(ctx context.Context) (Response, error) {
			calls++
			return Response{}, ErrorFromHTTPStatus("p", 500, "down", nil, nil)
		})
	if err == nil {
		t.Fatalf("expected error after exhaustion")
	}
	if calls != 3 { // initial + 2 retries
		t.Fatalf("calls=%d want 3", calls)
	}
}
