package llm

import (
	"errors"
	"testing"
	"time"
)

func TestErrorFromHTTPStatus_Classification(t *testing.T) {
	cases := []struct {
		status    int
		message   string
		retryable bool
		check     func(error) bool
	}{
		{400, "bad request", false, func(err error) bool { var e *InvalidRequestError; return errors.As(err, &e) }},
		{400, "context length exceeded", false, func(err error) bool { var e *ContextLengthError; return errors.As(err, &e) }},
		{422, "content filter triggered", false, func(err error) bool { var e *ContentFilterError; return errors.As(err, &e) }},
		{400, "quota exceeded for org", false, func(err error) bool { var e *QuotaExceededError; return errors.As(err, &e) }},
		{401, "", false, func(err error) bool { return IsAuthenticationError(err) }},
		{403, "", false, func(err error) bool { var e *AccessDeniedError; return errors.As(err, &e) }},
		{404, "", false, func(err error) bool { var e *NotFoundError; return errors.As(err, &e) }},
		{408, "", true, func(err error) bool { var e *RequestTimeoutError; return errors.As(err, &e) }},
		{429, "", true, func(err error) bool { var e *RateLimitError; return errors.As(err, &e) }},
		{503, "", true, func(err error) bool { var e *ServerError; return errors.As(err, &e) }},
		{599, "", true, func(err error) bool { var e *UnknownHTTPError; return errors.As(err, &e) }},
	}
	for _, tc := range cases {
		err := ErrorFromHTTPStatus("prov", tc.status, tc.message, nil, nil)
		if !tc.check(err) {
			t.Fatalf("status %d %q: wrong type: %v", tc.status, tc.message, err)
		}
		if IsRetryable(err) != tc.retryable {
			t.Fatalf("status %d: retryable=%v want %v", tc.status, IsRetryable(err), tc.retryable)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if d := ParseRetryAfter("30", now); d == nil || *d != 30*time.Second {
		t.Fatalf("seconds form: got %v", d)
	}
	if d := ParseRetryAfter("Sun, 01 Jun 2025 12:00:10 GMT", now); d == nil || *d != 10*time.Second {
		t.Fatalf("http-date form: got %v", d)
	}
	if d := ParseRetryAfter("", now); d != nil {
		t.Fatalf("empty: got %v", d)
	}
	if d := ParseRetryAfter("garbage", now); d != nil {
		t.Fatalf("garbage: got %v", d)
	}
	// Past dates clamp to zero.
	if d := ParseRetryAfter("Sun, 01 Jun 2025 11:59:00 GMT", now); d == nil || *d != 0 {
		t.Fatalf("past date: got %v", d)
	}
}

func TestWrapContextError_Transport(t *testing.T) {
	err := WrapContextError("prov", errors.New("connection refused"))
	if !IsRetryable(err) {
		t.Fatalf("transport errors must be retryable: %v", err)
	}
}
