package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
)

func TestComplete_Success(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
			t.Errorf("auth header: %s", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "resp-1",
			"model": "served-model",
			"choices": []any{map[string]any{
				"message":       map[string]any{"content": "answer text"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	a := NewAdapter(Config{Provider: "compat", APIKey: "key-123", BaseURL: srv.URL})
	resp, err := a.Complete(context.Background(), llm.Request{
		Model:    "test-model",
		Messages: []llm.Message{llm.System("sys"), llm.User("q")},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Message.Content != "answer text" {
		t.Fatalf("content: %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("usage: %+v", resp.Usage)
	}
	if gotBody["model"] != "test-model" {
		t.Fatalf("wire model: %v", gotBody["model"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("wire messages: %v", gotBody["messages"])
	}
}

func TestComplete_RateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	a := NewAdapter(Config{Provider: "compat", APIKey: "k", BaseURL: srv.URL})
	_, err := a.Complete(context.Background(), llm.Request{
		Model:    "m",
		Messages: []llm.Message{llm.User("q")},
	})
	var rle *llm.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
	if ra := rle.RetryAfter(); ra == nil || *ra != 7*time.Second {
		t.Fatalf("retry-after: %v", ra)
	}
}

func TestComplete_ServerErrorRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAdapter(Config{Provider: "compat", APIKey: "k", BaseURL: srv.URL})
	_, err := a.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{llm.User("q")}})
	if !llm.IsRetryable(err) {
		t.Fatalf("502 must be retryable: %v", err)
	}
}

func TestComplete_ReasoningFoldedIntoThinkBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{
				"message":       map[string]any{"content": "visible", "reasoning_content": "chain"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	a := NewAdapter(Config{Provider: "compat", APIKey: "k", BaseURL: srv.URL})
	resp, err := a.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{llm.User("q")}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := resp.Text(); got != "visible" {
		t.Fatalf("text: %q", got)
	}
}

func TestComplete_MissingChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	a := NewAdapter(Config{Provider: "compat", APIKey: "k", BaseURL: srv.URL})
	if _, err := a.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{llm.User("q")}}); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}
