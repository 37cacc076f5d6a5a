// Package research holds the two protocol agents (planner, writer) and the
// single-shot LLM helpers they lean on: URL filtering, summarization,
// evidence extraction, and the outline fallback.
package research

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
)

// Caller wraps the llm client with the per-run routing and retry policy all
// agents share. The session id seeds deterministic backoff jitter.
type Caller struct {
	client    *llm.Client
	provider  string
	model     string
	policy    llm.RetryPolicy
	sessionID string
	calls     atomic.Int64
}

func NewCaller(client *llm.Client, provider, model string) *Caller {
	return &Caller{
		client:    client,
		provider:  provider,
		model:     model,
		policy:    llm.DefaultRetryPolicy(),
		sessionID: ulid.Make().String(),
	}
}

func (c *Caller) SetRetryPolicy(p llm.RetryPolicy) { c.policy = p }

// Complete runs one completion with retries and returns the cleaned text.
func (c *Caller) Complete(ctx context.Context, messages []llm.Message, temperature float64) (string, error) {
	n := c.calls.Add(1)
	seed := fmt.Sprintf("%s:%d", c.sessionID, n)
	req := llm.Request{
		Provider:    c.provider,
		Model:       c.model,
		Messages:    messages,
		Temperature: &temperature,
	}
	resp, err := llm.Retry(ctx, c.policy, seed, func(ctx context.Context) (llm.Response, error) {
		return c.client.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// truncateRunes cuts s to at most n runes, marking the cut.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
