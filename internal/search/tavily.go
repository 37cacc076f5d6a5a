package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
)

// Tavily is the API-backed provider. Transient statuses (408/429/5xx) and
// transport errors retry with capped backoff; a Retry-After on 429 wins over
// the computed delay.
type Tavily struct {
	apiKey  string
	baseURL string
	depth   string
	client  *http.Client
	policy  llm.RetryPolicy
}

func NewTavily(cfg Config) *Tavily {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.tavily.com"
	}
	depth := strings.TrimSpace(cfg.Depth)
	if depth == "" {
		depth = "basic"
	}
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if retries == 0 {
		retries = 3
	}
	return &Tavily{
		apiKey:  cfg.APIKey,
		baseURL: base,
		depth:   depth,
		client:  &http.Client{Timeout: timeout},
		policy: llm.RetryPolicy{
			MaxRetries:     retries,
			InitialDelayMS: 750,
			BackoffFactor:  2.0,
			MaxDelayMS:     8_000,
			Jitter:         true,
		},
	}
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	payload := map[string]any{
		"api_key":             t.apiKey,
		"query":               query,
		"max_results":         maxResults,
		"search_depth":        t.depth,
		"include_answer":      false,
		"include_raw_content": false,
		"include_images":      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var results []Result
	_, err = llm.Retry(ctx, t.policy, "tavily:"+query, func(ctx context.Context) (llm.Response, error) {
		rs, err := t.searchOnce(ctx, body)
		if err != nil {
			return llm.Response{}, err
		}
		results = rs
		return llm.Response{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tavily search failed: %w", err)
	}
	return results, nil
}

func (t *Tavily) searchOnce(ctx context.Context, body []byte) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, llm.WrapContextError("tavily", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, llm.WrapContextError("tavily", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, llm.WrapContextError("tavily", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, llm.ErrorFromHTTPStatus("tavily", resp.StatusCode, strings.TrimSpace(string(raw)), nil, ra)
	}

	var decoded struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("tavily response malformed: %w", err)
	}

	out := make([]Result, 0, len(decoded.Results))
	for i, r := range decoded.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		snippet := r.Content
		if snippet == "" {
			snippet = r.Snippet
		}
		out = append(out, Result{
			Title:   r.Title,
			Snippet: snippet,
			URL:     r.URL,
			Source:  "tavily",
			Rank:    i + 1,
		})
	}
	return out, nil
}
