package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/evidence"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/search"
)

// maxDocRunes bounds the document text shipped to summarize/extract calls.
const maxDocRunes = 60_000

// URLFilter selects the most relevant search results by title and snippet
// before anything is fetched.
type URLFilter struct {
	caller *Caller
}

func NewURLFilter(caller *Caller) *URLFilter { return &URLFilter{caller: caller} }

// SelectURLs returns at most maxURLs results. Parse failures fall back to the
// top-ranked results; only transport errors surface to the caller.
func (f *URLFilter) SelectURLs(ctx context.Context, query string, results []search.Result, maxURLs int) ([]search.Result, error) {
	if len(results) == 0 {
		return nil, nil
	}
	if len(results) <= maxURLs {
		return results, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nSearch results:\n", query)
	for _, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n", r.Rank, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "Snippet: %s\n", truncateRunes(r.Snippet, 400))
		}
		fmt.Fprintf(&b, "URL: %s\n\n", r.URL)
	}
	fmt.Fprintf(&b, "Select up to %d results.\n", maxURLs)
	b.WriteString("Return STRICT JSON with keys: selected_ranks (list of integers), rationale (string).\n")
	b.WriteString("Do not output anything else.")

	raw, err := f.caller.Complete(ctx, []llm.Message{
		llm.System(urlFilterSystemPrompt),
		llm.User(b.String()),
	}, 0.0)
	if err != nil {
		return nil, err
	}

	obj, ok := protocol.ExtractJSONObject(raw)
	if !ok {
		return results[:maxURLs], nil
	}
	ranks := intList(obj["selected_ranks"])
	if len(ranks) == 0 {
		return results[:maxURLs], nil
	}
	byRank := make(map[int]search.Result, len(results))
	for _, r := range results {
		byRank[r.Rank] = r
	}
	var selected []search.Result
	for _, rk := range ranks {
		if r, ok := byRank[rk]; ok {
			selected = append(selected, r)
		}
		if len(selected) >= maxURLs {
			break
		}
	}
	if len(selected) == 0 {
		return results[:maxURLs], nil
	}
	return selected, nil
}

// Summarizer produces a query-relevant summary of a fetched document.
type Summarizer struct {
	caller *Caller
}

func NewSummarizer(caller *Caller) *Summarizer { return &Summarizer{caller: caller} }

func (s *Summarizer) Summarize(ctx context.Context, query, text string) (string, error) {
	raw, err := s.caller.Complete(ctx, []llm.Message{
		llm.System(summarizerSystemPrompt),
		llm.User(fmt.Sprintf(
			"Query: %s\n\nDocument:\n%s\n\nReturn a concise summary (150-250 words).",
			query, truncateRunes(text, maxDocRunes))),
	}, 0.2)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// NotRelevant reports the summarizer's explicit rejection marker.
func NotRelevant(summary string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(summary)), "NOT RELEVANT")
}

// Extractor pulls individually citeable items out of a document.
type Extractor struct {
	caller *Caller
}

func NewExtractor(caller *Caller) *Extractor { return &Extractor{caller: caller} }

// Extract returns up to maxItems items. Output the model mangles beyond
// repair yields an empty slice, not an error.
func (e *Extractor) Extract(ctx context.Context, query, text string, maxItems int) ([]evidence.Item, error) {
	if maxItems <= 0 {
		maxItems = 8
	}
	raw, err := e.caller.Complete(ctx, []llm.Message{
		llm.System(extractorSystemPrompt),
		llm.User(fmt.Sprintf(
			"Query: %s\n\nDocument:\n%s\n\n"+
				"Extract up to %d evidence items. Return JSON: "+
				`{"items": [ {"type": "quote|data|definition|claim|case", `+
				`"content": string, "location": string|null, "confidence": 0-1|null} ] }`,
			query, truncateRunes(text, maxDocRunes), maxItems)),
	}, 0.1)
	if err != nil {
		return nil, err
	}

	obj, ok := protocol.ExtractJSONObject(raw)
	if !ok {
		return nil, nil
	}
	rawItems, _ := obj["items"].([]any)
	var items []evidence.Item
	for _, ri := range rawItems {
		m, ok := ri.(map[string]any)
		if !ok {
			continue
		}
		content := strings.TrimSpace(stringFrom(m["content"]))
		if content == "" {
			continue
		}
		it := evidence.Item{
			Type:     itemType(stringFrom(m["type"])),
			Content:  content,
			Location: strings.TrimSpace(stringFrom(m["location"])),
		}
		if c, ok := floatFrom(m["confidence"]); ok && c >= 0 && c <= 1 {
			it.Confidence = &c
		}
		items = append(items, it)
		if len(items) >= maxItems {
			break
		}
	}
	return items, nil
}

func itemType(s string) evidence.ItemType {
	switch evidence.ItemType(strings.ToLower(strings.TrimSpace(s))) {
	case evidence.ItemQuote:
		return evidence.ItemQuote
	case evidence.ItemData:
		return evidence.ItemData
	case evidence.ItemDefinition:
		return evidence.ItemDefinition
	case evidence.ItemCase:
		return evidence.ItemCase
	default:
		return evidence.ItemClaim
	}
}

// GenerateFallbackOutline asks the model for a complete outline in one shot.
// Used when the planner loop ends without ever committing an outline.
func GenerateFallbackOutline(ctx context.Context, caller *Caller, query string, recent []evidence.Evidence) (string, error) {
	var cb strings.Builder
	if len(recent) == 0 {
		cb.WriteString("<no structured evidence collected>")
	} else {
		if len(recent) > 10 {
			recent = recent[len(recent)-10:]
		}
		for _, ev := range recent {
			fmt.Fprintf(&cb, "- %s | %s\n", ev.ID, ev.Source.URL)
			if ev.Summary != "" {
				fmt.Fprintf(&cb, "  Summary: %s\n", truncateRunes(ev.Summary, 400))
			}
		}
	}

	raw, err := caller.Complete(ctx, []llm.Message{
		llm.System(fallbackOutlineSystemPrompt),
		llm.User(fmt.Sprintf(
			"Research question:\n%s\n\nEvidence summaries:\n%s\n\n"+
				"Produce the complete outline inside <write_outline>...</write_outline>.",
			query, cb.String())),
	}, 0.3)
	if err != nil {
		return "", err
	}
	if body, ok := protocol.FindTagBlock(raw, "write_outline"); ok {
		raw = body
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("fallback outline generation returned empty output")
	}
	return raw, nil
}

func stringFrom(v any) string {
	s, _ := v.(string)
	return s
}

func floatFrom(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func intList(v any) []int {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []int
	for _, it := range items {
		if f, ok := floatFrom(it); ok {
			out = append(out, int(f))
		}
	}
	return out
}
