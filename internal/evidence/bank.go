package evidence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// NotFoundError reports a lookup of an id the bank never issued.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string { return "evidence not found: " + e.ID }

// MissingEvidenceError reports bulk lookups with absent ids.
type MissingEvidenceError struct{ IDs []string }

func (e *MissingEvidenceError) Error() string {
	return "missing evidence: " + strings.Join(e.IDs, ", ")
}

// Bank is the run-scoped evidence store. One serializing writer guards the
// counter and the JSONL file; reads copy under a read lock.
type Bank struct {
	dir string

	mu     sync.RWMutex
	byID   map[string]Evidence
	byHash map[string]string
	order  []string
	nextID int
	file   *os.File
}

// Open loads (or creates) the bank rooted at dir. A truncated trailing line
// left by a crash mid-write is discarded; the counter resumes at
// max(existing ids)+1.
func Open(dir string) (*Bank, error) {
	if err := os.MkdirAll(filepath.Join(dir, "raw"), 0o755); err != nil {
		return nil, err
	}
	b := &Bank{
		dir:    dir,
		byID:   map[string]Evidence{},
		byHash: map[string]string{},
		nextID: 1,
	}
	path := filepath.Join(dir, "evidence.jsonl")
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var ev Evidence
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				// Corrupt or truncated line: drop and keep going.
				continue
			}
			if ev.ID == "" {
				continue
			}
			b.commit(ev)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	b.file = f
	return b, nil
}

func (b *Bank) Close() error {
	if b.file == nil {
		return nil
	}
	return b.file.Close()
}

func (b *Bank) commit(ev Evidence) {
	b.byID[ev.ID] = ev
	if ev.Hash != "" {
		b.byHash[ev.Hash] = ev.ID
	}
	b.order = append(b.order, ev.ID)
	if n := idNumber(ev.ID); n >= b.nextID {
		b.nextID = n + 1
	}
}

func idNumber(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "ev_"))
	if err != nil {
		return 0
	}
	return n
}

// Add inserts a draft and returns the stored record. A draft whose content
// hash matches an existing record returns that record with added=false and
// writes nothing. The JSONL line is written and synced before the in-memory
// counter advances, so a crash can lose at most the trailing line.
func (b *Bank) Add(d Draft) (Evidence, bool, error) {
	hash := ContentHash(d.Source.URL, firstNonEmpty(d.RawText, d.Summary))

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.byHash[hash]; ok {
		return b.byID[id], false, nil
	}

	ev := Evidence{
		ID:      FormatID(b.nextID),
		Query:   d.Query,
		Source:  d.Source,
		Summary: d.Summary,
		Items:   d.Items,
		Hash:    hash,
		Tags:    d.Tags,
	}
	if d.RawText != "" {
		rel := filepath.Join("raw", hash+".txt")
		if err := os.WriteFile(filepath.Join(b.dir, rel), []byte(d.RawText), 0o644); err != nil {
			return Evidence{}, false, fmt.Errorf("write raw sidecar: %w", err)
		}
		ev.RawRef = rel
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return Evidence{}, false, err
	}
	if _, err := b.file.Write(append(line, '\n')); err != nil {
		return Evidence{}, false, fmt.Errorf("append evidence: %w", err)
	}
	if err := b.file.Sync(); err != nil {
		return Evidence{}, false, fmt.Errorf("sync evidence: %w", err)
	}

	b.commit(ev)
	return ev, true, nil
}

func (b *Bank) Get(id string) (Evidence, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.byID[id]
	if !ok {
		return Evidence{}, &NotFoundError{ID: id}
	}
	return ev, nil
}

// BulkGet resolves ids preserving input order. Missing ids surface as a
// MissingEvidenceError alongside the records that did resolve.
func (b *Bank) BulkGet(ids []string) ([]Evidence, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Evidence, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if ev, ok := b.byID[id]; ok {
			out = append(out, ev)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return out, &MissingEvidenceError{IDs: missing}
	}
	return out, nil
}

func (b *Bank) Has(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byID[id]
	return ok
}

// All returns every record in insertion order.
func (b *Bank) All() []Evidence {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Evidence, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	return out
}

func (b *Bank) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Summary is the prompt-safe projection of a record: never raw text.
type Summary struct {
	ID      string
	URL     string
	Summary string
}

// Summaries projects the given ids, or every record when ids is nil.
func (b *Bank) Summaries(ids []string) []Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ids == nil {
		ids = b.order
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		if ev, ok := b.byID[id]; ok {
			out = append(out, Summary{ID: ev.ID, URL: ev.Source.URL, Summary: ev.Summary})
		}
	}
	return out
}

type Stats struct {
	Count             int `json:"count"`
	TotalSummaryChars int `json:"total_summary_chars"`
	DistinctDomains   int `json:"distinct_domains"`
}

func (b *Bank) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{Count: len(b.order)}
	domains := map[string]bool{}
	for _, id := range b.order {
		ev := b.byID[id]
		s.TotalSummaryChars += len(ev.Summary)
		if u, err := url.Parse(ev.Source.URL); err == nil && u.Host != "" {
			domains[strings.ToLower(u.Host)] = true
		}
	}
	s.DistinctDomains = len(domains)
	return s
}

// Scored pairs a record with its lexical relevance to a query.
type Scored struct {
	Evidence Evidence
	Score    int
}

// RetrieveScored ranks records by token overlap between the query and the
// record's title, summary, and item contents. Tokens shorter than two runes
// are ignored. Ties keep insertion order.
func (b *Bank) RetrieveScored(query string, topK int) []Scored {
	if topK <= 0 {
		return nil
	}
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var scored []Scored
	for _, id := range b.order {
		ev := b.byID[id]
		var sb strings.Builder
		sb.WriteString(ev.Source.Title)
		sb.WriteString(" ")
		sb.WriteString(ev.Summary)
		for _, it := range ev.Items {
			sb.WriteString(" ")
			sb.WriteString(it.Content)
		}
		docTokens := tokenSet(sb.String())
		score := 0
		for tok := range qTokens {
			if docTokens[tok] {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, Scored{Evidence: ev, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func tokenize(s string) map[string]bool { return tokenSet(s) }

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?()[]{}\"'`")
		if len([]rune(f)) >= 2 {
			out[f] = true
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// ReadAllLines is a low-level reader used by replay checks; it returns the
// decoded records without mutating bank state.
func ReadAllLines(path string) ([]Evidence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Evidence
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Evidence
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
