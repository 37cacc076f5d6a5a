// Package evidence implements the append-only evidence bank: stable ev_NNNN
// ids, content-hash dedup, JSONL persistence with raw-text sidecars.
package evidence

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

type Source struct {
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Publisher   string    `json:"publisher,omitempty"`
	Author      string    `json:"author,omitempty"`
	PublishedAt string    `json:"published_at,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

type ItemType string

const (
	ItemQuote      ItemType = "quote"
	ItemData       ItemType = "data"
	ItemDefinition ItemType = "definition"
	ItemClaim      ItemType = "claim"
	ItemCase       ItemType = "case"
)

type Item struct {
	Type       ItemType `json:"type"`
	Content    string   `json:"content"`
	Location   string   `json:"location,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Evidence is immutable once added to the bank.
type Evidence struct {
	ID      string   `json:"id"`
	Query   string   `json:"query"`
	Source  Source   `json:"source"`
	Summary string   `json:"summary"`
	Items   []Item   `json:"items,omitempty"`
	RawRef  string   `json:"raw_ref,omitempty"`
	Hash    string   `json:"hash"`
	Tags    []string `json:"tags,omitempty"`
}

// Draft is the input to Bank.Add; the bank assigns ID, Hash, and RawRef.
type Draft struct {
	Query   string
	Source  Source
	Summary string
	Items   []Item
	RawText string
	Tags    []string
}

// FormatID renders the canonical dense id for counter value n.
func FormatID(n int) string { return fmt.Sprintf("ev_%04d", n) }

// ContentHash hashes the normalized URL plus the normalized body. Dedup is
// content-based so URL canonicalization variants of the same page collapse.
func ContentHash(rawURL, body string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(normalizeURL(rawURL)))
	_, _ = h.Write([]byte("\n"))
	_, _ = h.Write([]byte(normalizeBody(body)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	out := u.String()
	if strings.HasSuffix(u.Path, "/") && u.Path != "/" {
		out = strings.TrimSuffix(out, "/")
	}
	return out
}

func normalizeBody(body string) string {
	return strings.Join(strings.Fields(body), " ")
}
