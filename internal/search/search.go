// Package search abstracts the web search providers the planner drives.
package search

import (
	"context"
	"fmt"
	"strings"
)

type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Rank    int    `json:"rank"`
}

type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

type Config struct {
	Provider   string // tavily | duckduckgo
	APIKey     string
	BaseURL    string
	Depth      string // tavily: basic | advanced
	TimeoutS   int
	MaxRetries int
	UserAgent  string
}

// NewProvider selects the provider by name. Tavily requires an API key;
// DuckDuckGo works unauthenticated.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "tavily":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("search provider tavily requires SEARCH_API_KEY")
		}
		return NewTavily(cfg), nil
	case "duckduckgo":
		return NewDuckDuckGo(cfg), nil
	default:
		return nil, fmt.Errorf("unknown search provider: %s", cfg.Provider)
	}
}
