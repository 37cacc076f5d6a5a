// Package fetch retrieves pages and reduces them to readable text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Page struct {
	URL   string
	Title string
	Text  string
	MIME  string
}

// RejectedError marks pages the filter stage refuses: wrong MIME, body too
// short, or HTTP failure. Rejections skip the URL, they never abort a step.
type RejectedError struct {
	URL    string
	Reason string
}

func (e *RejectedError) Error() string { return "page rejected: " + e.Reason + ": " + e.URL }

type Config struct {
	TimeoutS     int
	UserAgent    string
	MinBodyChars int
	MaxBodyBytes int64
}

type Fetcher struct {
	client       *http.Client
	userAgent    string
	minBodyChars int
	maxBodyBytes int64
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func NewFetcher(cfg Config) *Fetcher {
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	minChars := cfg.MinBodyChars
	if minChars <= 0 {
		minChars = 200
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &Fetcher{
		client:       &http.Client{Timeout: timeout},
		userAgent:    ua,
		minBodyChars: minChars,
		maxBodyBytes: maxBytes,
	}
}

// Fetch retrieves url and extracts its readable text. Non-text content and
// bodies below the minimum length are rejected.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, &RejectedError{URL: url, Reason: "invalid url"}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, &RejectedError{URL: url, Reason: fmt.Sprintf("fetch failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &RejectedError{URL: url, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0]))
	if !isTextMIME(mime) {
		return Page{}, &RejectedError{URL: url, Reason: "non-text mime " + mime}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return Page{}, &RejectedError{URL: url, Reason: fmt.Sprintf("read failed: %v", err)}
	}

	var title, text string
	if mime == "text/plain" {
		text = strings.TrimSpace(string(body))
	} else {
		title, text = ExtractText(string(body))
	}
	if len(text) < f.minBodyChars {
		return Page{}, &RejectedError{URL: url, Reason: fmt.Sprintf("body too short (%d chars)", len(text))}
	}

	return Page{
		URL:   resp.Request.URL.String(),
		Title: title,
		Text:  text,
		MIME:  mime,
	}, nil
}

func isTextMIME(mime string) bool {
	switch {
	case mime == "", strings.HasPrefix(mime, "text/"):
		return true
	case mime == "application/xhtml+xml", mime == "application/xml":
		return true
	default:
		return false
	}
}
