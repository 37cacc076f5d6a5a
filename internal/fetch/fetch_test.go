package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const samplePage = `<html><head><title>Sample Page</title>
<script>ignore_me()</script><style>.x{}</style></head>
<body>
<nav>menu items</nav>
<article>
<h1>Heading One</h1>
<p>First paragraph with enough text to pass the minimum body length filter,
repeated a little so the threshold is comfortably cleared. First paragraph
with enough text to pass the minimum body length filter.</p>
<p>Second paragraph here.</p>
</article>
<footer>copyright</footer>
</body></html>`

func TestFetch_ExtractsTitleAndText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	f := NewFetcher(Config{MinBodyChars: 50})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Title != "Sample Page" {
		t.Fatalf("title: %q", page.Title)
	}
	if !strings.Contains(page.Text, "Heading One") || !strings.Contains(page.Text, "Second paragraph here.") {
		t.Fatalf("text: %q", page.Text)
	}
	if strings.Contains(page.Text, "ignore_me") || strings.Contains(page.Text, "menu items") || strings.Contains(page.Text, "copyright") {
		t.Fatalf("noise leaked into text: %q", page.Text)
	}
}

func TestFetch_RejectsNonTextMIME(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 ..."))
	}))
	defer srv.Close()

	f := NewFetcher(Config{})
	_, err := f.Fetch(context.Background(), srv.URL)
	var re *RejectedError
	if !errors.As(err, &re) || !strings.Contains(re.Reason, "non-text mime") {
		t.Fatalf("got %v", err)
	}
}

func TestFetch_RejectsShortBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>tiny</p></body></html>"))
	}))
	defer srv.Close()

	f := NewFetcher(Config{MinBodyChars: 200})
	_, err := f.Fetch(context.Background(), srv.URL)
	var re *RejectedError
	if !errors.As(err, &re) || !strings.Contains(re.Reason, "too short") {
		t.Fatalf("got %v", err)
	}
}

func TestFetch_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(Config{})
	_, err := f.Fetch(context.Background(), srv.URL)
	var re *RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("got %v", err)
	}
}

func TestExtractText_MalformedFallsBack(t *testing.T) {
	_, text := ExtractText("just   some    words")
	if text != "just some words" {
		t.Fatalf("got %q", text)
	}
}

func TestPoolMap_BoundsConcurrencyKeepsOrder(t *testing.T) {
	var inFlight, peak int32
	inputs := make([]int, 20)
	for i := range inputs {
		inputs[i] = i
	}
	p := NewPool(4)
	results := Map(context.Background(), p, inputs, func(ctx context.Context, in int) int {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		defer atomic.AddInt32(&inFlight, -1)
		return in * 2
	})
	if len(results) != 20 {
		t.Fatalf("results: %d", len(results))
	}
	for i, r := range results {
		if r != i*2 {
			t.Fatalf("order broken at %d: %d", i, r)
		}
	}
	if atomic.LoadInt32(&peak) > 4 {
		t.Fatalf("concurrency exceeded bound: %d", peak)
	}
}
