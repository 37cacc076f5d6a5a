package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DuckDuckGo scrapes the no-JS HTML endpoint. Failures degrade to an empty
// result set so a planner step never aborts on a flaky search.
type DuckDuckGo struct {
	endpoint  string
	client    *http.Client
	userAgent string
}

func NewDuckDuckGo(cfg Config) *DuckDuckGo {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://html.duckduckgo.com/html/"
	}
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &DuckDuckGo{
		endpoint:  base,
		client:    &http.Client{Timeout: timeout},
		userAgent: ua,
	}
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	u := d.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, nil
	}
	results := parseDuckDuckGoResults(doc, maxResults)
	return results, nil
}

// parseDuckDuckGoResults walks the result list: anchors classed result__a
// carry title+href, siblings classed result__snippet carry the snippet.
func parseDuckDuckGoResults(doc *html.Node, max int) []Result {
	var out []Result
	var pending *Result

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(out) >= max {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				href := resolveDuckDuckGoHref(attr(n, "href"))
				if href != "" {
					if pending != nil {
						out = append(out, *pending)
						if len(out) >= max {
							pending = nil
							return
						}
					}
					pending = &Result{
						Title:  nodeText(n),
						URL:    href,
						Source: "duckduckgo",
						Rank:   len(out) + 1 + boolToInt(pending != nil),
					}
				}
			case hasClass(n, "result__snippet"):
				if pending != nil {
					pending.Snippet = nodeText(n)
					out = append(out, *pending)
					pending = nil
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if pending != nil && len(out) < max {
		out = append(out, *pending)
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// resolveDuckDuckGoHref unwraps the /l/?uddg= redirect the endpoint uses.
func resolveDuckDuckGoHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.Contains(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if u.Scheme == "" {
		if strings.HasPrefix(href, "//") {
			return "https:" + href
		}
		return ""
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
