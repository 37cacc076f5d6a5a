package protocol

import (
	"regexp"
	"strings"
)

var (
	citationSpanRe = regexp.MustCompile(`(?is)<citation>(.*?)</citation>`)
	footnoteRefRe  = regexp.MustCompile(`\[\^(ev_\d{4,})\]`)
	evidenceIDRe   = regexp.MustCompile(`^ev_\d{4,}$`)
)

// IsEvidenceID reports whether s looks like a bank-issued evidence id.
func IsEvidenceID(s string) bool { return evidenceIDRe.MatchString(strings.TrimSpace(s)) }

// ParseCitationSpans collects ids from every <citation>id[,id...]</citation>
// span, deduplicated in first-appearance order. Entries that do not look like
// evidence ids are dropped.
func ParseCitationSpans(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range citationSpanRe.FindAllStringSubmatch(text, -1) {
		for _, tok := range splitCitationList(m[1]) {
			if !IsEvidenceID(tok) || seen[tok] {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// ParseFootnoteRefs collects ids from [^ev_NNNN] body references,
// deduplicated in first-use order.
func ParseFootnoteRefs(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range footnoteRefRe.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ExtractCitationIDs returns every evidence id referenced by text through
// either citation spans or footnote refs, order-preserving.
func ExtractCitationIDs(text string) []string {
	out := ParseCitationSpans(text)
	seen := map[string]bool{}
	for _, id := range out {
		seen[id] = true
	}
	for _, id := range ParseFootnoteRefs(text) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func splitCitationList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// RenderCitationSpan renders ids as an inline citation span.
func RenderCitationSpan(ids []string) string {
	return "<citation>" + strings.Join(ids, ",") + "</citation>"
}
