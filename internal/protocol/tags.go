// Package protocol implements the tag grammar the agents speak: one top-level
// action tag per turn, JSON tool-call payloads, and inline citation spans.
package protocol

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The action tags are a closed set; precompiling keeps FindTagBlock safe to
// call from concurrent workers.
var tagRes = map[string]*regexp.Regexp{
	"tool_call":     compileTagRe("tool_call"),
	"write_outline": compileTagRe("write_outline"),
	"write":         compileTagRe("write"),
	"terminate":     compileTagRe("terminate"),
}

func compileTagRe(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(tag) + `>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
}

func tagRe(tag string) *regexp.Regexp {
	if re, ok := tagRes[tag]; ok {
		return re
	}
	return compileTagRe(tag)
}

// FindTagBlock returns the trimmed body of the first <tag>...</tag> block.
// Matching is case-insensitive and spans newlines.
func FindTagBlock(text, tag string) (string, bool) {
	m := tagRe(tag).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

var fencedJSONRe = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSONObject salvages a JSON object from model output. Tries, in order:
// a fenced json block, the whole text, the first balanced {...} span.
func ExtractJSONObject(text string) (map[string]any, bool) {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(m[1]); ok {
			return obj, true
		}
	}
	if obj, ok := decodeObject(text); ok {
		return obj, true
	}
	if span, ok := firstBalancedObject(text); ok {
		if obj, ok := decodeObject(span); ok {
			return obj, true
		}
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(s)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// firstBalancedObject scans for the first top-level {...} span, tracking
// string literals and escapes so braces inside strings do not confuse it.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
