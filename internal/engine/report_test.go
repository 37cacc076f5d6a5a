package engine

import (
	"strings"
	"testing"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/evidence"
)

func TestCleanReport_StripsToolNoise(t *testing.T) {
	in := strings.Join([]string{
		"## Section",
		"",
		"retrieve",
		`{"name": "retrieve", "arguments": {"query": "x"}}`,
		"{not actually json}",
		"Real prose stays.",
	}, "\n")
	out := cleanReport(in)
	if strings.Contains(out, "retrieve\n") || strings.Contains(out, `"arguments"`) {
		t.Fatalf("noise survived:\n%s", out)
	}
	if !strings.Contains(out, "{not actually json}") {
		t.Fatal("unparseable braces must be kept as prose")
	}
	if !strings.Contains(out, "Real prose stays.") {
		t.Fatal("prose dropped")
	}
}

func TestPruneEvidence_BudgetsAndDedup(t *testing.T) {
	mk := func(id string, contents ...string) evidence.Evidence {
		ev := evidence.Evidence{ID: id, Summary: "s"}
		for _, c := range contents {
			ev.Items = append(ev.Items, evidence.Item{Type: evidence.ItemQuote, Content: c})
		}
		return ev
	}
	evs := []evidence.Evidence{
		mk("ev_0001", "alpha", "beta", "gamma"),
		mk("ev_0002", "ALPHA ", "delta"), // duplicate item text across evidences
		mk("ev_0003", "epsilon"),
	}

	out := pruneEvidence(evs, 2, 2, 10_000)
	if len(out) != 2 {
		t.Fatalf("entry cap: %d", len(out))
	}
	if len(out[0].Items) != 2 {
		t.Fatalf("item cap: %+v", out[0].Items)
	}
	if len(out[1].Items) != 1 || out[1].Items[0].Content != "delta" {
		t.Fatalf("cross-evidence dedup: %+v", out[1].Items)
	}

	out = pruneEvidence(evs, 3, 2, 250)
	if len(out) >= 3 {
		t.Fatalf("char budget not enforced: %d entries", len(out))
	}
}

func TestTruncateHead(t *testing.T) {
	if got := truncateHead("abcdef", 3); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := truncateHead("ab", 3); got != "ab" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderReferences_BodyCitationsOnly(t *testing.T) {
	bank, err := evidence.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer bank.Close()
	for _, d := range []evidence.Draft{
		{Query: "q", Source: evidence.Source{URL: "https://a.test", Title: "A"}, Summary: "alpha"},
		{Query: "q", Source: evidence.Source{URL: "https://b.test", Title: "B"}, Summary: "beta"},
	} {
		if _, _, err := bank.Add(d); err != nil {
			t.Fatal(err)
		}
	}

	out := renderReferences("Cited once [^ev_0002], and again [^ev_0002].", bank)
	if !strings.Contains(out, "[^ev_0002]: B") {
		t.Fatalf("cited entry missing:\n%s", out)
	}
	if strings.Contains(out, "ev_0001") {
		t.Fatalf("uncited record leaked into references:\n%s", out)
	}
	if strings.Count(out, "[^ev_0002]:") != 1 {
		t.Fatalf("duplicate definitions:\n%s", out)
	}

	if out := renderReferences("No citations at all.", bank); strings.Contains(out, "[^ev_") {
		t.Fatalf("citation-free body produced entries:\n%s", out)
	}
}

func TestFormatToolResponse(t *testing.T) {
	evs := []evidence.Evidence{{
		ID:      "ev_0007",
		Summary: "summary text",
		Source:  evidence.Source{URL: "https://example.com/x"},
		Items:   []evidence.Item{{Type: evidence.ItemData, Content: "42 units"}},
	}}
	out := formatToolResponse(evs, 8)
	for _, want := range []string{
		"<tool_response>", "<material>", "<ev_0007>", "Summary: summary text",
		"- data: 42 units", "URL: https://example.com/x", "</ev_0007>", "</material>",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
