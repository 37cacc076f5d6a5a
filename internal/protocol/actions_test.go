package protocol

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestParsePlannerAction_Search(t *testing.T) {
	raw := `I should look for more sources.
<tool_call>{"name": "search", "arguments": {"queries": ["solid state batteries", "electrolyte interface"], "goal": "coverage"}}</tool_call>`
	a, err := ParsePlannerAction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sa, ok := a.(SearchAction)
	if !ok {
		t.Fatalf("want SearchAction, got %T", a)
	}
	if !reflect.DeepEqual(sa.Queries, []string{"solid state batteries", "electrolyte interface"}) {
		t.Fatalf("queries: %v", sa.Queries)
	}
	if sa.Goal != "coverage" {
		t.Fatalf("goal: %q", sa.Goal)
	}
}

func TestParsePlannerAction_SearchSingleStringQuery(t *testing.T) {
	raw := `<tool_call>{"name":"search","arguments":{"queries":"one query"}}</tool_call>`
	a, err := ParsePlannerAction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sa := a.(SearchAction)
	if len(sa.Queries) != 1 || sa.Queries[0] != "one query" {
		t.Fatalf("queries: %v", sa.Queries)
	}
	if sa.Goal != "collect evidence" {
		t.Fatalf("default goal: %q", sa.Goal)
	}
}

func TestParsePlannerAction_NoQueriesTerminates(t *testing.T) {
	raw := `<tool_call>{"name":"search","arguments":{}}</tool_call>`
	a, err := ParsePlannerAction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ta, ok := a.(TerminateAction)
	if !ok || ta.Reason != "no_queries" {
		t.Fatalf("got %#v", a)
	}
}

func TestParsePlannerAction_UnsupportedTool(t *testing.T) {
	raw := `<tool_call>{"name":"browse","arguments":{"url":"https://x"}}</tool_call>`
	a, err := ParsePlannerAction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ta, ok := a.(TerminateAction)
	if !ok || ta.Reason != "unsupported_tool" {
		t.Fatalf("got %#v", a)
	}
}

func TestParsePlannerAction_OutlineWinsOverToolCall(t *testing.T) {
	raw := `<write_outline># Report
## Background <citation>ev_0001</citation>
</write_outline>
<tool_call>{"name":"search","arguments":{"queries":["x"]}}</tool_call>`
	a, err := ParsePlannerAction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := a.(WriteOutlineAction); !ok {
		t.Fatalf("want WriteOutlineAction, got %T", a)
	}
}

func TestParsePlannerAction_UntaggedProseBecomesOutline(t *testing.T) {
	a, err := ParsePlannerAction("# Report\n## Section one\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := a.(WriteOutlineAction); !ok {
		t.Fatalf("got %T", a)
	}
}

func TestParsePlannerAction_EmptyIsProtocolError(t *testing.T) {
	_, err := ParsePlannerAction("   \n ")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProtocolError, got %v", err)
	}
	if pe.Observation() == "" {
		t.Fatalf("observation must be non-empty")
	}
}

func TestParsePlannerAction_MalformedToolJSON(t *testing.T) {
	_, err := ParsePlannerAction(`<tool_call>{not json}</tool_call>`)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProtocolError, got %v", err)
	}
}

func TestParseWriterAction_Retrieve(t *testing.T) {
	raw := `<tool_call>{"name":"retrieve","arguments":{"query":"energy density","top_k":5,"citation_ids":["ev_0003","ev_0001"]}}</tool_call>`
	a, err := ParseWriterAction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ra := a.(RetrieveAction)
	if ra.Query != "energy density" || ra.TopK != 5 {
		t.Fatalf("got %#v", ra)
	}
	if !reflect.DeepEqual(ra.CitationIDs, []string{"ev_0003", "ev_0001"}) {
		t.Fatalf("ids: %v", ra.CitationIDs)
	}
}

func TestParseWriterAction_RetrieveDefaultsAndClamps(t *testing.T) {
	a, err := ParseWriterAction(`<tool_call>{"name":"retrieve","arguments":{"query":"q"}}</tool_call>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.(RetrieveAction).TopK != 8 {
		t.Fatalf("default top_k: %d", a.(RetrieveAction).TopK)
	}
	// Out-of-range top_k violates the schema and feeds back as a correction.
	_, err = ParseWriterAction(`<tool_call>{"name":"retrieve","arguments":{"top_k":500}}</tool_call>`)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProtocolError for top_k=500, got %v", err)
	}
}

func TestParseWriterAction_WriteAndTerminate(t *testing.T) {
	a, err := ParseWriterAction("<write>Body text [^ev_0001].</write>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.(WriteAction).Markdown != "Body text [^ev_0001]." {
		t.Fatalf("got %#v", a)
	}
	a, err = ParseWriterAction("<terminate>section complete</terminate>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.(WriterTerminateAction).Reason != "section complete" {
		t.Fatalf("got %#v", a)
	}
}

func TestParseWriterAction_ToolCallWinsOverWrite(t *testing.T) {
	raw := `<tool_call>{"name":"retrieve","arguments":{"query":"q"}}</tool_call><write>draft</write>`
	a, err := ParseWriterAction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := a.(RetrieveAction); !ok {
		t.Fatalf("got %T", a)
	}
}

func TestParseWriterAction_UnknownTool(t *testing.T) {
	_, err := ParseWriterAction(`<tool_call>{"name":"search","arguments":{"queries":["x"]}}</tool_call>`)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProtocolError, got %v", err)
	}
}

func TestExtractJSONObject_Forms(t *testing.T) {
	if obj, ok := ExtractJSONObject("```json\n{\"name\":\"search\"}\n```"); !ok || obj["name"] != "search" {
		t.Fatalf("fenced: %v %v", obj, ok)
	}
	if obj, ok := ExtractJSONObject(`{"a": 1}`); !ok || obj["a"] == nil {
		t.Fatalf("whole: %v %v", obj, ok)
	}
	if obj, ok := ExtractJSONObject(`leading prose {"a": {"b": "}"}} trailing`); !ok || obj["a"] == nil {
		t.Fatalf("balanced: %v %v", obj, ok)
	}
	if _, ok := ExtractJSONObject("no json here"); ok {
		t.Fatalf("expected no object")
	}
}

func TestCitationParsing(t *testing.T) {
	text := "## A <citation>ev_0001, ev_0002</citation>\n- note <citation>ev_0002;ev_0003</citation>\nbody [^ev_0004] and again [^ev_0001]"
	spans := ParseCitationSpans(text)
	if !reflect.DeepEqual(spans, []string{"ev_0001", "ev_0002", "ev_0003"}) {
		t.Fatalf("spans: %v", spans)
	}
	all := ExtractCitationIDs(text)
	if !reflect.DeepEqual(all, []string{"ev_0001", "ev_0002", "ev_0003", "ev_0004"}) {
		t.Fatalf("all: %v", all)
	}
}

func TestFindTagBlock_CaseInsensitiveFirstMatch(t *testing.T) {
	body, ok := FindTagBlock("<TERMINATE>done</TERMINATE><terminate>second</terminate>", "terminate")
	if !ok || body != "done" {
		t.Fatalf("got %q %v", body, ok)
	}
	if _, ok := FindTagBlock("no tags", "terminate"); ok {
		t.Fatalf("expected no match")
	}
}

func TestFindTagBlock_ConcurrentCallers(t *testing.T) {
	tags := []string{"tool_call", "write_outline", "write", "terminate", "material"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tag := tags[j%len(tags)]
				body, ok := FindTagBlock("<"+tag+">x</"+tag+">", tag)
				if !ok || body != "x" {
					t.Errorf("tag %s: got %q %v", tag, body, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestExhaustedError(t *testing.T) {
	last := &ProtocolError{Stage: "planner", Message: "empty output"}
	err := &ExhaustedError{Stage: "planner", Attempts: 3, Last: last}
	want := "protocol exhausted (planner): no valid action after 3 attempts: empty output"
	if err.Error() != want {
		t.Fatalf("message: %q", err.Error())
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe != last {
		t.Fatalf("unwrap: %v", pe)
	}
}
