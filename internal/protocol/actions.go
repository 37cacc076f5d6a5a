package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolError reports agent output the parser could not accept. It is
// returned to the agent as its next-turn observation, not raised as a run
// failure.
type ProtocolError struct {
	Stage   string // "planner" or "writer"
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s): %s", e.Stage, e.Message)
}

// Observation renders the corrective message fed back to the agent.
func (e *ProtocolError) Observation() string {
	return "<tool_response>ERROR: " + e.Message + ". Reply with exactly one action tag.</tool_response>"
}

// ExhaustedError reports a retry budget spent without one parseable action.
// Unlike ProtocolError it is fatal for the run; the journaled state remains
// resumable.
type ExhaustedError struct {
	Stage    string
	Attempts int
	Last     *ProtocolError
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("protocol exhausted (%s): no valid action after %d attempts: %s",
		e.Stage, e.Attempts, e.Last.Message)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Planner actions.

type SearchAction struct {
	Queries []string
	Goal    string
}

type WriteOutlineAction struct {
	OutlineText string
}

type TerminateAction struct {
	Reason string
}

// PlannerAction is one of SearchAction, WriteOutlineAction, TerminateAction.
type PlannerAction interface{ isPlannerAction() }

func (SearchAction) isPlannerAction()       {}
func (WriteOutlineAction) isPlannerAction() {}
func (TerminateAction) isPlannerAction()    {}

// Writer actions.

type RetrieveAction struct {
	Query       string
	TopK        int
	CitationIDs []string
}

type WriteAction struct {
	Markdown string
}

type WriterTerminateAction struct {
	Reason string
}

// WriterAction is one of RetrieveAction, WriteAction, WriterTerminateAction.
type WriterAction interface{ isWriterAction() }

func (RetrieveAction) isWriterAction()        {}
func (WriteAction) isWriterAction()           {}
func (WriterTerminateAction) isWriterAction() {}

const defaultRetrieveTopK = 8

// ParsePlannerAction extracts one planner action from raw model output.
// Priority order: write_outline, terminate, tool_call. A response with none
// of the tags but non-empty prose is treated as an outline; this matches how
// models most often misfire.
func ParsePlannerAction(raw string) (PlannerAction, error) {
	if body, ok := FindTagBlock(raw, "write_outline"); ok {
		if strings.TrimSpace(body) == "" {
			return nil, &ProtocolError{Stage: "planner", Message: "empty write_outline payload"}
		}
		return WriteOutlineAction{OutlineText: body}, nil
	}
	if body, ok := FindTagBlock(raw, "terminate"); ok {
		if body == "" {
			body = "unspecified"
		}
		return TerminateAction{Reason: body}, nil
	}
	if body, ok := FindTagBlock(raw, "tool_call"); ok {
		return parsePlannerToolCall(body)
	}
	if strings.TrimSpace(raw) != "" {
		// Untagged prose: treat as an outline draft.
		return WriteOutlineAction{OutlineText: strings.TrimSpace(raw)}, nil
	}
	return nil, &ProtocolError{Stage: "planner", Message: "no action tag found in empty response"}
}

func parsePlannerToolCall(body string) (PlannerAction, error) {
	call, err := parseToolCallPayload("planner", body)
	if err != nil {
		return nil, err
	}
	if call.Name != "search" {
		return TerminateAction{Reason: "unsupported_tool"}, nil
	}
	if err := validateToolArgs("planner", "search", call.Arguments); err != nil {
		return nil, err
	}
	queries := stringList(call.Arguments["queries"])
	if len(queries) == 0 {
		queries = stringList(call.Arguments["query"])
	}
	if len(queries) == 0 {
		return TerminateAction{Reason: "no_queries"}, nil
	}
	goal := asString(call.Arguments["goal"])
	if goal == "" {
		goal = "collect evidence"
	}
	return SearchAction{Queries: queries, Goal: goal}, nil
}

// ParseWriterAction extracts one writer action from raw model output.
// Priority order: tool_call, write, terminate; untagged prose becomes a
// Write action.
func ParseWriterAction(raw string) (WriterAction, error) {
	if body, ok := FindTagBlock(raw, "tool_call"); ok {
		return parseWriterToolCall(body)
	}
	if body, ok := FindTagBlock(raw, "write"); ok {
		if strings.TrimSpace(body) == "" {
			return nil, &ProtocolError{Stage: "writer", Message: "empty write payload"}
		}
		return WriteAction{Markdown: body}, nil
	}
	if body, ok := FindTagBlock(raw, "terminate"); ok {
		if body == "" {
			body = "unspecified"
		}
		return WriterTerminateAction{Reason: body}, nil
	}
	if strings.TrimSpace(raw) != "" {
		return WriteAction{Markdown: strings.TrimSpace(raw)}, nil
	}
	return nil, &ProtocolError{Stage: "writer", Message: "no action tag found in empty response"}
}

func parseWriterToolCall(body string) (WriterAction, error) {
	call, err := parseToolCallPayload("writer", body)
	if err != nil {
		return nil, err
	}
	if call.Name != "retrieve" {
		return nil, &ProtocolError{Stage: "writer", Message: "unknown tool: " + call.Name}
	}
	if err := validateToolArgs("writer", "retrieve", call.Arguments); err != nil {
		return nil, err
	}
	topK := intFromAny(call.Arguments["top_k"])
	if topK <= 0 {
		topK = defaultRetrieveTopK
	}
	if topK > 50 {
		topK = 50
	}
	var ids []string
	for _, id := range stringList(call.Arguments["citation_ids"]) {
		if IsEvidenceID(id) {
			ids = append(ids, id)
		}
	}
	return RetrieveAction{
		Query:       asString(call.Arguments["query"]),
		TopK:        topK,
		CitationIDs: ids,
	}, nil
}

type toolCall struct {
	Name      string
	Arguments map[string]any
}

func parseToolCallPayload(stage, body string) (toolCall, error) {
	obj, ok := ExtractJSONObject(body)
	if !ok {
		return toolCall{}, &ProtocolError{Stage: stage, Message: "tool_call payload is not a JSON object"}
	}
	name := asString(obj["name"])
	if name == "" {
		return toolCall{}, &ProtocolError{Stage: stage, Message: "tool_call missing name"}
	}
	args, _ := obj["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return toolCall{Name: name, Arguments: args}, nil
}

func stringList(v any) []string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
		return nil
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s := strings.TrimSpace(asString(it)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(x))
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

func intFromAny(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case float64:
		return int(x)
	case json.Number:
		i, _ := x.Int64()
		return int(i)
	case string:
		var n int
		_, _ = fmt.Sscanf(strings.TrimSpace(x), "%d", &n)
		return n
	default:
		return 0
	}
}
