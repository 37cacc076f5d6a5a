package protocol

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool argument schemas, compiled once. Violations come back as protocol
// errors so the agent can self-correct on the next turn.

const searchArgsSchema = `{
  "type": "object",
  "properties": {
    "queries": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {"type": "array", "items": {"type": "string"}}
      ]
    },
    "query": {"type": "string"},
    "goal": {"type": "string"}
  },
  "additionalProperties": true
}`

const retrieveArgsSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string"},
    "top_k": {"type": "integer", "minimum": 1, "maximum": 50},
    "citation_ids": {"type": "array", "items": {"type": "string", "pattern": "^ev_[0-9]{4,}$"}}
  },
  "additionalProperties": true
}`

var toolSchemas = map[string]*jsonschema.Schema{
	"search":   mustCompileSchema("search.json", searchArgsSchema),
	"retrieve": mustCompileSchema("retrieve.json", retrieveArgsSchema),
}

func mustCompileSchema(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

func validateToolArgs(stage, tool string, args map[string]any) error {
	s, ok := toolSchemas[tool]
	if !ok {
		return &ProtocolError{Stage: stage, Message: "unknown tool: " + tool}
	}
	// Schema validation operates on the interface form the decoder produced;
	// json.Number needs converting to plain float for the validator.
	if err := s.Validate(normalizeForSchema(args)); err != nil {
		return &ProtocolError{Stage: stage, Message: tool + " arguments rejected: " + err.Error()}
	}
	return nil
}

func normalizeForSchema(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = normalizeForSchema(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = normalizeForSchema(vv)
		}
		return out
	case interface{ Float64() (float64, error) }:
		f, err := x.Float64()
		if err != nil {
			return v
		}
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	default:
		return v
	}
}
