package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/research"
)

// Criterion is one axis the outline is scored on.
type Criterion struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DefaultCriteria is the fixed judging rubric.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{Name: "InstructionFollowing", Description: "The outline answers the research question as asked, respecting its scope and framing."},
		{Name: "Depth", Description: "Sections go past surface facts into mechanisms, causes, and analysis."},
		{Name: "Balance", Description: "Coverage is proportionate across sections; no facet dominates or is reduced to a stub."},
		{Name: "Breadth", Description: "The major facets and perspectives of the question are all represented."},
		{Name: "Support", Description: "Key claims carry citation tags pointing at collected evidence rather than standing unsupported."},
		{Name: "Insightfulness", Description: "The outline promises synthesis and non-obvious connections, not a list of summaries."},
	}
}

// JudgeItemResult is the score for one criterion.
type JudgeItemResult struct {
	Rating        int    `json:"rating"`
	Justification string `json:"justification"`
}

// JudgeResult maps criterion name to its score.
type JudgeResult map[string]JudgeItemResult

func (r JudgeResult) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteJudgeError records a failed judgement without failing the run.
func WriteJudgeError(path string, cause error) error {
	data, err := json.MarshalIndent(map[string]string{"error": cause.Error()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Judge scores an outline criterion by criterion. Unparseable ratings are
// skipped; a judge failure never fails a run.
type Judge struct {
	caller   *research.Caller
	criteria []Criterion
}

func NewJudge(caller *research.Caller) *Judge {
	return &Judge{caller: caller, criteria: DefaultCriteria()}
}

func (j *Judge) Evaluate(ctx context.Context, question, outlineText string) (JudgeResult, error) {
	out := JudgeResult{}
	for _, c := range j.criteria {
		prompt := fmt.Sprintf(
			"Research question:\n%s\n\nOutline under evaluation:\n%s\n\n"+
				"Criterion: %s\n%s\n\n"+
				"Rate the outline on this criterion from 0 to 10. "+
				`Return ONLY raw JSON: {"rating": <int>, "justification": "<string>"}`,
			question, outlineText, c.Name, c.Description)

		raw, err := j.caller.Complete(ctx, []llm.Message{
			llm.System("You are a strict evaluator."),
			llm.User(prompt),
		}, 0.0)
		if err != nil {
			return out, err
		}
		obj, ok := protocol.ExtractJSONObject(raw)
		if !ok {
			continue
		}
		rating, ok := intFromJSON(obj["rating"])
		if !ok || rating < 0 || rating > 10 {
			continue
		}
		just, _ := obj["justification"].(string)
		out[c.Name] = JudgeItemResult{Rating: rating, Justification: just}
	}
	return out, nil
}

func intFromJSON(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return int(f), err == nil
	default:
		return 0, false
	}
}
