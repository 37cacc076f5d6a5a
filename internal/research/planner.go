package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/evidence"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/outline"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
)

const (
	plannerSummaryWindow = 20
	plannerSummaryChars  = 400
)

// Planner decides one of search / write_outline / terminate per step. It is
// stateless between steps; the engine supplies the full observable state.
type Planner struct {
	caller     *Caller
	maxRetries int
}

func NewPlanner(caller *Caller, maxProtocolRetries int) *Planner {
	if maxProtocolRetries <= 0 {
		maxProtocolRetries = 3
	}
	return &Planner{caller: caller, maxRetries: maxProtocolRetries}
}

type PlannerInputs struct {
	Query     string
	Outline   *outline.Outline
	Evidence  []evidence.Evidence
	StepIndex int // zero-based
	MaxSteps  int
}

// Step runs one planner decision. A malformed response is fed back to the
// model as an error observation and retried; a spent retry budget surfaces
// as a fatal ExhaustedError.
func (p *Planner) Step(ctx context.Context, in PlannerInputs) (protocol.PlannerAction, error) {
	messages := []llm.Message{
		llm.System(plannerSystemPrompt),
		llm.User(buildPlannerPrompt(in)),
	}

	for attempt := 0; ; attempt++ {
		raw, err := p.caller.Complete(ctx, messages, 0.0)
		if err != nil {
			return nil, err
		}
		action, err := protocol.ParsePlannerAction(raw)
		if err == nil {
			return action, nil
		}
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) {
			return nil, err
		}
		if attempt >= p.maxRetries {
			return nil, &protocol.ExhaustedError{Stage: perr.Stage, Attempts: attempt + 1, Last: perr}
		}
		messages = append(messages,
			llm.Assistant(raw),
			llm.User(perr.Observation()),
		)
	}
}

func buildPlannerPrompt(in PlannerInputs) string {
	var b strings.Builder
	stepNum := in.StepIndex + 1
	fmt.Fprintf(&b, "User Query: %s\n", in.Query)
	fmt.Fprintf(&b, "Planning Step: %d/%d\n\n", stepNum, in.MaxSteps)

	if in.Outline.Empty() {
		b.WriteString("Current Outline: <none>\n\n")
	} else {
		b.WriteString("Current Outline:\n")
		b.WriteString(in.Outline.Render())
		b.WriteString("\n\n")
	}

	b.WriteString("Evidence Bank Summaries (id, url, summary):\n")
	if len(in.Evidence) == 0 {
		b.WriteString("<empty>\n")
	} else {
		window := in.Evidence
		if len(window) > plannerSummaryWindow {
			window = window[len(window)-plannerSummaryWindow:]
		}
		for _, ev := range window {
			fmt.Fprintf(&b, "- %s | %s\n", ev.ID, ev.Source.URL)
			fmt.Fprintf(&b, "  Summary: %s\n", truncateRunes(ev.Summary, plannerSummaryChars))
		}
	}
	b.WriteString("\n")

	b.WriteString("Guidance:\n")
	b.WriteString(plannerGuidance(in))
	b.WriteString("\n\nChoose exactly one action: search via <tool_call>, ")
	b.WriteString("<write_outline>...</write_outline>, or <terminate>...</terminate>.")
	return b.String()
}

// plannerGuidance nudges the loop out of degenerate behavior: it forces an
// early first outline and pushes toward termination near the step ceiling.
func plannerGuidance(in PlannerInputs) string {
	stepNum := in.StepIndex + 1
	evCount := len(in.Evidence)

	if in.Outline.Empty() {
		if stepNum >= 4 || evCount >= 3 {
			return fmt.Sprintf(
				"This is step %d with %d evidence entries and still no outline. "+
					"You MUST emit an initial outline now via <write_outline>, even if "+
					"evidence is incomplete. Cover all major sections and attach "+
					"<citation> tags where evidence already exists.",
				stepNum, evCount)
		}
		return fmt.Sprintf(
			"This is step %d with %d evidence entries. Keep searching until you "+
				"have at least 3-5 entries, then write an initial outline.",
			stepNum, evCount)
	}

	if stepNum >= in.MaxSteps-2 {
		return fmt.Sprintf(
			"Step %d/%d is near the planning ceiling. If the outline covers all "+
				"major sections with sufficient <citation> tags, emit <terminate>. "+
				"Otherwise emit one final <write_outline> filling the gaps.",
			stepNum, in.MaxSteps)
	}
	if evCount >= 8 {
		return fmt.Sprintf(
			"The bank holds %d evidence entries. Consider <write_outline> to fold "+
				"the new evidence in: refine sections, add subsections, add "+
				"<citation> tags.", evCount)
	}
	return fmt.Sprintf(
		"The bank holds %d evidence entries. Either search for more or update "+
			"the outline to reflect what is already there. Refine early, refine "+
			"often.", evCount)
}
