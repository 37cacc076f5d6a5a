package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/evidence"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
)

// Writer composes one section at a time through a retrieve/write/terminate
// loop. Like the planner it is stateless; the engine owns the draft.
type Writer struct {
	caller     *Caller
	maxRetries int
}

func NewWriter(caller *Caller, maxProtocolRetries int) *Writer {
	if maxProtocolRetries <= 0 {
		maxProtocolRetries = 3
	}
	return &Writer{caller: caller, maxRetries: maxProtocolRetries}
}

type WriterStepInputs struct {
	Query          string
	SectionOutline string // "## title" plus the outline fragment
	Draft          string
	ToolResponse   string // previous retrieval result, empty on the first step
}

func (w *Writer) Step(ctx context.Context, in WriterStepInputs) (protocol.WriterAction, error) {
	messages := []llm.Message{
		llm.System(writerSystemPrompt),
		llm.User(buildWriterPrompt(in)),
	}

	for attempt := 0; ; attempt++ {
		raw, err := w.caller.Complete(ctx, messages, 0.0)
		if err != nil {
			return nil, err
		}
		action, err := protocol.ParseWriterAction(raw)
		if err == nil {
			return action, nil
		}
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) {
			return nil, err
		}
		if attempt >= w.maxRetries {
			return nil, &protocol.ExhaustedError{Stage: perr.Stage, Attempts: attempt + 1, Last: perr}
		}
		messages = append(messages,
			llm.Assistant(raw),
			llm.User(perr.Observation()),
		)
	}
}

func buildWriterPrompt(in WriterStepInputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User Query: %s\n\n", in.Query)
	b.WriteString("Outline:\n")
	b.WriteString(in.SectionOutline)
	b.WriteString("\n\nCurrent Draft (may be partial):\n")
	if in.Draft == "" {
		b.WriteString("<empty>")
	} else {
		b.WriteString(in.Draft)
	}
	b.WriteString("\n\n")
	if in.ToolResponse != "" {
		b.WriteString("Latest <tool_response>:\n")
		b.WriteString(in.ToolResponse)
		b.WriteString("\n\n")
	}
	b.WriteString("Decide next action.")
	return b.String()
}

// ComposeSection is the single-shot fallback when the step loop ends with an
// empty draft: one direct generation from the section fragment and whatever
// evidence the outline already names.
func (w *Writer) ComposeSection(ctx context.Context, query, title, fragment string, cited []evidence.Evidence) (string, error) {
	var eb strings.Builder
	if len(cited) == 0 {
		eb.WriteString("<no evidence cited>")
	} else {
		for _, ev := range cited {
			fmt.Fprintf(&eb, "[%s] %s | %s\n", ev.ID, ev.Source.Title, ev.Source.URL)
			fmt.Fprintf(&eb, "Summary: %s\n", ev.Summary)
			for i, it := range ev.Items {
				if i >= 8 {
					break
				}
				fmt.Fprintf(&eb, "- %s: %s\n", it.Type, it.Content)
			}
			eb.WriteString("\n")
		}
	}

	messages := []llm.Message{
		llm.System(writerSystemPrompt),
		llm.User(fmt.Sprintf(
			"User Query: %s\n\nSection Title: %s\n\n"+
				"Outline Notes (may contain citation tags):\n%s\n\n"+
				"Evidence (citeable):\n%s\n\n"+
				"Write this section in markdown, with factual claims supported by "+
				"footnotes like [^ev_0001]. Output the section text directly.",
			query, title, fragment, strings.TrimSpace(eb.String()))),
	}
	raw, err := w.caller.Complete(ctx, messages, 0.2)
	if err != nil {
		return "", err
	}
	// The model may still wrap the text in a write tag.
	if body, ok := protocol.FindTagBlock(raw, "write"); ok {
		return strings.TrimSpace(body), nil
	}
	return strings.TrimSpace(raw), nil
}
