package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/evidence"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/journal"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/outline"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/research"
)

const omittedSection = "<section omitted: no content generated>"

// writerPhase composes every pending section at the configured write level.
// Already-written sections (from a resumed run) are skipped. Sealing a
// section records its footnote ids; those ids are what later sections may
// not implicitly retrieve again.
func (e *Engine) writerPhase(ctx context.Context, st *runState) error {
	sections := st.outline.SectionsAtLevel(e.cfg.WriteLevel)
	for i, sec := range sections {
		if _, done := st.written[sec.Node.ID]; done {
			continue
		}
		if ctx.Err() != nil {
			st.partial = true
			e.logError(st, "writer", ctx.Err())
			return nil
		}
		draft, err := e.writeSection(ctx, st, i+1, sec)
		if err != nil {
			return err
		}
		cited := protocol.ParseFootnoteRefs(draft)
		for _, id := range cited {
			st.citedIDs[id] = true
		}
		st.written[sec.Node.ID] = draft
		if err := writeFileAtomic(st.sectionPath(sec.Node.ID), []byte(draft)); err != nil {
			e.logError(st, "writer", err)
		}
		if _, err := st.jr.Append(journal.KindSectionWritten, map[string]any{
			"section_id": sec.Node.ID,
			"title":      sec.Node.Title,
			"index":      i + 1,
			"chars":      len(draft),
			"citations":  len(cited),
		}); err != nil {
			return err
		}
	}
	return nil
}

// writeSection runs the retrieve/write/terminate loop for one section and
// returns its draft body, falling back to a single-shot generation and then
// to an explicit omission marker. A spent protocol-retry budget aborts the
// run; the journaled state stays resumable.
func (e *Engine) writeSection(ctx context.Context, st *runState, index int, sec outline.Section) (string, error) {
	var draft, toolResponse string
	sectionOutline := sec.Fragment
	retrieved := map[string]bool{} // surfaced to this section so far

	for step := 1; step <= e.cfg.WriterMaxStepsPerSection; step++ {
		if ctx.Err() != nil {
			st.partial = true
			break
		}
		_, _ = st.jr.Append(journal.KindWriterStep, map[string]any{
			"section_id": sec.Node.ID,
			"index":      index,
			"step":       step,
		})

		action, err := e.writer.Step(ctx, research.WriterStepInputs{
			Query:          st.query,
			SectionOutline: sectionOutline,
			Draft:          draft,
			ToolResponse:   toolResponse,
		})
		if err != nil {
			var exhausted *protocol.ExhaustedError
			if errors.As(err, &exhausted) {
				e.logError(st, "writer", err)
				return "", fmt.Errorf("section %s: %w", sec.Node.ID, err)
			}
			e.logError(st, "writer", err)
			if ctx.Err() != nil {
				st.partial = true
			}
			break
		}
		toolResponse = ""

		switch a := action.(type) {
		case protocol.RetrieveAction:
			toolResponse = e.retrieveForSection(st, sec, retrieved, a)
		case protocol.WriteAction:
			piece := strings.TrimSpace(a.Markdown)
			if piece != "" {
				draft = strings.TrimSpace(draft + "\n\n" + piece)
			}
			if len([]rune(draft)) > e.cfg.WriterSectionMaxChars {
				draft = truncateHead(draft, e.cfg.WriterSectionMaxChars)
				_, _ = st.jr.Append(journal.KindWriterTerminated, map[string]any{
					"section_id": sec.Node.ID,
					"reason":     "max_chars",
				})
				return e.finishSectionDraft(ctx, st, sec, draft), nil
			}
		case protocol.WriterTerminateAction:
			_, _ = st.jr.Append(journal.KindWriterTerminated, map[string]any{
				"section_id": sec.Node.ID,
				"reason":     a.Reason,
			})
			return e.finishSectionDraft(ctx, st, sec, draft), nil
		}
	}
	return e.finishSectionDraft(ctx, st, sec, draft), nil
}

// retrieveForSection resolves one retrieve action against the bank. Evidence
// cited by a sealed section is consumed: only an explicit citation_ids
// request may re-surface it. Within the current section, evidence can be
// retrieved again freely.
func (e *Engine) retrieveForSection(st *runState, sec outline.Section, retrieved map[string]bool, a protocol.RetrieveAction) string {
	topK := a.TopK
	if topK <= 0 {
		topK = e.cfg.WriterRetrieveTopK
	}

	var picked []evidence.Evidence
	reused := false
	explicit := len(a.CitationIDs) > 0

	targetIDs := a.CitationIDs
	if len(targetIDs) == 0 {
		targetIDs = sec.CandidateIDs
	}

	if len(targetIDs) > 0 {
		evs, err := st.bank.BulkGet(targetIDs)
		if err != nil {
			var missing *evidence.MissingEvidenceError
			if !errors.As(err, &missing) {
				e.logError(st, "retrieve", err)
			}
		}
		for _, ev := range evs {
			if st.citedIDs[ev.ID] {
				if !(explicit && e.cfg.WriterAllowEvidenceReuse) {
					continue
				}
				reused = true
			}
			picked = append(picked, ev)
			if len(picked) >= topK {
				break
			}
		}
	} else {
		for _, sc := range st.bank.RetrieveScored(a.Query, topK*2) {
			if st.citedIDs[sc.Evidence.ID] || retrieved[sc.Evidence.ID] {
				continue
			}
			picked = append(picked, sc.Evidence)
			if len(picked) >= topK {
				break
			}
		}
	}

	picked = pruneEvidence(picked, e.cfg.WriterSectionMaxEvidences, e.cfg.WriterItemsPerEvidence, e.cfg.WriterToolResponseMaxChars)

	ids := make([]string, 0, len(picked))
	for _, ev := range picked {
		ids = append(ids, ev.ID)
		retrieved[ev.ID] = true
	}
	_, _ = st.jr.Append(journal.KindSectionRetrieved, map[string]any{
		"section_id":   sec.Node.ID,
		"query":        a.Query,
		"count":        len(picked),
		"evidence_ids": ids,
		"reused":       reused,
	})

	if len(picked) == 0 {
		return "<tool_response><material>NO_NEW_EVIDENCE</material></tool_response>"
	}
	return formatToolResponse(picked, e.cfg.WriterItemsPerEvidence)
}

// finishSectionDraft applies the empty-draft fallbacks and the zero-citation
// note before the section is committed.
func (e *Engine) finishSectionDraft(ctx context.Context, st *runState, sec outline.Section, draft string) string {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		cited, _ := st.bank.BulkGet(sec.CandidateIDs)
		text, err := e.writer.ComposeSection(ctx, st.query, sec.Node.Title, sec.Fragment, cited)
		if err != nil {
			e.logError(st, "writer_fallback", err)
		}
		draft = strings.TrimSpace(text)
	}
	if draft == "" {
		return omittedSection
	}
	if len(protocol.ParseFootnoteRefs(draft)) == 0 {
		draft += "\n\n*(No external source supports this section.)*"
	}
	return draft
}

// pruneEvidence enforces the tool-response budgets: entry cap, per-evidence
// item cap with cross-evidence item dedup, and an approximate char budget.
func pruneEvidence(evs []evidence.Evidence, maxEvidences, itemsPer, maxChars int) []evidence.Evidence {
	if len(evs) > maxEvidences {
		evs = evs[:maxEvidences]
	}
	seenItem := map[string]bool{}
	budget := maxChars
	var out []evidence.Evidence

	for _, ev := range evs {
		var items []evidence.Item
		for _, it := range ev.Items {
			key := strings.ToLower(strings.TrimSpace(it.Content))
			if key == "" || seenItem[key] {
				continue
			}
			seenItem[key] = true
			items = append(items, it)
			if len(items) >= itemsPer {
				break
			}
		}
		approx := len(ev.Summary) + 200
		for _, it := range items {
			approx += len(it.Content)
		}
		if budget-approx <= 0 {
			break
		}
		budget -= approx

		ev.Items = items
		out = append(out, ev)
	}
	return out
}

// formatToolResponse renders retrieved evidence in the writer's wire format.
func formatToolResponse(evs []evidence.Evidence, itemsPer int) string {
	var b strings.Builder
	b.WriteString("<tool_response>\n<material>\n")
	for _, ev := range evs {
		fmt.Fprintf(&b, "<%s>\n", ev.ID)
		fmt.Fprintf(&b, "Summary: %s\n", ev.Summary)
		for i, it := range ev.Items {
			if i >= itemsPer {
				break
			}
			fmt.Fprintf(&b, "- %s: %s\n", it.Type, it.Content)
		}
		fmt.Fprintf(&b, "URL: %s\n", ev.Source.URL)
		fmt.Fprintf(&b, "</%s>\n", ev.ID)
	}
	b.WriteString("</material>\n</tool_response>")
	return b.String()
}

// truncateHead keeps the first max runes of s. On a char-budget breach the
// opening of the section is what survives.
func truncateHead(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
