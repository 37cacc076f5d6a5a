package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/evidence"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/journal"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
)

const incompleteMarker = "<!-- incomplete -->"

// finish assembles report.md from the written sections and closes out the
// run with a run_finished event.
func (e *Engine) finish(st *runState) (Outcome, error) {
	sections := st.outline.SectionsAtLevel(e.cfg.WriteLevel)

	var parts []string
	writtenCount := 0
	for _, sec := range sections {
		draft, ok := st.written[sec.Node.ID]
		if !ok {
			st.partial = true
			draft = omittedSection
		} else if draft != omittedSection {
			writtenCount++
		}
		parts = append(parts, strings.TrimSpace(fmt.Sprintf("## %s\n\n%s", sec.Node.Title, draft)))
	}

	body := strings.Join(parts, "\n\n")
	report := cleanReport(body + "\n\n" + renderReferences(body, st.bank))

	status := StatusComplete
	if st.partial {
		status = StatusPartial
		report += "\n\n" + incompleteMarker
	}
	if err := writeFileAtomic(st.reportPath(), []byte(report+"\n")); err != nil {
		return Outcome{}, fmt.Errorf("write report: %w", err)
	}

	if _, err := st.jr.Append(journal.KindRunFinished, map[string]any{
		"status":           status,
		"sections":         len(sections),
		"sections_written": writtenCount,
		"evidence_count":   st.bank.Count(),
	}); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		RunID:           st.runID,
		RunDir:          st.dir,
		ReportPath:      st.reportPath(),
		OutlinePath:     st.outlinePath(),
		EventsPath:      st.eventsPath(),
		Status:          status,
		Sections:        len(sections),
		SectionsWritten: writtenCount,
	}, nil
}

// renderReferences lists the evidence the body actually cites, in first-use
// order. Evidence retrieved but never cited gets no entry; every footnote
// ref in the body has exactly one definition here.
func renderReferences(body string, bank *evidence.Bank) string {
	order := protocol.ParseFootnoteRefs(body)

	lines := []string{"## References"}
	for _, id := range order {
		ev, err := bank.Get(id)
		if err != nil {
			continue
		}
		title := ev.Source.Title
		if title == "" {
			title = "Untitled"
		}
		line := fmt.Sprintf("[^%s]: %s", id, title)
		if ev.Source.Publisher != "" {
			line += " — " + ev.Source.Publisher
		}
		if ev.Source.PublishedAt != "" {
			line += " (" + ev.Source.PublishedAt + ")"
		}
		line += ". " + ev.Source.URL
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// cleanReport strips tool-call noise that leaks into prose when the model
// forgets its tags: bare "retrieve" lines and bare JSON argument objects.
func cleanReport(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.EqualFold(stripped, "retrieve") {
			continue
		}
		if strings.HasPrefix(stripped, "{") && strings.HasSuffix(stripped, "}") {
			var v map[string]any
			if json.Unmarshal([]byte(stripped), &v) == nil {
				continue
			}
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
