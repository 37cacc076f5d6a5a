package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/evidence"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/journal"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/outline"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
)

// Resume continues an interrupted run from its journal. Progress that was
// committed before the interruption (evidence, outline versions, finished
// sections) is kept; the run picks up at the first incomplete phase. A run
// that already journaled run_finished is returned as-is.
func (e *Engine) Resume(ctx context.Context, runDir string) (Outcome, error) {
	if e.cfg.RunTimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.RunTimeoutS)*time.Second)
		defer cancel()
	}

	runID := strings.TrimPrefix(filepath.Base(runDir), "run_")
	eventsPath := filepath.Join(runDir, "events.jsonl")
	events := journal.Read(eventsPath)
	if len(events) == 0 {
		return Outcome{}, fmt.Errorf("no replayable events in %s", eventsPath)
	}

	st := &runState{
		runID:    runID,
		dir:      runDir,
		written:  map[string]string{},
		citedIDs: map[string]bool{},
	}

	finished := false
	finishedStatus := ""
	evidenceSeen := 0
	var writtenIDs []string

	for _, ev := range events {
		switch ev.Kind {
		case journal.KindRunStarted:
			if q, ok := ev.Payload["query"].(string); ok {
				st.query = q
			}
		case journal.KindPlannerStep:
			st.plannerSteps++
			if f, ok := floatPayload(ev.Payload["fetches"]); ok && int(f) > st.fetches {
				st.fetches = int(f)
			}
		case journal.KindPlannerTerminated:
			st.plannerDone = true
		case journal.KindOutlineUpdated:
			if v, ok := floatPayload(ev.Payload["version"]); ok && int(v) > st.outlineVersion {
				st.outlineVersion = int(v)
			}
		case journal.KindSectionWritten:
			if id, ok := ev.Payload["section_id"].(string); ok {
				writtenIDs = append(writtenIDs, id)
			}
		case journal.KindEvidenceAdded:
			evidenceSeen++
		case journal.KindRunFinished:
			finished = true
			if s, ok := ev.Payload["status"].(string); ok {
				finishedStatus = s
			}
		}
	}
	// The journal records the fetch count as of each step's start; evidence
	// entries are a floor for fetches made after the last planner_step.
	if evidenceSeen > st.fetches {
		st.fetches = evidenceSeen
	}
	if st.query == "" {
		return Outcome{}, fmt.Errorf("journal has no run_started event with a query")
	}

	if st.outlineVersion > 0 {
		data, err := os.ReadFile(st.outlinePath())
		if err != nil {
			return Outcome{}, fmt.Errorf("outline journaled but unreadable: %w", err)
		}
		st.outline = outline.Parse(string(data))
	}

	for _, id := range writtenIDs {
		data, err := os.ReadFile(st.sectionPath(id))
		if err != nil {
			// The section event committed but its draft did not survive;
			// rewrite the section.
			continue
		}
		st.written[id] = string(data)
		for _, cited := range protocol.ParseFootnoteRefs(string(data)) {
			st.citedIDs[cited] = true
		}
	}

	if finished {
		sections := 0
		if !st.outline.Empty() {
			sections = len(st.outline.SectionsAtLevel(e.cfg.WriteLevel))
		}
		return Outcome{
			RunID:           runID,
			RunDir:          runDir,
			ReportPath:      st.reportPath(),
			OutlinePath:     st.outlinePath(),
			EventsPath:      eventsPath,
			Status:          finishedStatus,
			Sections:        sections,
			SectionsWritten: len(st.written),
		}, nil
	}

	if err := os.MkdirAll(filepath.Join(runDir, "sections"), 0o755); err != nil {
		return Outcome{}, err
	}

	var err error
	st.jr, err = journal.Open(eventsPath, runID)
	if err != nil {
		return Outcome{}, err
	}
	st.bank, err = evidence.Open(filepath.Join(runDir, "evidence_bank"))
	if err != nil {
		st.close()
		return Outcome{}, err
	}
	defer st.close()

	return e.execute(ctx, st)
}

func floatPayload(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
