// Package journal is the append-only run log: one JSON event per line,
// single writer, synced per append so a crash loses at most the line in
// flight.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindRunStarted        Kind = "run_started"
	KindPlannerStep       Kind = "planner_step"
	KindSearchIssued      Kind = "search_issued"
	KindEvidenceAdded     Kind = "evidence_added"
	KindOutlineUpdated    Kind = "outline_updated"
	KindPlannerTerminated Kind = "planner_terminated"
	KindWriterStep        Kind = "writer_step"
	KindSectionRetrieved  Kind = "section_retrieved"
	KindSectionWritten    Kind = "section_written"
	KindWriterTerminated  Kind = "writer_terminated"
	KindError             Kind = "error"
	KindRunFinished       Kind = "run_finished"
)

var knownKinds = map[Kind]bool{
	KindRunStarted:        true,
	KindPlannerStep:       true,
	KindSearchIssued:      true,
	KindEvidenceAdded:     true,
	KindOutlineUpdated:    true,
	KindPlannerTerminated: true,
	KindWriterStep:        true,
	KindSectionRetrieved:  true,
	KindSectionWritten:    true,
	KindWriterTerminated:  true,
	KindError:             true,
	KindRunFinished:       true,
}

func (k Kind) Known() bool { return knownKinds[k] }

type Event struct {
	TS      string         `json:"ts"`
	RunID   string         `json:"run_id"`
	Step    int            `json:"step"`
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Journal owns the step counter for a run. Steps are monotonic across
// process restarts: a reopened journal continues after the last valid line.
type Journal struct {
	runID string
	path  string

	mu   sync.Mutex
	file *os.File
	step int
}

// Open creates or reopens the journal at path. Existing valid lines seed the
// step counter; a truncated tail is ignored.
func Open(path, runID string) (*Journal, error) {
	j := &Journal{runID: runID, path: path}
	for _, ev := range Read(path) {
		if ev.Step > j.step {
			j.step = ev.Step
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	j.file = f
	return j, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Append journals one event and returns it. The write is synced before the
// step counter is considered advanced.
func (j *Journal) Append(kind Kind, payload map[string]any) (Event, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return Event{}, fmt.Errorf("journal closed")
	}
	ev := Event{
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		RunID:   j.runID,
		Step:    j.step + 1,
		Kind:    kind,
		Payload: payload,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, err
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return Event{}, fmt.Errorf("sync event: %w", err)
	}
	j.step = ev.Step
	return ev, nil
}

// Step returns the last committed step number.
func (j *Journal) Step() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.step
}

// Read loads every decodable event from path in order. Blank lines, corrupt
// lines, and the truncated tail a crash may leave are skipped. Events with
// unknown kinds are kept; replay logic ignores kinds it does not handle.
func Read(path string) []Event {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []Event
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Kind == "" {
			continue
		}
		out = append(out, ev)
	}
	return out
}
