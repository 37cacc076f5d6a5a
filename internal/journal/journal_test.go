package journal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppend_MonotonicSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j, err := Open(path, "run-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	e1, err := j.Append(KindRunStarted, map[string]any{"query": "q"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	e2, _ := j.Append(KindPlannerStep, nil)
	if e1.Step != 1 || e2.Step != 2 {
		t.Fatalf("steps: %d %d", e1.Step, e2.Step)
	}
	if e1.RunID != "run-1" || e1.TS == "" {
		t.Fatalf("event fields: %+v", e1)
	}
}

func TestReopen_ContinuesAfterLastValidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j, err := Open(path, "run-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = j.Append(KindRunStarted, nil)
	_, _ = j.Append(KindPlannerStep, nil)
	j.Close()

	// Crash mid-append leaves a truncated tail.
	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	_, _ = f.WriteString(`{"ts":"2025-01-01T00:00:00Z","run_id":"run-1","step":3,"ki`)
	f.Close()

	j2, err := Open(path, "run-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	ev, err := j2.Append(KindEvidenceAdded, map[string]any{"id": "ev_0001"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.Step != 3 {
		t.Fatalf("step after reopen: %d want 3", ev.Step)
	}

	events := Read(path)
	if len(events) != 3 {
		t.Fatalf("read: %d events want 3", len(events))
	}
	if events[2].Kind != KindEvidenceAdded {
		t.Fatalf("last kind: %s", events[2].Kind)
	}
}

func TestRead_SkipsCorruptKeepsUnknownKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"ts":"t","run_id":"r","step":1,"kind":"run_started","payload":{}}
not json at all
{"ts":"t","run_id":"r","step":2,"kind":"future_kind","payload":{}}

{"ts":"t","run_id":"r","step":3,"kind":"run_finished","payload":{"status":"ok"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := Read(path)
	if len(events) != 3 {
		t.Fatalf("events: %d want 3", len(events))
	}
	if events[1].Kind.Known() {
		t.Fatalf("future_kind must be unknown")
	}
	if !events[0].Kind.Known() || !events[2].Kind.Known() {
		t.Fatalf("known kinds misclassified")
	}
}

func TestRead_MissingFile(t *testing.T) {
	if events := Read(filepath.Join(t.TempDir(), "absent.jsonl")); events != nil {
		t.Fatalf("missing file must read empty, got %v", events)
	}
}
