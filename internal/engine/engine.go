// Package engine orchestrates a research run end to end: planner loop,
// outline fallback and judgement, writer loop, report assembly. Every state
// transition is journaled so a crashed run can be resumed.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/config"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/evidence"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/fetch"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/journal"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/outline"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/research"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/search"
)

const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

type Engine struct {
	cfg        config.Settings
	caller     *research.Caller
	planner    *research.Planner
	writer     *research.Writer
	urlFilter  *research.URLFilter
	summarizer *research.Summarizer
	extractor  *research.Extractor
	provider   search.Provider
	fetcher    *fetch.Fetcher
	pool       *fetch.Pool
	judge      *Judge
}

func New(cfg config.Settings, client *llm.Client, provider search.Provider) *Engine {
	caller := research.NewCaller(client, "", cfg.LLMModel)
	return &Engine{
		cfg:        cfg,
		caller:     caller,
		planner:    research.NewPlanner(caller, cfg.MaxProtocolRetries),
		writer:     research.NewWriter(caller, cfg.MaxProtocolRetries),
		urlFilter:  research.NewURLFilter(caller),
		summarizer: research.NewSummarizer(caller),
		extractor:  research.NewExtractor(caller),
		provider:   provider,
		fetcher: fetch.NewFetcher(fetch.Config{
			TimeoutS:     cfg.HTTPTimeoutS,
			UserAgent:    cfg.HTTPUserAgent,
			MinBodyChars: cfg.MinBodyChars,
		}),
		pool:  fetch.NewPool(cfg.FetchConcurrency),
		judge: NewJudge(caller),
	}
}

// Outcome summarizes a finished (or partially finished) run.
type Outcome struct {
	RunID           string
	RunDir          string
	ReportPath      string
	OutlinePath     string
	EventsPath      string
	Status          string
	Sections        int
	SectionsWritten int
}

// runState carries everything a run accumulates. Resume rebuilds it from the
// journal and the on-disk artifacts before handing it back to execute.
type runState struct {
	runID string
	dir   string
	query string

	jr   *journal.Journal
	bank *evidence.Bank

	outline        *outline.Outline
	outlineVersion int
	plannerSteps   int
	plannerDone    bool

	written  map[string]string // section node id -> draft body
	citedIDs map[string]bool   // evidence cited by sealed sections
	fetches  int
	partial  bool
}

func (s *runState) close() {
	if s.jr != nil {
		_ = s.jr.Close()
	}
	if s.bank != nil {
		_ = s.bank.Close()
	}
}

func (s *runState) outlinePath() string { return filepath.Join(s.dir, "outline.md") }
func (s *runState) reportPath() string  { return filepath.Join(s.dir, "report.md") }
func (s *runState) eventsPath() string  { return filepath.Join(s.dir, "events.jsonl") }
func (s *runState) sectionPath(nodeID string) string {
	return filepath.Join(s.dir, "sections", nodeID+".md")
}

// NewRunID builds a readable, collision-safe run id.
func NewRunID(now time.Time) string {
	ts := now.UTC().Format("20060102T150405Z")
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return ts + "_" + suffix
}

// Run executes a fresh research run for query and returns its outcome.
// Degraded steps (failed searches, rejected pages, malformed model output)
// are journaled and skipped; only infrastructure failures return an error.
func (e *Engine) Run(ctx context.Context, query string) (Outcome, error) {
	if e.cfg.RunTimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.RunTimeoutS)*time.Second)
		defer cancel()
	}

	runID := NewRunID(time.Now())
	dir := filepath.Join(e.cfg.ArtifactsDir, "run_"+runID)
	if err := os.MkdirAll(filepath.Join(dir, "sections"), 0o755); err != nil {
		return Outcome{}, fmt.Errorf("prepare run dir: %w", err)
	}

	st := &runState{
		runID:    runID,
		dir:      dir,
		query:    query,
		written:  map[string]string{},
		citedIDs: map[string]bool{},
	}
	defer st.close()

	var err error
	st.jr, err = journal.Open(st.eventsPath(), runID)
	if err != nil {
		return Outcome{}, err
	}
	st.bank, err = evidence.Open(filepath.Join(dir, "evidence_bank"))
	if err != nil {
		return Outcome{}, err
	}

	if _, err := st.jr.Append(journal.KindRunStarted, map[string]any{"query": query}); err != nil {
		return Outcome{}, err
	}
	return e.execute(ctx, st)
}

// execute runs the remaining phases of st, whether st is fresh or replayed.
func (e *Engine) execute(ctx context.Context, st *runState) (Outcome, error) {
	if !st.plannerDone {
		if err := e.plannerPhase(ctx, st); err != nil {
			return Outcome{}, err
		}
	}

	if st.bank.Count() == 0 {
		if st.outline.Empty() {
			return e.finishInsufficient(st)
		}
		// An outline with nothing to cite still yields prose sections, but
		// the run cannot claim completeness.
		st.partial = true
	}

	if st.outline.Empty() {
		e.outlineFallback(ctx, st)
	}
	e.judgeOutline(ctx, st)

	if err := e.writerPhase(ctx, st); err != nil {
		return Outcome{}, err
	}
	return e.finish(st)
}

// finishInsufficient closes out a run whose planner ended with an empty bank.
// The report says so explicitly instead of sending the writer to work with
// nothing to cite.
func (e *Engine) finishInsufficient(st *runState) (Outcome, error) {
	st.partial = true
	if st.outline.Empty() {
		shell := fmt.Sprintf("# %s\n\n## Findings\n", strings.TrimSpace(st.query))
		if !e.commitOutline(st, shell) {
			st.outline = outline.Parse(shell)
			st.outlineVersion++
		}
	}
	for i, sec := range st.outline.SectionsAtLevel(e.cfg.WriteLevel) {
		if _, done := st.written[sec.Node.ID]; done {
			continue
		}
		draft := "Insufficient evidence gathered."
		st.written[sec.Node.ID] = draft
		if err := writeFileAtomic(st.sectionPath(sec.Node.ID), []byte(draft)); err != nil {
			e.logError(st, "writer", err)
		}
		_, _ = st.jr.Append(journal.KindSectionWritten, map[string]any{
			"section_id": sec.Node.ID,
			"title":      sec.Node.Title,
			"index":      i + 1,
			"chars":      len(draft),
			"citations":  0,
		})
	}
	return e.finish(st)
}

// plannerPhase alternates search and outline refinement until termination.
func (e *Engine) plannerPhase(ctx context.Context, st *runState) error {
	stagnant := 0

	for ; st.plannerSteps < e.cfg.PlannerMaxSteps; st.plannerSteps++ {
		if ctx.Err() != nil {
			st.partial = true
			e.logError(st, "planner", ctx.Err())
			return nil
		}
		stepNum := st.plannerSteps + 1
		if _, err := st.jr.Append(journal.KindPlannerStep, map[string]any{
			"step": stepNum, "max_steps": e.cfg.PlannerMaxSteps, "fetches": st.fetches,
		}); err != nil {
			return err
		}

		if st.bank.Count() >= e.cfg.PlannerMaxEvidence && !st.outline.Empty() {
			st.plannerDone = true
			_, err := st.jr.Append(journal.KindPlannerTerminated, map[string]any{"reason": "evidence_budget"})
			return err
		}

		action, err := e.planner.Step(ctx, research.PlannerInputs{
			Query:     st.query,
			Outline:   st.outline,
			Evidence:  st.bank.All(),
			StepIndex: st.plannerSteps,
			MaxSteps:  e.cfg.PlannerMaxSteps,
		})
		if err != nil {
			if ctx.Err() != nil {
				st.partial = true
				e.logError(st, "planner", err)
				return nil
			}
			e.logError(st, "planner", err)
			return fmt.Errorf("planner step %d: %w", stepNum, err)
		}

		if term, ok := action.(protocol.TerminateAction); ok {
			if st.outline.Empty() {
				// Early termination with no outline leaves the writer nothing
				// to work from; demote it to a conservative search.
				action = protocol.SearchAction{
					Queries: []string{st.query},
					Goal:    "collect initial evidence for the research outline",
				}
			} else {
				st.plannerDone = true
				_, err := st.jr.Append(journal.KindPlannerTerminated, map[string]any{"reason": term.Reason})
				return err
			}
		}

		switch a := action.(type) {
		case protocol.WriteOutlineAction:
			if e.commitOutline(st, a.OutlineText) {
				stagnant = 0
			} else {
				stagnant++
			}
		case protocol.SearchAction:
			added := e.runSearch(ctx, st, a)
			if added > 0 {
				stagnant = 0
			} else {
				stagnant++
			}
		}

		if stagnant >= e.cfg.PlannerStagnationLimit {
			st.plannerDone = true
			_, err := st.jr.Append(journal.KindPlannerTerminated, map[string]any{"reason": "stagnation"})
			return err
		}
	}

	st.plannerDone = true
	_, err := st.jr.Append(journal.KindPlannerTerminated, map[string]any{"reason": "step_limit"})
	return err
}

// commitOutline validates and persists a new outline version. An outline
// citing unknown evidence ids is rejected; the planner sees the unchanged
// outline next step.
func (e *Engine) commitOutline(st *runState, text string) bool {
	o := outline.Parse(text)
	if o.Empty() {
		e.logError(st, "outline", fmt.Errorf("outline parse produced no sections"))
		return false
	}
	if err := o.Validate(st.bank.Has); err != nil {
		e.logError(st, "outline", err)
		return false
	}
	st.outline = o
	st.outlineVersion++
	if err := writeFileAtomic(st.outlinePath(), []byte(o.Render())); err != nil {
		e.logError(st, "outline", err)
	}
	_, _ = st.jr.Append(journal.KindOutlineUpdated, map[string]any{
		"version":  st.outlineVersion,
		"sections": len(o.Nodes),
	})
	return true
}

type fetchOutcome struct {
	url     string
	draft   *evidence.Draft
	skipped string
	err     error
}

// runSearch executes one search action: search, filter, fetch concurrently,
// summarize, extract, and bank the survivors. Returns how many evidence
// entries were newly added.
func (e *Engine) runSearch(ctx context.Context, st *runState, action protocol.SearchAction) int {
	added := 0
	queries := action.Queries
	if len(queries) > e.cfg.PlannerMaxQueriesPerStep {
		queries = queries[:e.cfg.PlannerMaxQueriesPerStep]
	}

	for _, q := range queries {
		if ctx.Err() != nil {
			return added
		}
		_, _ = st.jr.Append(journal.KindSearchIssued, map[string]any{"query": q, "goal": action.Goal})

		results, err := e.provider.Search(ctx, q, e.cfg.SearchMaxResults)
		if err != nil {
			e.logError(st, "search", err)
			continue
		}
		if len(results) == 0 {
			continue
		}

		selected, err := e.urlFilter.SelectURLs(ctx, q, results, e.cfg.PlannerMaxURLsPerQuery)
		if err != nil {
			e.logError(st, "url_filter", err)
			selected = results
			if len(selected) > e.cfg.PlannerMaxURLsPerQuery {
				selected = selected[:e.cfg.PlannerMaxURLsPerQuery]
			}
		}
		if remaining := e.cfg.PlannerMaxFetches - st.fetches; remaining <= 0 {
			return added
		} else if len(selected) > remaining {
			selected = selected[:remaining]
		}
		st.fetches += len(selected)

		outcomes := fetch.Map(ctx, e.pool, selected, func(ctx context.Context, r search.Result) fetchOutcome {
			return e.processURL(ctx, st.query, q, r)
		})

		for _, out := range outcomes {
			if out.err != nil {
				e.logError(st, "fetch", out.err)
				continue
			}
			if out.draft == nil {
				continue
			}
			if st.bank.Count() >= e.cfg.PlannerMaxEvidence {
				return added
			}
			ev, isNew, err := st.bank.Add(*out.draft)
			if err != nil {
				e.logError(st, "evidence", err)
				continue
			}
			_, _ = st.jr.Append(journal.KindEvidenceAdded, map[string]any{
				"evidence_id": ev.ID,
				"url":         ev.Source.URL,
				"new":         isNew,
			})
			if isNew {
				added++
			}
		}
	}
	return added
}

// processURL runs inside the fetch pool: fetch, summarize, extract. A nil
// draft with empty error means the page was skipped on purpose.
func (e *Engine) processURL(ctx context.Context, runQuery, stepQuery string, r search.Result) fetchOutcome {
	page, err := e.fetcher.Fetch(ctx, r.URL)
	if err != nil {
		return fetchOutcome{url: r.URL, err: err}
	}

	summary, err := e.summarizer.Summarize(ctx, runQuery, page.Text)
	if err != nil {
		return fetchOutcome{url: r.URL, err: err}
	}
	if research.NotRelevant(summary) {
		return fetchOutcome{url: r.URL, skipped: "not relevant"}
	}

	items, err := e.extractor.Extract(ctx, runQuery, page.Text, 8)
	if err != nil {
		return fetchOutcome{url: r.URL, err: err}
	}

	title := page.Title
	if title == "" {
		title = r.Title
	}
	return fetchOutcome{
		url: r.URL,
		draft: &evidence.Draft{
			Query: stepQuery,
			Source: evidence.Source{
				URL:         page.URL,
				Title:       title,
				RetrievedAt: time.Now().UTC(),
			},
			Summary: summary,
			Items:   items,
			RawText: page.Text,
		},
	}
}

// outlineFallback covers planner loops that never committed an outline:
// first a one-shot LLM generation, then a minimal shell.
func (e *Engine) outlineFallback(ctx context.Context, st *runState) {
	text, err := research.GenerateFallbackOutline(ctx, e.caller, st.query, st.bank.All())
	if err == nil {
		if e.commitOutline(st, text) {
			return
		}
	} else {
		e.logError(st, "outline_fallback", err)
	}

	shell := fmt.Sprintf("# %s\n\n## Findings\n\n## References\n", strings.TrimSpace(st.query))
	if !e.commitOutline(st, shell) {
		// Shell has no citations and at least one section; commit cannot
		// reject it unless the disk write failed, which logError captured.
		st.outline = outline.Parse(shell)
		st.outlineVersion++
	}
}

// judgeOutline scores the final outline. Best-effort: failures are journaled
// and the run continues.
func (e *Engine) judgeOutline(ctx context.Context, st *runState) {
	if st.outline.Empty() || e.judge == nil {
		return
	}
	path := filepath.Join(st.dir, "outline_judgement.json")
	result, err := e.judge.Evaluate(ctx, st.query, st.outline.Render())
	if err != nil {
		e.logError(st, "outline_judge", err)
		if werr := WriteJudgeError(path, err); werr != nil {
			e.logError(st, "outline_judge", werr)
		}
		return
	}
	if err := result.WriteFile(path); err != nil {
		e.logError(st, "outline_judge", err)
	}
}

func (e *Engine) logError(st *runState, stage string, err error) {
	_, _ = st.jr.Append(journal.KindError, map[string]any{
		"stage":   stage,
		"message": err.Error(),
	})
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
