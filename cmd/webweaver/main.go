package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/config"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/engine"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/journal"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/llm/openaicompat"
	"github.com/VanGongwanxiaowan/WebWeaver1/internal/search"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "continue":
		cmdContinue(os.Args[2:])
	case "replay":
		cmdReplay(os.Args[2:])
	case "list":
		cmdList(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  webweaver run [--config <file.yaml>] [--artifacts <dir>] [--query-file <path>] [-o <out.md>] [<query...>]")
	fmt.Fprintln(os.Stderr, "  webweaver continue [--config <file.yaml>] [--artifacts <dir>] <run_id|run_dir>")
	fmt.Fprintln(os.Stderr, "  webweaver replay [--artifacts <dir>] [--pretty] <run_id|run_dir>")
	fmt.Fprintln(os.Stderr, "  webweaver list [--artifacts <dir>]")
}

func cmdRun(args []string) {
	var configPath string
	var artifactsDir string
	var queryFile string
	var outPath string
	var queryParts []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--artifacts":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--artifacts requires a value")
				os.Exit(1)
			}
			artifactsDir = args[i]
		case "--query-file":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--query-file requires a value")
				os.Exit(1)
			}
			queryFile = args[i]
		case "-o", "--out":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "-o requires a value")
				os.Exit(1)
			}
			outPath = args[i]
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
				os.Exit(1)
			}
			queryParts = append(queryParts, args[i])
		}
	}

	query, err := loadQuery(queryParts, queryFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(1)
	}

	eng, err := buildEngine(configPath, artifactsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out, err := eng.Run(signalContext(), query)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if outPath != "" {
		if err := copyFile(out.ReportPath, outPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	printOutcome(out)
	os.Exit(exitCode(out.Status))
}

// loadQuery resolves the run query from positional words or a query file;
// exactly one source must be given.
func loadQuery(parts []string, file string) (string, error) {
	positional := strings.TrimSpace(strings.Join(parts, " "))
	if file != "" {
		if positional != "" {
			return "", fmt.Errorf("give either a query or --query-file, not both")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		q := strings.TrimSpace(string(data))
		if q == "" {
			return "", fmt.Errorf("query file %s is empty", file)
		}
		return q, nil
	}
	if positional == "" {
		return "", fmt.Errorf("a query is required")
	}
	return positional, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func cmdContinue(args []string) {
	var configPath string
	var artifactsDir string
	var runRef string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--artifacts":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--artifacts requires a value")
				os.Exit(1)
			}
			artifactsDir = args[i]
		case "--run":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--run requires a value")
				os.Exit(1)
			}
			runRef = args[i]
		default:
			if strings.HasPrefix(args[i], "-") || runRef != "" {
				fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
				os.Exit(1)
			}
			runRef = args[i]
		}
	}
	if runRef == "" {
		usage()
		os.Exit(1)
	}

	eng, err := buildEngine(configPath, artifactsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := mustSettings(configPath, artifactsDir)

	out, err := eng.Resume(signalContext(), resolveRunDir(cfg.ArtifactsDir, runRef))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printOutcome(out)
	os.Exit(exitCode(out.Status))
}

func cmdReplay(args []string) {
	var artifactsDir string
	var runRef string
	var pretty bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--artifacts":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--artifacts requires a value")
				os.Exit(1)
			}
			artifactsDir = args[i]
		case "--run":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--run requires a value")
				os.Exit(1)
			}
			runRef = args[i]
		case "--pretty":
			pretty = true
		default:
			if strings.HasPrefix(args[i], "-") || runRef != "" {
				fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
				os.Exit(1)
			}
			runRef = args[i]
		}
	}
	if runRef == "" {
		usage()
		os.Exit(1)
	}
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir()
	}

	runDir := resolveRunDir(artifactsDir, runRef)
	events := journal.Read(filepath.Join(runDir, "events.jsonl"))
	if len(events) == 0 {
		fmt.Fprintf(os.Stderr, "no events found in %s\n", runDir)
		os.Exit(1)
	}
	for _, ev := range events {
		if pretty {
			fmt.Printf("%4d  %s  %s  %s\n", ev.Step, ev.TS, colorKind(ev.Kind), summarizePayload(ev))
		} else {
			fmt.Println(marshalEvent(ev))
		}
	}
	os.Exit(0)
}

// marshalEvent renders one journal event as its JSON line.
func marshalEvent(ev journal.Event) string {
	data, err := json.Marshal(ev)
	if err != nil {
		return ""
	}
	return string(data)
}

func cmdList(args []string) {
	var artifactsDir string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--artifacts":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--artifacts requires a value")
				os.Exit(1)
			}
			artifactsDir = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir()
	}

	matches, err := doublestar.Glob(os.DirFS(artifactsDir), "run_*/events.jsonl")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		fmt.Println("no runs")
		os.Exit(0)
	}

	for _, m := range matches {
		runID := strings.TrimPrefix(filepath.Dir(m), "run_")
		query, status := runSummary(filepath.Join(artifactsDir, m))
		fmt.Printf("%s  %-10s  %s\n", runID, colorStatus(status), query)
	}
	os.Exit(0)
}

func buildEngine(configPath, artifactsDir string) (*engine.Engine, error) {
	cfg := mustSettings(configPath, artifactsDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := llm.NewClient()
	client.Register(openaicompat.NewAdapter(openaicompat.Config{
		Provider: "openai",
		APIKey:   cfg.LLMAPIKey,
		BaseURL:  cfg.LLMBaseURL,
	}))

	provider, err := search.NewProvider(search.Config{
		Provider:  cfg.SearchProvider,
		APIKey:    cfg.SearchAPIKey,
		TimeoutS:  cfg.HTTPTimeoutS,
		UserAgent: cfg.HTTPUserAgent,
	})
	if err != nil {
		return nil, err
	}
	return engine.New(cfg, client, provider), nil
}

func mustSettings(configPath, artifactsDir string) config.Settings {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if artifactsDir != "" {
		cfg.ArtifactsDir = artifactsDir
	}
	return cfg
}

func defaultArtifactsDir() string {
	cfg, err := config.Load("")
	if err != nil {
		return "artifacts"
	}
	return cfg.ArtifactsDir
}

// resolveRunDir accepts either a run directory path or a bare run id under
// the artifacts dir.
func resolveRunDir(artifactsDir, ref string) string {
	if info, err := os.Stat(ref); err == nil && info.IsDir() {
		return ref
	}
	ref = strings.TrimPrefix(ref, "run_")
	return filepath.Join(artifactsDir, "run_"+ref)
}

// signalContext cancels on SIGINT/SIGTERM so an interrupted run still
// journals its partial state and can be continued later.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}

func printOutcome(out engine.Outcome) {
	fmt.Printf("run_id=%s\n", out.RunID)
	fmt.Printf("run_dir=%s\n", out.RunDir)
	fmt.Printf("report=%s\n", out.ReportPath)
	fmt.Printf("outline=%s\n", out.OutlinePath)
	fmt.Printf("sections=%d/%d\n", out.SectionsWritten, out.Sections)
	fmt.Printf("status=%s\n", colorStatus(out.Status))
}

func exitCode(status string) int {
	if status == engine.StatusComplete {
		return 0
	}
	return 2
}

func colorStatus(status string) string {
	switch status {
	case engine.StatusComplete:
		return color.GreenString(status)
	case engine.StatusPartial:
		return color.YellowString(status)
	case "":
		return color.YellowString("in-progress")
	default:
		return status
	}
}

func colorKind(kind journal.Kind) string {
	s := fmt.Sprintf("%-18s", string(kind))
	switch kind {
	case journal.KindError:
		return color.RedString(s)
	case journal.KindRunStarted, journal.KindRunFinished:
		return color.CyanString(s)
	case journal.KindOutlineUpdated, journal.KindSectionWritten:
		return color.GreenString(s)
	default:
		return s
	}
}

func summarizePayload(ev journal.Event) string {
	switch ev.Kind {
	case journal.KindRunStarted:
		return asString(ev.Payload["query"])
	case journal.KindSearchIssued:
		return asString(ev.Payload["query"])
	case journal.KindEvidenceAdded:
		return asString(ev.Payload["evidence_id"]) + " " + asString(ev.Payload["url"])
	case journal.KindOutlineUpdated:
		return fmt.Sprintf("version=%v", ev.Payload["version"])
	case journal.KindPlannerTerminated, journal.KindWriterTerminated:
		return asString(ev.Payload["reason"])
	case journal.KindSectionRetrieved:
		return fmt.Sprintf("%s count=%v", asString(ev.Payload["section_id"]), ev.Payload["count"])
	case journal.KindSectionWritten:
		return fmt.Sprintf("%s %q", asString(ev.Payload["section_id"]), asString(ev.Payload["title"]))
	case journal.KindError:
		return asString(ev.Payload["stage"]) + ": " + asString(ev.Payload["message"])
	case journal.KindRunFinished:
		return fmt.Sprintf("status=%v sections=%v", ev.Payload["status"], ev.Payload["sections_written"])
	default:
		return ""
	}
}

// runSummary pulls the query and final status out of a journal without
// replaying it.
func runSummary(eventsPath string) (query, status string) {
	for _, ev := range journal.Read(eventsPath) {
		switch ev.Kind {
		case journal.KindRunStarted:
			query = asString(ev.Payload["query"])
		case journal.KindRunFinished:
			status = asString(ev.Payload["status"])
		}
	}
	return query, status
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
