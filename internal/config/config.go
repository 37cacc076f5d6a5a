// Package config builds the immutable run settings: defaults, then an
// optional YAML file, then environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	// LLM endpoint.
	LLMAPIKey  string `yaml:"llm_api_key"`
	LLMBaseURL string `yaml:"llm_base_url"`
	LLMModel   string `yaml:"llm_model"`

	// Search.
	SearchProvider   string `yaml:"search_provider"`
	SearchAPIKey     string `yaml:"search_api_key"`
	SearchMaxResults int    `yaml:"search_max_results"`

	// Artifacts.
	ArtifactsDir string `yaml:"artifacts_dir"`

	// Planner loop.
	PlannerMaxSteps          int `yaml:"planner_max_steps"`
	PlannerMaxQueriesPerStep int `yaml:"planner_max_queries_per_step"`
	PlannerMaxURLsPerQuery   int `yaml:"planner_max_urls_per_query"`
	PlannerStagnationLimit   int `yaml:"planner_stagnation_limit"`
	PlannerMinEvidence       int `yaml:"planner_min_evidence"`
	PlannerMaxEvidence       int `yaml:"planner_max_evidence"`
	PlannerMaxFetches        int `yaml:"planner_max_fetches"`

	// Writer loop.
	WriteLevel                 int  `yaml:"write_level"`
	WriterMaxStepsPerSection   int  `yaml:"writer_max_steps_per_section"`
	WriterSectionMaxChars      int  `yaml:"writer_section_max_chars"`
	WriterRetrieveTopK         int  `yaml:"writer_retrieve_top_k"`
	WriterSectionMaxEvidences  int  `yaml:"writer_section_max_evidences"`
	WriterToolResponseMaxChars int  `yaml:"writer_tool_response_max_chars"`
	WriterItemsPerEvidence     int  `yaml:"writer_items_per_evidence"`
	WriterAllowEvidenceReuse   bool `yaml:"writer_allow_evidence_reuse"`

	// Protocol.
	MaxProtocolRetries int `yaml:"max_protocol_retries"`

	// Networking.
	FetchConcurrency int    `yaml:"fetch_concurrency"`
	HTTPTimeoutS     int    `yaml:"http_timeout_s"`
	MinBodyChars     int    `yaml:"min_body_chars"`
	HTTPUserAgent    string `yaml:"http_user_agent"`

	// Run.
	RunTimeoutS int `yaml:"run_timeout_s"`
}

func (s *Settings) applyDefaults() {
	if s.LLMModel == "" {
		s.LLMModel = "gpt-4o-mini"
	}
	if s.LLMBaseURL == "" {
		s.LLMBaseURL = "https://api.openai.com"
	}
	if s.SearchProvider == "" {
		s.SearchProvider = "tavily"
	}
	if s.SearchMaxResults <= 0 {
		s.SearchMaxResults = 10
	}
	if s.ArtifactsDir == "" {
		s.ArtifactsDir = "artifacts"
	}
	if s.PlannerMaxSteps <= 0 {
		s.PlannerMaxSteps = 12
	}
	if s.PlannerMaxQueriesPerStep <= 0 {
		s.PlannerMaxQueriesPerStep = 4
	}
	if s.PlannerMaxURLsPerQuery <= 0 {
		s.PlannerMaxURLsPerQuery = 4
	}
	if s.PlannerStagnationLimit <= 0 {
		s.PlannerStagnationLimit = 3
	}
	if s.PlannerMinEvidence <= 0 {
		s.PlannerMinEvidence = 5
	}
	if s.PlannerMaxEvidence <= 0 {
		s.PlannerMaxEvidence = 120
	}
	if s.PlannerMaxFetches <= 0 {
		s.PlannerMaxFetches = 200
	}
	if s.WriteLevel <= 0 {
		s.WriteLevel = 2
	}
	if s.WriterMaxStepsPerSection <= 0 {
		s.WriterMaxStepsPerSection = 18
	}
	if s.WriterSectionMaxChars <= 0 {
		s.WriterSectionMaxChars = 20_000
	}
	if s.WriterRetrieveTopK <= 0 {
		s.WriterRetrieveTopK = 12
	}
	if s.WriterSectionMaxEvidences <= 0 {
		s.WriterSectionMaxEvidences = 12
	}
	if s.WriterToolResponseMaxChars <= 0 {
		s.WriterToolResponseMaxChars = 25_000
	}
	if s.WriterItemsPerEvidence <= 0 {
		s.WriterItemsPerEvidence = 8
	}
	if s.MaxProtocolRetries <= 0 {
		s.MaxProtocolRetries = 3
	}
	if s.FetchConcurrency <= 0 {
		s.FetchConcurrency = 6
	}
	// Keep the pool inside the sane band even when configured outside it.
	if s.FetchConcurrency < 4 {
		s.FetchConcurrency = 4
	}
	if s.FetchConcurrency > 8 {
		s.FetchConcurrency = 8
	}
	if s.HTTPTimeoutS <= 0 {
		s.HTTPTimeoutS = 30
	}
	if s.MinBodyChars <= 0 {
		s.MinBodyChars = 200
	}
	if s.HTTPUserAgent == "" {
		s.HTTPUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
}

// Load builds Settings. configPath may be empty; env always wins over file.
func Load(configPath string) (Settings, error) {
	var s Settings
	s.WriterAllowEvidenceReuse = true

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse config: %w", err)
		}
	}

	overlayEnv(&s)
	s.applyDefaults()
	return s, nil
}

func overlayEnv(s *Settings) {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setStr(&s.LLMAPIKey, "LLM_API_KEY")
	setStr(&s.LLMBaseURL, "LLM_BASE_URL")
	setStr(&s.LLMModel, "LLM_MODEL")
	setStr(&s.SearchAPIKey, "SEARCH_API_KEY")
	setStr(&s.SearchProvider, "SEARCH_PROVIDER")
	setStr(&s.ArtifactsDir, "ARTIFACTS_DIR")
	setInt(&s.SearchMaxResults, "SEARCH_MAX_RESULTS")
	setInt(&s.PlannerMaxSteps, "PLANNER_MAX_STEPS")
	setInt(&s.FetchConcurrency, "FETCH_CONCURRENCY")
	setInt(&s.RunTimeoutS, "RUN_TIMEOUT_S")
}

// Validate checks the minimum required surface for a live run.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.LLMAPIKey) == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	switch strings.ToLower(s.SearchProvider) {
	case "tavily":
		if strings.TrimSpace(s.SearchAPIKey) == "" {
			return fmt.Errorf("SEARCH_API_KEY is required when SEARCH_PROVIDER=tavily")
		}
	case "duckduckgo":
	default:
		return fmt.Errorf("unknown SEARCH_PROVIDER: %s", s.SearchProvider)
	}
	return nil
}
