package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/floegence/reposcout/internal/ai"
	"github.com/floegence/reposcout/internal/ai/tools"
	"github.com/floegence/reposcout/internal/repo"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLoad_FileThenDefaults(t *testing.T) {
	p := writeConfig(t, `
state_dir: /tmp/rs
log_format: json
ai:
  provider: openai
  model: gpt-5
  max_iterations: 12
  temperature: 0.5
github:
  requests_per_second: 2.5
  max_retries: 5
limits:
  max_file_bytes: 4096
stream:
  keep_alive: 5s
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateDir != "/tmp/rs" || cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Fatalf("top-level=%+v", cfg)
	}
	if cfg.AI.Provider != "openai" || cfg.AI.Model != "gpt-5" || cfg.AI.MaxIterations != 12 || cfg.AI.MaxOutputTokens != ai.DefaultMaxOutputTokens {
		t.Fatalf("ai=%+v", cfg.AI)
	}
	if cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.5 {
		t.Fatalf("temperature=%v", cfg.AI.Temperature)
	}
	if cfg.Stream.KeepAlive != 5*time.Second {
		t.Fatalf("keep_alive=%s, want=5s", cfg.Stream.KeepAlive)
	}
	if got := cfg.ToolLimits(); got.MaxFileBytes != 4096 || got.MaxListEntries != 0 {
		t.Fatalf("limits=%+v", got)
	}
	gh := cfg.GitHubOptions()
	if gh.RequestsPerSecond != 2.5 || gh.Retry.MaxRetries != 5 {
		t.Fatalf("github=%+v", gh)
	}
	if cfg.SessionDBPath() != "/tmp/rs/sessions.sqlite" {
		t.Fatalf("db path=%q", cfg.SessionDBPath())
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "ai:\n  model: from-file\nlog_level: warn\n")
	t.Setenv("REPOSCOUT_AI_MODEL", "from-env")
	t.Setenv("REPOSCOUT_AI_MAX_ITERATIONS", "7")
	t.Setenv("REPOSCOUT_LOG_LEVEL", "debug")
	t.Setenv("REPOSCOUT_STATE_DIR", "/var/lib/reposcout")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AI.Model != "from-env" || cfg.AI.MaxIterations != 7 {
		t.Fatalf("ai=%+v", cfg.AI)
	}
	if cfg.LogLevel != "debug" || cfg.StateDir != "/var/lib/reposcout" {
		t.Fatalf("log_level=%q state_dir=%q", cfg.LogLevel, cfg.StateDir)
	}
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"provider":          "ai:\n  provider: gemini\n",
		"compatible_no_url": "ai:\n  provider: openai_compatible\n",
		"bad_url":           "ai:\n  provider: openai\n  base_url: ftp://x\n",
		"iterations":        "ai:\n  max_iterations: 1000\n",
		"temperature":       "ai:\n  temperature: 3\n",
		"log_format":        "log_format: xml\n",
		"limits":            "limits:\n  max_file_bytes: -1\n",
		"retries":           "github:\n  max_retries: 99\n",
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error for %q", body)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"REPOSCOUT_AI_MAX_OUTPUT_TOKENS":         "ai.max_output_tokens",
		"REPOSCOUT_GITHUB_REQUESTS_PER_SECOND":   "github.requests_per_second",
		"REPOSCOUT_LOG_FORMAT":                   "log_format",
		"REPOSCOUT_STATE_DIR":                    "state_dir",
		"REPOSCOUT_STREAM_KEEP_ALIVE":            "stream.keep_alive",
		"REPOSCOUT_LIMITS_DEFAULT_SEARCH_RESULTS": "limits.default_search_results",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Fatalf("envKey(%q)=%q, want=%q", in, got, want)
		}
	}
}

func TestAIConfig_SessionDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	d := cfg.AI.SessionDefaults()
	if d.Model != ai.DefaultModel || d.MaxIterations != ai.DefaultMaxIterations || d.Temperature == nil {
		t.Fatalf("defaults=%+v", d)
	}
	pc := cfg.AI.ProviderConfig("sk-test")
	if pc.Type != ai.ProviderAnthropic || pc.APIKey != "sk-test" {
		t.Fatalf("provider config=%+v", pc)
	}
	if !strings.HasSuffix(DefaultConfigPath(), "config.yaml") {
		t.Fatalf("default path=%q", DefaultConfigPath())
	}
}

func TestToolLimits_DefaultsKeepSearchContext(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{"a.ts": "import x\nhit\nconst y = 1\n"})
	gw.SearchErr = repo.ErrRateLimited
	ex, err := tools.NewExecutor(tools.ExecutorOptions{
		Gateway: gw,
		Ref:     repo.Ref{Owner: "acme", Repo: "widgets"},
		Limits:  Default().ToolLimits(),
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	out, err := ex.Execute(context.Background(), tools.CapSearchCode, map[string]any{"query": "hit"})
	if err != nil {
		t.Fatalf("search_code: %v", err)
	}
	res := out.(tools.SearchCodeResult)
	if len(res.Results) != 1 {
		t.Fatalf("results=%+v", res.Results)
	}
	want := []string{"1: import x", "2: hit", "3: const y = 1"}
	if diff := cmp.Diff(want, res.Results[0].Context); diff != "" {
		t.Fatalf("context (-want +got):\n%s", diff)
	}
}
