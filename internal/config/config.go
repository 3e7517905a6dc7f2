package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/floegence/reposcout/internal/ai/tools"
	"github.com/floegence/reposcout/internal/repo"
)

// Config is the on-disk configuration for reposcout.
//
// NOTE: API keys and tokens never live here; see settings.SecretsStore.
type Config struct {
	// StateDir holds the session database, audit log and secrets file.
	// If empty, ~/.reposcout is used.
	StateDir string `koanf:"state_dir"`

	// LogFormat is "json", "text" or "auto".
	LogFormat string `koanf:"log_format"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `koanf:"log_level"`

	AI     AIConfig     `koanf:"ai"`
	GitHub GitHubConfig `koanf:"github"`
	Limits LimitsConfig `koanf:"limits"`
	Stream StreamConfig `koanf:"stream"`
	Server ServerConfig `koanf:"server"`
}

type GitHubConfig struct {
	// BaseURL overrides the REST endpoint for GitHub Enterprise.
	BaseURL           string  `koanf:"base_url"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
	MaxRetries        int     `koanf:"max_retries"`
}

// LimitsConfig caps capability results. Zero values take the executor defaults.
type LimitsConfig struct {
	MaxListEntries       int `koanf:"max_list_entries"`
	MaxListDepth         int `koanf:"max_list_depth"`
	MaxFileBytes         int `koanf:"max_file_bytes"`
	DefaultSearchResults int `koanf:"default_search_results"`
	MaxSearchResults     int `koanf:"max_search_results"`
	MaxScanFiles         int `koanf:"max_scan_files"`
	ContextLines         int `koanf:"context_lines"`
}

type StreamConfig struct {
	// KeepAlive is the idle interval after which SSE streams emit a comment frame.
	KeepAlive time.Duration `koanf:"keep_alive"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

const (
	defaultLogFormat  = "auto"
	defaultLogLevel   = "info"
	defaultKeepAlive  = 15 * time.Second
	defaultServerAddr = "127.0.0.1:8787"
)

func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.StateDir) == "" {
		cfg.StateDir = DefaultStateDir()
	}
	if strings.TrimSpace(cfg.LogFormat) == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Stream.KeepAlive <= 0 {
		cfg.Stream.KeepAlive = defaultKeepAlive
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = defaultServerAddr
	}
	cfg.AI.applyDefaults()
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text", "auto":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("invalid ai: %w", err)
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid github.requests_per_second %v", c.GitHub.RequestsPerSecond)
	}
	if c.GitHub.MaxRetries < 0 || c.GitHub.MaxRetries > 10 {
		return fmt.Errorf("invalid github.max_retries %d (must be in [0,10])", c.GitHub.MaxRetries)
	}
	if base := strings.TrimSpace(c.GitHub.BaseURL); base != "" {
		if err := validateHTTPURL(base); err != nil {
			return fmt.Errorf("invalid github.base_url: %w", err)
		}
	}
	l := c.Limits
	for name, v := range map[string]int{
		"max_list_entries":       l.MaxListEntries,
		"max_list_depth":         l.MaxListDepth,
		"max_file_bytes":         l.MaxFileBytes,
		"default_search_results": l.DefaultSearchResults,
		"max_search_results":     l.MaxSearchResults,
		"max_scan_files":         l.MaxScanFiles,
		"context_lines":          l.ContextLines,
	} {
		if v < 0 {
			return fmt.Errorf("invalid limits.%s %d (must be >= 0)", name, v)
		}
	}
	if c.Stream.KeepAlive < 0 {
		return fmt.Errorf("invalid stream.keep_alive %s", c.Stream.KeepAlive)
	}
	return nil
}

// ToolLimits maps the limits section onto the capability executor.
func (c *Config) ToolLimits() tools.Limits {
	l := c.Limits
	return tools.Limits{
		MaxListEntries:       l.MaxListEntries,
		MaxListDepth:         l.MaxListDepth,
		MaxFileBytes:         l.MaxFileBytes,
		DefaultSearchResults: l.DefaultSearchResults,
		MaxSearchResults:     l.MaxSearchResults,
		MaxScanFiles:         l.MaxScanFiles,
		ContextLines:         l.ContextLines,
	}
}

// GitHubOptions maps the github section onto gateway options. The token and
// logger are supplied by the caller.
func (c *Config) GitHubOptions() repo.GitHubOptions {
	retry := repo.DefaultRetryConfig()
	if c.GitHub.MaxRetries > 0 {
		retry.MaxRetries = c.GitHub.MaxRetries
	}
	return repo.GitHubOptions{
		BaseURL:           strings.TrimSpace(c.GitHub.BaseURL),
		RequestsPerSecond: c.GitHub.RequestsPerSecond,
		Burst:             c.GitHub.Burst,
		Retry:             retry,
	}
}

func (c *Config) SessionDBPath() string {
	return filepath.Join(c.StateDir, "sessions.sqlite")
}

func (c *Config) SecretsPath() string {
	return filepath.Join(c.StateDir, "secrets.json")
}

// DefaultStateDir returns ~/.reposcout, or a relative directory when the
// home directory is unknown.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".reposcout"
	}
	return filepath.Join(home, ".reposcout")
}

// DefaultConfigPath returns the default config path:
//
//	~/.reposcout/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(DefaultStateDir(), "config.yaml")
}
