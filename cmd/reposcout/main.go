// Command reposcout analyzes a repository against a work item and produces an
// implementation plan.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/floegence/reposcout/internal/ai"
	"github.com/floegence/reposcout/internal/ai/sessionstore"
	"github.com/floegence/reposcout/internal/auditlog"
	"github.com/floegence/reposcout/internal/config"
	"github.com/floegence/reposcout/internal/logging"
	"github.com/floegence/reposcout/internal/metrics"
	"github.com/floegence/reposcout/internal/repo"
	"github.com/floegence/reposcout/internal/settings"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

var (
	configPath string
	logFormat  string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "reposcout",
	Short: "Explore a repository and plan the implementation of a work item",
	Long: `reposcout lets a language model explore a repository through read-only
capabilities (list_directory, read_file, search_code, get_imports_exports) and
returns a structured implementation plan.

Examples:
  # Analyze a GitHub repository
  reposcout analyze --repo acme/widgets --title "Add a greeting command"

  # Stream progress as NDJSON while analyzing a local checkout
  reposcout analyze --repo acme/widgets --local . --stream --title "Fix flaky test"

  # Serve the streaming HTTP endpoint and /metrics
  reposcout serve`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.reposcout/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json|text|auto (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "reposcout %s (%s) %s\n", Version, Commit, BuildTime)
	},
}

// app holds what every command needs: config, logger and secrets.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	secrets *settings.SecretsStore
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(logFormat) != "" {
		cfg.LogFormat = logFormat
	}
	if strings.TrimSpace(logLevel) != "" {
		cfg.LogLevel = logLevel
	}
	// Stdout carries results and protocol frames; logs go to stderr.
	log, err := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, secrets: settings.NewSecretsStore(cfg.SecretsPath())}, nil
}

// gateway returns a gateway over a local checkout when localRoot is set, and
// over the GitHub API otherwise.
func (a *app) gateway(localRoot string) (repo.Gateway, error) {
	if root := strings.TrimSpace(localRoot); root != "" {
		return repo.NewLocal(root)
	}
	token, err := a.secrets.ResolveGitHubToken()
	if err != nil {
		return nil, fmt.Errorf("read github token: %w", err)
	}
	if token == "" {
		a.log.Warn("no github token configured, using anonymous access with low rate limits")
	}
	opts := a.cfg.GitHubOptions()
	opts.Token = token
	opts.Logger = a.log
	return repo.NewGitHub(opts)
}

func (a *app) provider() (ai.Provider, error) {
	key, err := a.secrets.ResolveProviderAPIKey(a.cfg.AI.Provider)
	if err != nil {
		return nil, err
	}
	return ai.NewProvider(a.cfg.AI.ProviderConfig(key))
}

// services are the persistent session store and the audit log.
type services struct {
	sessions *sessionstore.Store
	audit    *auditlog.Store
}

func (a *app) openServices() (*services, error) {
	sessions, err := sessionstore.Open(a.cfg.SessionDBPath())
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	audit, err := auditlog.New(auditlog.Options{Logger: a.log, StateDir: a.cfg.StateDir})
	if err != nil {
		_ = sessions.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &services{sessions: sessions, audit: audit}, nil
}

func (s *services) close() {
	if s == nil || s.sessions == nil {
		return
	}
	_ = s.sessions.Close()
}

func (a *app) orchestrator(gw repo.Gateway, svc *services, rec *metrics.Recorder) (*ai.Orchestrator, error) {
	p, err := a.provider()
	if err != nil {
		return nil, err
	}
	opts := ai.Options{
		Provider: p,
		Gateway:  gw,
		Limits:   a.cfg.ToolLimits(),
		Defaults: a.cfg.AI.SessionDefaults(),
		Metrics:  rec,
		Logger:   a.log,
	}
	if svc != nil {
		opts.Sessions = svc.sessions
		opts.Subscribers = append(opts.Subscribers, svc.audit)
	}
	return ai.New(opts)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitCode maps a failed session to a distinct process status.
func exitCode(err error) int {
	var e *ai.Error
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Code {
	case ai.ErrCodeCanceled:
		return 130
	case ai.ErrCodeIterationsExceeded:
		return 3
	case ai.ErrCodeInvalidRequest:
		return 2
	default:
		return 4
	}
}
