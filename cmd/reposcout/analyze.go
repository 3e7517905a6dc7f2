package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/floegence/reposcout/internal/ai"
	"github.com/floegence/reposcout/internal/ai/events"
	"github.com/floegence/reposcout/internal/repo"
)

type analyzeFlags struct {
	repo        string
	local       string
	itemFile    string
	title       string
	description string
	itemType    string
	criteria    []string
	extra       string

	model         string
	maxIterations int

	stream    bool
	format    string
	noPersist bool
}

var analyzeOpts analyzeFlags

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a repository and print an implementation plan",
	Long: `Run one analysis session. The model explores the repository with read-only
capabilities until it answers with a plan or the iteration budget runs out.

The work item comes from flags, from a YAML file (--item), or both; flags win.

Examples:
  reposcout analyze --repo acme/widgets@main --title "Add rate limiting" \
    --criteria "429 after 100 req/min" --criteria "configurable per route"

  reposcout analyze --item task.yaml --format yaml

  reposcout analyze --repo acme/widgets --local ~/src/widgets --stream --title "Fix login"`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeOpts.repo, "repo", "", "Repository as owner/repo[@branch]")
	f.StringVar(&analyzeOpts.local, "local", "", "Read files from this local checkout instead of the GitHub API")
	f.StringVar(&analyzeOpts.itemFile, "item", "", "YAML file describing the work item")
	f.StringVar(&analyzeOpts.title, "title", "", "Work item title")
	f.StringVar(&analyzeOpts.description, "description", "", "Work item description")
	f.StringVar(&analyzeOpts.itemType, "type", "", "Work item type (feature, bug, refactor, ...)")
	f.StringArrayVar(&analyzeOpts.criteria, "criteria", nil, "Acceptance criterion (repeatable)")
	f.StringVar(&analyzeOpts.extra, "context", "", "Additional context for the model")
	f.StringVar(&analyzeOpts.model, "model", "", "Model override")
	f.IntVar(&analyzeOpts.maxIterations, "max-iterations", 0, "Iteration budget override")
	f.BoolVar(&analyzeOpts.stream, "stream", false, "Write events to stdout as NDJSON while the session runs")
	f.StringVar(&analyzeOpts.format, "format", "json", "Result format: json|yaml (ignored with --stream)")
	f.BoolVar(&analyzeOpts.noPersist, "no-persist", false, "Do not record the session in the session store or audit log")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	item, err := analyzeOpts.workItem()
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(analyzeOpts.format))
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown format %q, want json or yaml", analyzeOpts.format)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	gw, err := a.gateway(analyzeOpts.local)
	if err != nil {
		return err
	}
	var svc *services
	if !analyzeOpts.noPersist {
		if svc, err = a.openServices(); err != nil {
			return err
		}
		defer svc.close()
	}
	o, err := a.orchestrator(gw, svc, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	var subs []events.Subscriber
	var stream *events.NDJSONWriter
	if analyzeOpts.stream {
		stream = events.NewNDJSONWriter(out)
		subs = append(subs, stream)
	}

	res, runErr := o.Analyze(ctx, item, ai.SessionConfig{Model: analyzeOpts.model, MaxIterations: analyzeOpts.maxIterations}, subs...)
	if res != nil {
		if stream != nil {
			// Analyze has drained the emitter, so the result is the last line.
			if err := stream.Send(res); err != nil {
				return err
			}
		} else if err := writeResult(out, res, format); err != nil {
			return err
		}
	}
	return runErr
}

func (f analyzeFlags) workItem() (ai.WorkItem, error) {
	var item ai.WorkItem
	if path := strings.TrimSpace(f.itemFile); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return item, fmt.Errorf("read work item: %w", err)
		}
		if err := yaml.Unmarshal(b, &item); err != nil {
			return item, fmt.Errorf("parse work item %s: %w", path, err)
		}
	}
	if strings.TrimSpace(f.repo) != "" {
		ref, err := repo.ParseRef(f.repo)
		if err != nil {
			return item, err
		}
		item.Repository = ref
	}
	if f.title != "" {
		item.Title = f.title
	}
	if f.description != "" {
		item.Description = f.description
	}
	if f.itemType != "" {
		item.Type = f.itemType
	}
	if len(f.criteria) > 0 {
		item.AcceptanceCriteria = f.criteria
	}
	if f.extra != "" {
		item.Context = f.extra
	}
	if item.Repository.Owner == "" {
		return item, fmt.Errorf("missing repository: pass --repo owner/repo or set repository in --item")
	}
	return item, nil
}

func writeResult(w io.Writer, res *ai.Result, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
