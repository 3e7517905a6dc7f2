package main

import (
	"github.com/spf13/cobra"

	"github.com/floegence/reposcout/internal/ai/tools"
	"github.com/floegence/reposcout/internal/mcpserver"
	"github.com/floegence/reposcout/internal/repo"
)

var (
	mcpRepo  string
	mcpLocal string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the read-only capabilities of one repository over MCP stdio",
	Long: `Expose list_directory, read_file, search_code and get_imports_exports for one
repository to an MCP client. The protocol runs on stdin/stdout; logs go to stderr.

Example client entry:
  {"command": "reposcout", "args": ["mcp", "--repo", "acme/widgets@main"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpRepo, "repo", "", "Repository as owner/repo[@branch]")
	mcpCmd.Flags().StringVar(&mcpLocal, "local", "", "Read files from this local checkout instead of the GitHub API")
	_ = mcpCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(_ *cobra.Command, _ []string) error {
	ref, err := repo.ParseRef(mcpRepo)
	if err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	gw, err := a.gateway(mcpLocal)
	if err != nil {
		return err
	}
	exec, err := tools.NewExecutor(tools.ExecutorOptions{Gateway: gw, Ref: ref, Limits: a.cfg.ToolLimits(), Logger: a.log})
	if err != nil {
		return err
	}
	s, err := mcpserver.New(mcpserver.Options{Executor: exec, Version: Version, Logger: a.log})
	if err != nil {
		return err
	}
	a.log.Info("mcp server starting", "repository", ref.String())
	return s.ServeStdio()
}
