package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/floegence/reposcout/internal/auditlog"
)

var (
	auditLimit   int
	auditSession string
	auditJSON    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the audit trail",
	Long: `Print audit entries, newest first. With --session, print one session's
entries in the order they were recorded.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum entries")
	auditCmd.Flags().StringVar(&auditSession, "session", "", "Only entries of this session")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	st, err := auditlog.New(auditlog.Options{Logger: a.log, StateDir: a.cfg.StateDir})
	if err != nil {
		return err
	}

	var entries []auditlog.Entry
	if id := strings.TrimSpace(auditSession); id != "" {
		entries, err = st.ListSession(id, auditLimit)
	} else {
		entries, err = st.List(auditLimit)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if auditJSON {
		return printJSON(out, entries)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tACTION\tSTATUS\tDETAIL")
	for _, e := range entries {
		detail := e.Capability
		if e.Error != "" {
			detail = strings.TrimSpace(detail + " " + ellipsize(e.Error, 60))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt, e.SessionID, e.Action, e.Status, detail)
	}
	return tw.Flush()
}
