package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/floegence/reposcout/internal/ai/sessionstore"
)

var (
	sessionsLimit  int
	sessionsCursor string
	sessionsJSON   bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded analysis sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its capability calls and artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its capability calls",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Page size")
	sessionsListCmd.Flags().StringVar(&sessionsCursor, "cursor", "", "Cursor from a previous page")
	sessionsCmd.PersistentFlags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessionStore() (*sessionstore.Store, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	return sessionstore.Open(a.cfg.SessionDBPath())
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	var cursor sessionstore.SessionsCursor
	if raw := strings.TrimSpace(sessionsCursor); raw != "" {
		c, ok := sessionstore.DecodeCursor(raw)
		if !ok {
			return fmt.Errorf("invalid cursor %q", raw)
		}
		cursor = c
	}
	st, err := openSessionStore()
	if err != nil {
		return err
	}
	defer st.Close()

	list, next, err := st.ListSessions(cmd.Context(), sessionsLimit, cursor)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if sessionsJSON {
		return printJSON(out, map[string]any{"sessions": list, "next_cursor": next})
	}
	printSessionTable(out, list, time.Now())
	if next != "" {
		fmt.Fprintf(out, "\nmore: reposcout sessions list --cursor %s\n", next)
	}
	return nil
}

func printSessionTable(w io.Writer, list []sessionstore.Session, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tPHASE\tREPOSITORY\tTITLE\tITER\tCALLS\tTOKENS\tSTARTED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			s.SessionID,
			s.Phase,
			s.Repository,
			ellipsize(s.Title, 40),
			s.Iterations,
			s.ToolCalls,
			humanize.Comma(s.InputTokens+s.OutputTokens),
			humanize.RelTime(time.UnixMilli(s.CreatedAtUnixMs), now, "ago", "from now"),
		)
	}
	_ = tw.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	st, err := openSessionStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	s, err := st.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("session %s not found", args[0])
	}
	calls, err := st.ListToolCalls(ctx, s.SessionID)
	if err != nil {
		return err
	}
	art, err := s.Artifact()
	if err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		return printJSON(out, map[string]any{"session": s, "tool_calls": calls, "artifact": art})
	}

	fmt.Fprintf(out, "Session:    %s\n", s.SessionID)
	fmt.Fprintf(out, "Title:      %s\n", s.Title)
	fmt.Fprintf(out, "Repository: %s\n", s.Repository)
	fmt.Fprintf(out, "Model:      %s\n", s.Model)
	fmt.Fprintf(out, "Phase:      %s\n", s.Phase)
	if s.ErrorCode != "" {
		fmt.Fprintf(out, "Error:      %s: %s\n", s.ErrorCode, s.Error)
	}
	fmt.Fprintf(out, "Iterations: %d\n", s.Iterations)
	fmt.Fprintf(out, "Tokens:     %s in / %s out\n", humanize.Comma(s.InputTokens), humanize.Comma(s.OutputTokens))
	if s.DurationMs > 0 {
		fmt.Fprintf(out, "Duration:   %s\n", (time.Duration(s.DurationMs) * time.Millisecond).Round(time.Millisecond))
	}

	if len(calls) > 0 {
		fmt.Fprintf(out, "\nCapability calls (%d):\n", len(calls))
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ITER\tCAPABILITY\tINPUT\tOUTPUT\tTIME\tERROR")
		for _, c := range calls {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%dms\t%s\n",
				c.Iteration, c.Capability, ellipsize(c.InputJSON, 60),
				humanize.Bytes(uint64(max(c.OutputBytes, 0))), c.DurationMs, c.ErrorCode)
		}
		_ = tw.Flush()
	}

	if art != nil {
		fmt.Fprintf(out, "\nSummary: %s\n", art.Summary)
		for _, f := range art.FilesToCreate {
			fmt.Fprintf(out, "  + %s\n", f.Path)
		}
		for _, f := range art.FilesToModify {
			fmt.Fprintf(out, "  ~ %s\n", f.Path)
		}
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	st, err := openSessionStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.DeleteSession(context.WithoutCancel(cmd.Context()), args[0])
}

func ellipsize(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
