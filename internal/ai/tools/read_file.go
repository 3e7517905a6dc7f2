package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

type ReadFileResult struct {
	Path       string `json:"path"`
	Language   string `json:"language,omitempty"`
	Content    string `json:"content"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	TotalLines int    `json:"totalLines"`
	Truncated  bool   `json:"truncated"`
	Size       int64  `json:"size"`
}

func (e *Executor) readFile(ctx context.Context, args map[string]any) (ReadFileResult, error) {
	raw, _ := readStringArg(args, "path", "file")
	p, err := normalizeRepoPath(raw)
	if err != nil {
		return ReadFileResult{}, err
	}
	if p == "" {
		return ReadFileResult{}, invalidArgs("path is required")
	}
	start, hasStart := readIntArg(args, "startLine", "start_line")
	end, hasEnd := readIntArg(args, "endLine", "end_line")
	if hasStart && hasEnd && start > end {
		return ReadFileResult{}, invalidArgs(fmt.Sprintf("startLine %d is after endLine %d", start, end))
	}

	fc, err := e.gw.GetFileContent(ctx, e.ref, p)
	if err != nil {
		return ReadFileResult{}, err
	}
	content, truncated := truncateBytes(fc.Content, e.limits.MaxFileBytes)
	lines := splitLines(content)

	out := ReadFileResult{
		Path:       p,
		Language:   DetectLanguage(p),
		TotalLines: len(lines),
		Truncated:  truncated,
		Size:       fc.Size,
	}
	if out.Size == 0 {
		out.Size = int64(len(fc.Content))
	}
	if len(lines) == 0 {
		return out, nil
	}

	if !hasStart || start < 1 {
		start = 1
	}
	if !hasEnd || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return ReadFileResult{}, invalidArgs(fmt.Sprintf("startLine %d is past the end of the file (%d lines)", start, len(lines)))
	}
	if end < start {
		end = start
	}
	out.StartLine = start
	out.EndLine = end
	out.Content = numberLines(lines[start-1:end], start)
	return out, nil
}

// truncateBytes cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncateBytes(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func numberLines(lines []string, first int) string {
	var sb strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&sb, "%6d\t%s\n", first+i, line)
	}
	return sb.String()
}
