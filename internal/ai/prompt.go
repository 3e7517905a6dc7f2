package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/floegence/reposcout/internal/ai/tools"
)

const artifactShape = "```json\n" + `{
  "task_type": "feature | bug | refactor | chore | docs | test",
  "summary": "One-paragraph summary of what must change.",
  "analysis": "What you learned about the relevant code and why it matters.",
  "approach": "The recommended implementation approach.",
  "files_to_create": [{"path": "...", "purpose": "...", "description": "..."}],
  "files_to_modify": [{"path": "...", "changes": "...", "reason": "..."}],
  "implementation_steps": [{"order": 1, "title": "...", "description": "...", "files": ["..."]}],
  "edge_cases": ["..."],
  "risks": [{"description": "...", "severity": "low | medium | high", "mitigation": "..."}],
  "testing_strategy": "How to verify the change.",
  "metadata": {"confidence": "low | medium | high", "estimated_complexity": "low | medium | high", "dependencies": ["..."], "notes": "..."}
}` + "\n```"

func buildSystemPrompt(ref string, maxIterations int) string {
	core := []string{
		"# Identity & Mandate",
		"You are a senior engineer analyzing a source repository to plan the implementation of a work item.",
		"You cannot modify the repository. You explore it with read-only capabilities, then answer with a structured plan.",
		"",
		"# Capabilities",
		"- list_directory: browse the tree. Start at the root with a small maxDepth.",
		"- search_code: find symbols, strings or patterns. Narrow with filePattern (e.g. \"*.ts,*.tsx\").",
		"- read_file: read a file, or a window of it with startLine/endLine for large files.",
		"- get_imports_exports: see what a module depends on and what it exposes before reading it in full.",
		"",
		"# Rules",
		"- Ground every file path you propose in what you actually observed. Do NOT invent paths.",
		"- Prefer targeted searches and line windows over reading whole large files.",
		"- If a capability returns an error, adjust the arguments or try a different capability.",
		"- Do NOT repeat the same call with identical arguments.",
		"- When you have enough evidence, stop calling capabilities and answer.",
		"",
		"# Final Answer",
		"Reply with exactly one fenced JSON block in this shape and nothing after it:",
		artifactShape,
	}
	runtime := []string{
		"## Current Context",
		fmt.Sprintf("- Repository: %s", ref),
		fmt.Sprintf("- Available capabilities: %s", joinCapabilityNames()),
		fmt.Sprintf("- Iteration budget: %d model turns", maxIterations),
	}
	return strings.Join(core, "\n") + "\n\n" + strings.Join(runtime, "\n")
}

func joinCapabilityNames() string {
	names := make([]string, 0, len(tools.Capabilities))
	for _, c := range tools.Capabilities {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

// maxContextRunes caps caller-supplied context in the opening prompt.
const maxContextRunes = 8000

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "\n... (truncated)"
}

func buildUserPrompt(item WorkItem) string {
	var b strings.Builder
	b.WriteString("# Work Item\n")
	if title := strings.TrimSpace(item.Title); title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	if typ := strings.TrimSpace(item.Type); typ != "" {
		fmt.Fprintf(&b, "Type: %s\n", typ)
	}
	if desc := strings.TrimSpace(item.Description); desc != "" {
		fmt.Fprintf(&b, "\n## Description\n%s\n", desc)
	}
	criteria := make([]string, 0, len(item.AcceptanceCriteria))
	for _, c := range item.AcceptanceCriteria {
		if c = strings.TrimSpace(c); c != "" {
			criteria = append(criteria, "- "+c)
		}
	}
	if len(criteria) > 0 {
		fmt.Fprintf(&b, "\n## Acceptance Criteria\n%s\n", strings.Join(criteria, "\n"))
	}
	if extra := strings.TrimSpace(item.Context); extra != "" {
		fmt.Fprintf(&b, "\n## Additional Context\n%s\n", clipRunes(extra, maxContextRunes))
	}
	fmt.Fprintf(&b, "\nAnalyze %s and produce the implementation plan.", item.Repository.String())
	return b.String()
}

func toolDefs() []ToolDef {
	defs := tools.Definitions()
	out := make([]ToolDef, 0, len(defs))
	for _, d := range defs {
		out = append(out, ToolDef{Name: string(d.Name), Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}
