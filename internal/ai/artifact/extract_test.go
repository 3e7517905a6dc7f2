package artifact

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const fullArtifactJSON = `{
  "task_type": "feature",
  "summary": "Add caching to the search handler",
  "analysis": "Search results are recomputed on every request.",
  "approach": "Introduce an LRU cache keyed by query.",
  "files_to_create": [
    {"path": "internal/search/cache.go", "purpose": "cache", "description": "LRU cache"}
  ],
  "files_to_modify": [
    {"path": "internal/search/handler.go", "changes": "consult cache", "reason": "latency"}
  ],
  "implementation_steps": [
    {"order": 1, "title": "Add cache", "description": "Write the cache type", "files": ["internal/search/cache.go"]},
    {"order": 2, "title": "Wire cache", "description": "Use it in the handler", "files": ["internal/search/handler.go"]}
  ],
  "edge_cases": ["empty query", "cache eviction under load"],
  "risks": [{"description": "stale results", "severity": "low", "mitigation": "short TTL"}],
  "testing_strategy": "Unit test the cache and handler.",
  "metadata": {"confidence": "high", "estimated_complexity": "low", "dependencies": ["hashicorp/golang-lru"], "notes": "none"}
}`

func TestExtract_FencedJSONMatchesDirectParse(t *testing.T) {
	t.Parallel()

	text := "Here is the plan.\n\n```json\n" + fullArtifactJSON + "\n```\n\nLet me know if you need more."
	res := Extract(text)
	if !res.Clean || res.Repaired || res.Source != SourceFence {
		t.Fatalf("clean=%v repaired=%v source=%q err=%v", res.Clean, res.Repaired, res.Source, res.Err)
	}

	var want Artifact
	if err := json.Unmarshal([]byte(fullArtifactJSON), &want); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want.fillDefaults()
	if diff := cmp.Diff(want, res.Artifact); diff != "" {
		t.Fatalf("artifact (-want +got):\n%s", diff)
	}
}

func TestExtract_SelectionOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want Source
	}{
		{name: "fence", text: "```json\n{\"summary\": \"a\"}\n```", want: SourceFence},
		{name: "untagged fence", text: "```\n{\"summary\": \"a\"}\n```", want: SourceFence},
		{name: "open fence", text: "Plan:\n```json\n{\"summary\": \"a\"", want: SourceOpenFence},
		{name: "marker", text: "Using {braces} in prose. {\"task_type\": \"bug\", \"summary\": \"a\"}", want: SourceMarker},
		{name: "brace", text: "Result: {\"other\": 1}", want: SourceBrace},
		{name: "raw", text: "no json here", want: SourceRaw},
	}
	for _, tc := range cases {
		res := Extract(tc.text)
		if res.Source != tc.want {
			t.Fatalf("%s: source=%q, want=%q", tc.name, res.Source, tc.want)
		}
	}
}

func TestExtract_MarkerSkipsLeadingProseBraces(t *testing.T) {
	t.Parallel()

	res := Extract(`I looked at {a few} files. {"task_type": "bug", "summary": "fix nil deref"}`)
	if !res.Clean || res.Artifact.TaskType != "bug" || res.Artifact.Summary != "fix nil deref" {
		t.Fatalf("result=%+v", res)
	}
}

func TestExtract_FenceWithNestedFencesInStrings(t *testing.T) {
	t.Parallel()

	body := `{"summary": "s", "analysis": "run ` + "```go\\nfmt.Println()\\n```" + ` first"}`
	res := Extract("```json\n" + body + "\n```")
	if !res.Clean || res.Repaired {
		t.Fatalf("clean=%v repaired=%v err=%v", res.Clean, res.Repaired, res.Err)
	}
	if !strings.Contains(res.Artifact.Analysis, "fmt.Println()") {
		t.Fatalf("analysis=%q", res.Artifact.Analysis)
	}
}

func TestExtract_TrailingProseDiscarded(t *testing.T) {
	t.Parallel()

	res := Extract(`{"summary": "done"} I hope this helps! {not json}`)
	if !res.Clean || res.Repaired || res.Artifact.Summary != "done" {
		t.Fatalf("result=%+v", res)
	}
}

func TestExtract_TruncatedSummaryIsDropped(t *testing.T) {
	t.Parallel()

	res := Extract("```json\n{\"task_type\": \"feature\", \"summary\": \"Add ca")
	if !res.Clean || !res.Repaired {
		t.Fatalf("clean=%v repaired=%v err=%v", res.Clean, res.Repaired, res.Err)
	}
	if res.Artifact.Summary != "" {
		t.Fatalf("summary=%q, want empty", res.Artifact.Summary)
	}
	if res.Artifact.TaskType != "feature" {
		t.Fatalf("task_type=%q", res.Artifact.TaskType)
	}
}

func TestExtract_TruncatedFirstMemberIsDropped(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"{\"summary\": \"Add ca", "```json\n{\"summary\": \"Add ca"} {
		res := Extract(in)
		if !res.Clean || !res.Repaired {
			t.Fatalf("%q: clean=%v repaired=%v err=%v", in, res.Clean, res.Repaired, res.Err)
		}
		if res.Artifact.Summary != "" {
			t.Fatalf("%q: summary=%q, want empty", in, res.Artifact.Summary)
		}
	}
}

func TestExtract_LongCutValueIsKept(t *testing.T) {
	t.Parallel()

	short := strings.Repeat("a", shortValueRunes-1)
	res := Extract(`{"task_type": "feature", "summary": "ok", "analysis": "` + short)
	if !res.Clean || res.Artifact.Analysis != "" {
		t.Fatalf("short value: clean=%v analysis len=%d, want dropped", res.Clean, len(res.Artifact.Analysis))
	}

	long := strings.Repeat("b", 950)
	res = Extract(`{"task_type": "feature", "summary": "ok", "analysis": "` + long)
	if !res.Clean || !res.Repaired {
		t.Fatalf("long value: clean=%v repaired=%v err=%v", res.Clean, res.Repaired, res.Err)
	}
	if res.Artifact.Summary != "ok" || res.Artifact.Analysis != long {
		t.Fatalf("long value: summary=%q analysis len=%d, want=%d", res.Artifact.Summary, len(res.Artifact.Analysis), len(long))
	}
}

func TestExtract_TruncationsStayParseable(t *testing.T) {
	t.Parallel()

	// Every prefix of a valid document either repairs to valid JSON or, for
	// the shortest prefixes, degrades; none may panic.
	for i := 1; i < len(fullArtifactJSON); i++ {
		prefix := fullArtifactJSON[:i]
		repaired := Repair(prefix)
		if strings.Contains(prefix, `"task_type": "`) && !json.Valid([]byte(repaired)) {
			t.Fatalf("prefix %d not repaired:\n%s\n=>\n%s", i, prefix, repaired)
		}
		_ = Extract(prefix)
	}
}

func TestRepair_Rules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "mid string in array", in: `{"edge_cases": ["a", "b`, want: `{"edge_cases": ["a", "b"]}`},
		{name: "mid nested object", in: `{"metadata": {"confidence": "hi`, want: `{"metadata": {}}`},
		{name: "first member short value", in: `{"summary": "Add ca`, want: `{}`},
		{name: "dangling key", in: `{"a": 1, "ke`, want: `{"a": 1}`},
		{name: "dangling key colon", in: `{"a": 1, "key":`, want: `{"a": 1}`},
		{name: "dangling short value", in: `{"a": 1, "b": "tru`, want: `{"a": 1}`},
		{name: "dangling open array", in: `{"a": 1, "b": [`, want: `{"a": 1}`},
		{name: "dangling open object", in: `{"a": 1, "b": {`, want: `{"a": 1}`},
		{name: "first member open array", in: `{"b": [`, want: `{"b": []}`},
		{name: "first member dangling key", in: `{"ke`, want: `{}`},
		{name: "partial literal", in: `{"a": 1, "b": tr`, want: `{"a": 1}`},
		{name: "partial array literal", in: `{"a": [1, 2, nu`, want: `{"a": [1, 2]}`},
		{name: "trailing comma in array", in: `{"a": [1, 2,`, want: `{"a": [1, 2]}`},
		{name: "trailing comma in object", in: `{"a": "x",`, want: `{"a": "x"}`},
		{name: "truncated escape", in: `{"a": "x", "b": "line\`, want: `{"a": "x"}`},
		{name: "truncated unicode escape", in: `{"a": ["caf\u00`, want: `{"a": ["caf"]}`},
		{name: "truncated step", in: `{"s": [{"order": 1, "title": "x"}, {"order": 2, "ti`, want: `{"s": [{"order": 1, "title": "x"}, {"order": 2}]}`},
		{name: "comma inside string kept", in: `{"a": "x, y", "b": [1,`, want: `{"a": "x, y", "b": [1]}`},
	}
	for _, tc := range cases {
		got := Repair(tc.in)
		if got != tc.want {
			t.Fatalf("%s: Repair(%q)=%q, want=%q", tc.name, tc.in, got, tc.want)
		}
		if !json.Valid([]byte(got)) {
			t.Fatalf("%s: %q is not valid JSON", tc.name, got)
		}
	}
}

func TestExtract_DefaultsFilled(t *testing.T) {
	t.Parallel()

	res := Extract(`{"summary": "s", "implementation_steps": [{"title": "a"}, {"title": "b"}], "risks": [{"description": "r"}]}`)
	if !res.Clean {
		t.Fatalf("err=%v", res.Err)
	}
	a := res.Artifact
	if a.TaskType != DefaultTaskType || a.Metadata.Confidence != DefaultConfidence || a.Metadata.EstimatedComplexity != DefaultComplexity {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if a.FilesToCreate == nil || a.FilesToModify == nil || a.EdgeCases == nil || a.Metadata.Dependencies == nil {
		t.Fatalf("nil slices: %+v", a)
	}
	if a.ImplementationSteps[0].Order != 1 || a.ImplementationSteps[1].Order != 2 {
		t.Fatalf("steps=%+v", a.ImplementationSteps)
	}
	if a.Risks[0].Severity != DefaultSeverity {
		t.Fatalf("risk=%+v", a.Risks[0])
	}
}

func TestExtract_LenientFieldTypes(t *testing.T) {
	t.Parallel()

	res := Extract(`{"summary": 42, "edge_cases": [{"description": "empty input"}, "nil map"], "files_to_create": ["a.go"], "metadata": "high"}`)
	if !res.Clean {
		t.Fatalf("err=%v", res.Err)
	}
	a := res.Artifact
	if a.Summary != "42" {
		t.Fatalf("summary=%q", a.Summary)
	}
	if diff := cmp.Diff([]string{"empty input", "nil map"}, a.EdgeCases); diff != "" {
		t.Fatalf("edge cases (-want +got):\n%s", diff)
	}
	if len(a.FilesToCreate) != 1 || a.FilesToCreate[0].Path != "a.go" {
		t.Fatalf("files_to_create=%+v", a.FilesToCreate)
	}
	if a.Metadata.Confidence != DefaultConfidence {
		t.Fatalf("metadata=%+v", a.Metadata)
	}
}

func TestExtract_Degraded(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 700)
	res := Extract(text)
	if res.Clean || res.Err == nil {
		t.Fatalf("clean=%v err=%v", res.Clean, res.Err)
	}
	a := res.Artifact
	if got := len([]rune(a.Summary)); got != 500 {
		t.Fatalf("summary runes=%d, want=500", got)
	}
	if len(a.Risks) != 1 || a.Risks[0] != degradedRisk {
		t.Fatalf("risks=%+v", a.Risks)
	}
	if a.TaskType != DefaultTaskType || a.FilesToCreate == nil {
		t.Fatalf("degraded artifact not defaulted: %+v", a)
	}

	for _, text := range []string{"", "null", "[1, 2]", "```json\n```", `{"a": }`} {
		if res := Extract(text); res.Clean {
			t.Fatalf("Extract(%q) clean, want degraded", text)
		}
	}
}

func TestProposedFiles(t *testing.T) {
	t.Parallel()

	a := Artifact{
		FilesToCreate: []FileCreate{{Path: "a.go"}, {Path: " "}},
		FilesToModify: []FileModify{{Path: "b.go"}},
	}
	want := []ProposedFile{{Path: "a.go", Action: "create"}, {Path: "b.go", Action: "modify"}}
	if diff := cmp.Diff(want, a.ProposedFiles()); diff != "" {
		t.Fatalf("proposed (-want +got):\n%s", diff)
	}
}
