package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/floegence/reposcout/internal/repo"
	"github.com/google/go-cmp/cmp"
)

func newTestExecutor(t *testing.T, gw repo.Gateway, limits Limits) *Executor {
	t.Helper()
	ex, err := NewExecutor(ExecutorOptions{Gateway: gw, Ref: repo.Ref{Owner: "acme", Repo: "widgets", Branch: "main"}, Limits: limits})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return ex
}

func entryNames(entries []DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.Type)+":"+e.Name)
	}
	return out
}

func TestListDirectory_ReconstructsHierarchy(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{
		"a/b/c.ts": "c",
		"a/b/d.ts": "d",
		"a/e.ts":   "e",
		"f.ts":     "f",
	})
	ex := newTestExecutor(t, gw, Limits{})

	root, err := ex.listDirectory(context.Background(), map[string]any{"path": ""})
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if diff := cmp.Diff([]string{"dir:a", "file:f.ts"}, entryNames(root.Entries)); diff != "" {
		t.Fatalf("root entries (-want +got):\n%s", diff)
	}

	sub, err := ex.listDirectory(context.Background(), map[string]any{"path": "./a/b/"})
	if err != nil {
		t.Fatalf("list a/b: %v", err)
	}
	if diff := cmp.Diff([]string{"file:c.ts", "file:d.ts"}, entryNames(sub.Entries)); diff != "" {
		t.Fatalf("a/b entries (-want +got):\n%s", diff)
	}
	if sub.Path != "a/b" || sub.Entries[0].Path != "a/b/c.ts" {
		t.Fatalf("paths=%q %q", sub.Path, sub.Entries[0].Path)
	}
	if sub.Entries[0].Size == nil || *sub.Entries[0].Size != 1 {
		t.Fatalf("size=%v, want 1", sub.Entries[0].Size)
	}
}

func TestListDirectory_DepthAndTruncation(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{
		"a/b/c.ts": "c",
		"a/e.ts":   "e",
		"z.ts":     "z",
	})
	ex := newTestExecutor(t, gw, Limits{MaxListEntries: 3})

	res, err := ex.listDirectory(context.Background(), map[string]any{"path": "/", "maxDepth": float64(3)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"dir:a", "dir:a/b", "file:a/b/c.ts"}, entryNames(res.Entries)); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
	if !res.Truncated || res.Total != 5 {
		t.Fatalf("truncated=%v total=%d, want true 5", res.Truncated, res.Total)
	}
}

func TestListDirectory_Errors(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{"a/e.ts": "e"})
	ex := newTestExecutor(t, gw, Limits{})

	_, err := ex.listDirectory(context.Background(), map[string]any{"path": "missing"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want not found", err)
	}
	_, err = ex.listDirectory(context.Background(), map[string]any{"path": "a/e.ts"})
	if te := ClassifyError(CapListDirectory, err); te == nil || te.Code != ErrorCodeInvalidArgs {
		t.Fatalf("err=%v, want invalid args", err)
	}
	_, err = ex.listDirectory(context.Background(), map[string]any{"path": "../etc"})
	if te := ClassifyError(CapListDirectory, err); te == nil || te.Code != ErrorCodeInvalidArgs {
		t.Fatalf("err=%v, want invalid args", err)
	}
}

func TestReadFile_WindowAndNumbering(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{"src/x.ts": "one\ntwo\r\nthree\nfour\n"})
	ex := newTestExecutor(t, gw, Limits{})

	res, err := ex.readFile(context.Background(), map[string]any{"path": "src/x.ts", "startLine": float64(2), "endLine": float64(3)})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "     2\ttwo\n     3\tthree\n"
	if res.Content != want {
		t.Fatalf("content=%q, want=%q", res.Content, want)
	}
	if res.StartLine != 2 || res.EndLine != 3 || res.TotalLines != 4 || res.Language != "typescript" || res.Truncated {
		t.Fatalf("result=%+v", res)
	}

	res, err = ex.readFile(context.Background(), map[string]any{"path": "src/x.ts", "endLine": float64(99)})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.StartLine != 1 || res.EndLine != 4 {
		t.Fatalf("window=%d..%d, want 1..4", res.StartLine, res.EndLine)
	}

	if _, err := ex.readFile(context.Background(), map[string]any{"path": "src/x.ts", "startLine": float64(3), "endLine": float64(2)}); err == nil {
		t.Fatalf("expected error for inverted window")
	}
	if _, err := ex.readFile(context.Background(), map[string]any{"path": "src/x.ts", "startLine": float64(10)}); err == nil {
		t.Fatalf("expected error for start past end")
	}
}

func TestReadFile_ByteCap(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{"big.txt": strings.Repeat("abcdefghi\n", 10)})
	ex := newTestExecutor(t, gw, Limits{MaxFileBytes: 25})

	res, err := ex.readFile(context.Background(), map[string]any{"path": "big.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !res.Truncated {
		t.Fatalf("truncated=false, want true")
	}
	if res.TotalLines != 3 || res.Size != 100 {
		t.Fatalf("lines=%d size=%d, want 3 100", res.TotalLines, res.Size)
	}
	if res.Language != "" {
		t.Fatalf("language=%q, want empty", res.Language)
	}
}

func TestSearchCode_PrefersIndex(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{"src/a.ts": "needle"})
	gw.SearchHits = []repo.SearchHit{
		{Path: "src/a.ts", Fragment: " needle "},
		{Path: "docs/a.md", Fragment: "needle"},
	}
	ex := newTestExecutor(t, gw, Limits{})

	res, err := ex.searchCode(context.Background(), map[string]any{"query": "needle", "filePattern": "*.ts"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := SearchCodeResult{Query: "needle", Source: SearchSourceIndex, Results: []SearchMatch{{Path: "src/a.ts", Fragment: "needle"}}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
	if gw.TreeFetches() != 0 {
		t.Fatalf("tree fetched %d times, want 0", gw.TreeFetches())
	}
}

func TestSearchCode_FallbackScan(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{
		"src/auth.ts":               "import x\nexport function Login() {}\nconst a = 1\n",
		"src/auth.test.tsx":         "login()\n",
		"node_modules/lib/index.ts": "login\n",
		"package-lock.json":         "login",
		"README.md":                 "Login docs\n",
	})
	gw.SearchErr = repo.ErrRateLimited
	ex := newTestExecutor(t, gw, Limits{})

	res, err := ex.searchCode(context.Background(), map[string]any{"query": "LOGIN", "filePattern": "*.ts,*.tsx"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Source != SearchSourceScan || res.Truncated {
		t.Fatalf("source=%q truncated=%v", res.Source, res.Truncated)
	}
	var got []string
	for _, r := range res.Results {
		got = append(got, r.Path)
	}
	if diff := cmp.Diff([]string{"src/auth.test.tsx", "src/auth.ts"}, got); diff != "" {
		t.Fatalf("paths (-want +got):\n%s", diff)
	}
	match := res.Results[1]
	if match.Line != 2 || match.Fragment != "export function Login() {}" {
		t.Fatalf("match=%+v", match)
	}
	wantCtx := []string{"1: import x", "2: export function Login() {}", "3: const a = 1"}
	if diff := cmp.Diff(wantCtx, match.Context); diff != "" {
		t.Fatalf("context (-want +got):\n%s", diff)
	}
	if gw.Reads("node_modules/lib/index.ts") != 0 || gw.Reads("README.md") != 0 {
		t.Fatalf("denied or filtered files were read")
	}
}

func TestSearchCode_FallbackStopsAtCapMidFile(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{
		"a.ts": "hit\nhit\nhit\n",
		"b.ts": "hit\n",
	})
	ex := newTestExecutor(t, gw, Limits{})

	res, err := ex.searchCode(context.Background(), map[string]any{"query": "hit", "maxResults": float64(2)})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Results) != 2 || !res.Truncated {
		t.Fatalf("results=%d truncated=%v, want 2 true", len(res.Results), res.Truncated)
	}
	if res.Results[1].Path != "a.ts" || res.Results[1].Line != 2 {
		t.Fatalf("second result=%+v", res.Results[1])
	}
	if gw.Reads("b.ts") != 0 {
		t.Fatalf("b.ts read after cap was reached")
	}
}

func TestSearchCode_ScanFileLimit(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{"a.ts": "x", "b.ts": "x", "c.ts": "needle"})
	ex := newTestExecutor(t, gw, Limits{MaxScanFiles: 2})

	res, err := ex.searchCode(context.Background(), map[string]any{"query": "needle"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Results) != 0 || !res.ScanLimited {
		t.Fatalf("results=%d scanLimited=%v", len(res.Results), res.ScanLimited)
	}
}

func TestDispatch_RecordsOutcome(t *testing.T) {
	t.Parallel()

	gw := repo.NewMemory(map[string]string{"src/x.ts": "export const x = 1\n"})
	ex := newTestExecutor(t, gw, Limits{})

	ok := ex.Dispatch(context.Background(), "call_1", "read_file", map[string]any{"path": "src/x.ts"})
	if !ok.Succeeded() || ok.Capability != CapReadFile || ok.ID != "call_1" {
		t.Fatalf("call=%+v", ok)
	}
	var out ReadFileResult
	if err := json.Unmarshal(ok.Output, &out); err != nil {
		t.Fatalf("output: %v", err)
	}
	if out.Path != "src/x.ts" || ok.OutputBytes != len(ok.Output) {
		t.Fatalf("output=%+v bytes=%d", out, ok.OutputBytes)
	}

	missing := ex.Dispatch(context.Background(), "call_2", "read_file", map[string]any{"path": "nope.ts"})
	if missing.Error == nil || missing.Error.Code != ErrorCodeNotFound || missing.Output != nil {
		t.Fatalf("call=%+v", missing)
	}
	if !strings.HasPrefix(missing.ResultText(), "Error: ") {
		t.Fatalf("result text=%q", missing.ResultText())
	}

	unknown := ex.Dispatch(context.Background(), "call_3", "write_file", map[string]any{})
	if unknown.Error == nil || unknown.Error.Code != ErrorCodeUnknownCapability {
		t.Fatalf("call=%+v", unknown)
	}
}

func TestParseCapability(t *testing.T) {
	t.Parallel()

	for _, c := range Capabilities {
		got, err := ParseCapability(" " + string(c) + " ")
		if err != nil || got != c {
			t.Fatalf("ParseCapability(%q)=%q, %v", c, got, err)
		}
		def, ok := LookupDefinition(c)
		if !ok || !json.Valid(def.InputSchema) || def.Description == "" {
			t.Fatalf("definition for %q invalid", c)
		}
	}
	_, err := ParseCapability("exec")
	var unknown *UnknownCapabilityError
	if !errors.As(err, &unknown) || unknown.Name != "exec" {
		t.Fatalf("err=%v, want UnknownCapabilityError", err)
	}
}

func TestClassifyError_RepoKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err       error
		code      ErrorCode
		retryable bool
	}{
		{err: repo.ErrNotFound, code: ErrorCodeNotFound},
		{err: repo.ErrAuth, code: ErrorCodeAuth},
		{err: repo.ErrAccessDenied, code: ErrorCodePermissionDenied},
		{err: repo.ErrRateLimited, code: ErrorCodeRateLimited, retryable: true},
		{err: repo.ErrUnavailable, code: ErrorCodeUnavailable, retryable: true},
		{err: context.Canceled, code: ErrorCodeCanceled},
		{err: errors.New("boom"), code: ErrorCodeUnknown},
	}
	for _, tc := range cases {
		te := ClassifyError(CapReadFile, tc.err)
		if te == nil {
			t.Fatalf("ClassifyError(%v)=nil", tc.err)
		}
		if te.Code != tc.code || te.Retryable != tc.retryable {
			t.Fatalf("ClassifyError(%v)=%s/%v, want=%s/%v", tc.err, te.Code, te.Retryable, tc.code, tc.retryable)
		}
		if te.Message == "" {
			t.Fatalf("empty message for %v", tc.err)
		}
	}
	if ClassifyError(CapReadFile, nil) != nil {
		t.Fatalf("ClassifyError(nil) != nil")
	}
}
