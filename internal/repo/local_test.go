package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, root string, rel string, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLocalGateway_TreeAndContent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/index.ts", "export {}\n")
	writeFile(t, root, "README.md", "hi\n")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main\n")

	g, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	nodes, err := g.GetTree(context.Background(), Ref{})
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	var got []string
	for _, n := range nodes {
		got = append(got, string(n.Kind)+":"+n.Path)
	}
	sort.Strings(got)
	want := []string{"dir:src", "file:README.md", "file:src/index.ts"}
	if len(got) != len(want) {
		t.Fatalf("nodes=%v, want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("nodes=%v, want=%v", got, want)
		}
	}

	fc, err := g.GetFileContent(context.Background(), Ref{}, "/src/index.ts")
	if err != nil {
		t.Fatalf("GetFileContent: %v", err)
	}
	if fc.Content != "export {}\n" || fc.Size != 10 {
		t.Fatalf("content=%+v", fc)
	}
	if fc.Hash == "" || len(fc.Hash) != 40 {
		t.Fatalf("hash=%q", fc.Hash)
	}
}

func TestLocalGateway_Errors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/a.ts", "a")
	g, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	_, err = g.GetFileContent(context.Background(), Ref{}, "missing.ts")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want not found", err)
	}
	_, err = g.GetFileContent(context.Background(), Ref{}, "src")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want not found for directory", err)
	}
	_, err = g.GetFileContent(context.Background(), Ref{}, "../../etc/passwd")
	if err == nil {
		t.Fatalf("expected error for path above root")
	}
}

func TestMemoryGateway(t *testing.T) {
	t.Parallel()

	g := NewMemory(map[string]string{"./b.ts": "b", "a/c.ts": "c"})
	nodes, err := g.GetTree(context.Background(), Ref{})
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(nodes) != 2 || nodes[0].Path != "a/c.ts" || nodes[1].Path != "b.ts" {
		t.Fatalf("nodes=%+v", nodes)
	}
	if _, err := g.GetFileContent(context.Background(), Ref{}, "nope"); KindOf(err) != KindNotFound {
		t.Fatalf("err=%v, want not found", err)
	}
	if g.Reads("nope") != 1 || g.TreeFetches() != 1 {
		t.Fatalf("reads=%d tree=%d", g.Reads("nope"), g.TreeFetches())
	}
}
